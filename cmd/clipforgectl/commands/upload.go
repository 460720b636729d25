package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/pkg/uploader"
)

var (
	uploadFormat     string
	uploadCodec      string
	uploadResolution string
	uploadBitrate    string
	uploadWorkers    int
	uploadID         string
	uploadBatchID    string
	uploadQuiet      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a video for transcoding",
	Long: `Upload a video file in resumable chunks and queue a conversion task.

The file is fingerprinted before transfer; if the server already holds an
identical file the upload is skipped entirely and a task is created from
the existing copy. Interrupted uploads resume from the last acknowledged
chunk when the same file is uploaded again.

Examples:
  # Transcode to mp4 with defaults
  clipforgectl upload movie.mkv --format mp4

  # Pick codec and resolution
  clipforgectl upload movie.mkv --format mp4 --codec h265 --resolution 1280x720

  # Resume under an explicit session id
  clipforgectl upload movie.mkv --format mp4 --upload-id movie-night

  # Group several uploads under one batch for space pause/resume events
  clipforgectl upload movie.mkv --format mp4 --batch-id movie-night`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadFormat, "format", "mp4", "Target container format")
	uploadCmd.Flags().StringVar(&uploadCodec, "codec", "", "Target video codec (e.g. h264, h265)")
	uploadCmd.Flags().StringVar(&uploadResolution, "resolution", "", "Target resolution (e.g. 1920x1080)")
	uploadCmd.Flags().StringVar(&uploadBitrate, "bitrate", "", "Target video bitrate (e.g. 2M)")
	uploadCmd.Flags().IntVar(&uploadWorkers, "workers", 0, "Parallel chunk uploads (default: 4)")
	uploadCmd.Flags().StringVar(&uploadID, "upload-id", "", "Explicit upload session id (default: file fingerprint)")
	uploadCmd.Flags().StringVar(&uploadBatchID, "batch-id", "", "Batch group id for space pause/resume events")
	uploadCmd.Flags().BoolVarP(&uploadQuiet, "quiet", "q", false, "Suppress the progress line")
}

func runUpload(cmd *cobra.Command, args []string) error {
	filePath := args[0]

	conversion := map[string]string{"format": uploadFormat}
	if uploadCodec != "" {
		conversion["codec"] = uploadCodec
	}
	if uploadResolution != "" {
		conversion["resolution"] = uploadResolution
	}
	if uploadBitrate != "" {
		conversion["bitrate"] = uploadBitrate
	}

	opts := uploader.Options{
		Workers:  uploadWorkers,
		UploadID: uploadID,
		BatchID:  uploadBatchID,
	}
	if !uploadQuiet {
		opts.OnProgress = printProgress
	}

	// Ctrl+C aborts the transfer; the session survives server-side for
	// a later resume.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	up := uploader.New(cmdutil.GetClient(), opts)
	result, err := up.Upload(ctx, filePath, conversion)
	if !uploadQuiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	if result.Deduplicated {
		cmdutil.PrintSuccess("File already on server, conversion queued without transfer")
	} else {
		cmdutil.PrintSuccess(fmt.Sprintf("Uploaded %s", bytesize.ByteSize(result.BytesSent)))
	}
	return cmdutil.PrintResource(os.Stdout, result,
		fmt.Sprintf("Task %s (%s) queued\nFollow it with: clipforgectl task status %s", result.TaskID, result.TaskName, result.TaskID))
}

// printProgress renders a single carriage-return progress line on stderr.
func printProgress(p uploader.Progress) {
	fmt.Fprintf(os.Stderr, "\r%s  %3.0f%%  (%d/%d chunks, %s/%s)",
		p.FileName, p.Percent,
		p.UploadedChunks, p.TotalChunks,
		bytesize.ByteSize(p.UploadedBytes), bytesize.ByteSize(p.TotalBytes))
}
