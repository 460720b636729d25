package task

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
)

var downloadOutput string

var downloadCmd = &cobra.Command{
	Use:   "download <taskId>",
	Short: "Download the transcoded artifact",
	Long: `Download the transcoded artifact of a completed task.

Downloading starts the artifact's retention clock on the server; once the
retention period elapses the file becomes reclaimable by cleanup sweeps.

Examples:
  # Save under the server-side output name
  clipforgectl task download 4f9d2c

  # Save to an explicit path
  clipforgectl task download 4f9d2c -O ~/Videos/movie.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringVarP(&downloadOutput, "output-file", "O", "", "Destination path (default: server-side output name)")
}

func runDownload(cmd *cobra.Command, args []string) error {
	taskID := args[0]
	client := cmdutil.GetClient()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dest := downloadOutput
	if dest == "" {
		t, err := client.GetTaskStatus(ctx, taskID)
		if err != nil {
			return err
		}
		if t.OutputFileName == "" {
			return fmt.Errorf("task %s has no output yet (status: %s)", taskID, t.Status)
		}
		dest = t.OutputFileName
	}

	written, err := client.DownloadTask(ctx, taskID, dest)
	if err != nil {
		return fmt.Errorf("download failed: %w", err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Downloaded %s to %s", bytesize.ByteSize(written), dest))
	return nil
}
