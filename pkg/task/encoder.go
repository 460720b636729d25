package task

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/diskspace"
)

// Job describes one encode: where to read, where to write, and the
// conversion parameters chosen by the client.
type Job struct {
	InputPath  string
	OutputPath string
	Params     map[string]string
}

// Runner abstracts the external encoder so the engine can be exercised
// without ffmpeg on the path.
type Runner interface {
	// Probe returns the media duration of the input.
	Probe(ctx context.Context, path string) (time.Duration, error)

	// Run executes the encode, invoking onProgress for each progress block.
	// Cancelling ctx stops the encode; Run then returns ctx.Err().
	Run(ctx context.Context, job Job, onProgress func(Progress)) error
}

// termGracePeriod is how long a cancelled encode gets to exit after
// SIGTERM before it is killed.
const termGracePeriod = 5 * time.Second

// FFmpeg runs encodes through the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	// FFmpegPath and FFprobePath override binary lookup. Empty means
	// "ffmpeg" / "ffprobe" from PATH.
	FFmpegPath  string
	FFprobePath string
}

func (f *FFmpeg) ffmpeg() string {
	if f.FFmpegPath != "" {
		return f.FFmpegPath
	}
	return "ffmpeg"
}

func (f *FFmpeg) ffprobe() string {
	if f.FFprobePath != "" {
		return f.FFprobePath
	}
	return "ffprobe"
}

// Probe reads the container duration via ffprobe.
func (f *FFmpeg) Probe(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ffprobe(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe %s: %w", path, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("probe %s: parse duration: %w", path, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// Run executes the encode with machine-readable progress on stdout.
//
// Cancellation is graceful: SIGTERM first so ffmpeg can finalize trailers,
// SIGKILL only after the grace period.
func (f *FFmpeg) Run(ctx context.Context, job Job, onProgress func(Progress)) error {
	args := buildArgs(job)

	// Detached from ctx on purpose: cancellation is handled below so the
	// process gets SIGTERM before SIGKILL.
	cmd := exec.Command(f.ffmpeg(), args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("encoder stdout: %w", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start encoder: %w", err)
	}
	logger.Debug("encoder started", logger.KeyPath, job.InputPath, "args", strings.Join(args, " "))

	done := make(chan error, 1)
	go func() {
		var state Progress
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			if ParseProgressLine(&state, scanner.Text()) && onProgress != nil {
				onProgress(state)
			}
		}
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("encoder failed: %w: %s", err, tail(stderr.String()))
		}
		return nil

	case <-ctx.Done():
		_ = cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-done:
		case <-time.After(termGracePeriod):
			logger.Warn("encoder ignored SIGTERM, killing", logger.KeyPath, job.InputPath)
			_ = cmd.Process.Kill()
			<-done
		}
		return ctx.Err()
	}
}

// codecEncoders maps wire codec names to ffmpeg encoder names.
var codecEncoders = map[string]string{
	"h264": "libx264",
	"avc":  "libx264",
	"hevc": "libx265",
	"h265": "libx265",
	"av1":  "libsvtav1",
	"vp9":  "libvpx-vp9",
	"copy": "copy",
}

// resolutionFilters maps resolution names to scale filters. -2 keeps the
// aspect ratio with an even width, which every encoder accepts.
var resolutionFilters = map[string]string{
	"480p":  "scale=-2:480",
	"720p":  "scale=-2:720",
	"1080p": "scale=-2:1080",
	"1440p": "scale=-2:1440",
	"2160p": "scale=-2:2160",
	"4k":    "scale=-2:2160",
}

// resolutionFilter resolves a named tier or an explicit WxH form like
// 1920x1080 into a scale filter. Unknown values return ok=false.
func resolutionFilter(resolution string) (string, bool) {
	res := strings.ToLower(resolution)
	if filter, ok := resolutionFilters[res]; ok {
		return filter, true
	}
	w, h, ok := diskspace.ParseDimensions(res)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("scale=%d:%d", w, h), true
}

// buildArgs translates conversion parameters into an ffmpeg invocation.
func buildArgs(job Job) []string {
	args := []string{
		"-hide_banner", "-nostdin",
		"-y",
		"-i", job.InputPath,
		"-progress", "pipe:1",
	}

	p := job.Params
	if enc, ok := codecEncoders[strings.ToLower(p["codec"])]; ok {
		args = append(args, "-c:v", enc)
	}
	if filter, ok := resolutionFilter(p["resolution"]); ok {
		args = append(args, "-vf", filter)
	}
	bitrate := p["videoBitrate"]
	if bitrate == "" {
		bitrate = p["bitrate"]
	}
	if bitrate != "" {
		args = append(args, "-b:v", bitrate)
	}
	if v := p["crf"]; v != "" {
		args = append(args, "-crf", v)
	}
	if v := p["preset"]; v != "" {
		args = append(args, "-preset", v)
	}
	if v := p["fps"]; v != "" {
		args = append(args, "-r", v)
	}
	if v := p["audioCodec"]; v != "" {
		args = append(args, "-c:a", v)
	}
	if v := p["audioBitrate"]; v != "" {
		args = append(args, "-b:a", v)
	}

	return append(args, job.OutputPath)
}

// OutputExtension returns the container extension for a target format,
// falling back to mp4.
func OutputExtension(format string) string {
	switch strings.ToLower(format) {
	case "mkv", "webm", "mov", "avi", "mp4":
		return strings.ToLower(format)
	case "":
		return "mp4"
	default:
		return "mp4"
	}
}

// tail returns the last few lines of encoder stderr for error reporting.
func tail(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, "; ")
}
