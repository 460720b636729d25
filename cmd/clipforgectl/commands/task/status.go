package task

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/internal/cli/output"
	"github.com/clipforge/clipforge/internal/cli/timeutil"
)

var statusCmd = &cobra.Command{
	Use:   "status <taskId>",
	Short: "Show one conversion task",
	Long: `Show the full state of one conversion task.

Examples:
  # Show a task
  clipforgectl task status 4f9d2c

  # As JSON for scripting
  clipforgectl task status 4f9d2c -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	t, err := cmdutil.GetClient().GetTaskStatus(context.Background(), args[0])
	if err != nil {
		return err
	}

	format, err := cmdutil.GetOutputFormatParsed()
	if err != nil {
		return err
	}
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, t)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, t)
	default:
		pairs := [][2]string{
			{"Task ID", t.TaskID},
			{"Name", t.TaskName},
			{"File", t.OriginalFileName},
			{"Size", bytesize.ByteSize(t.OriginalFileSize).String()},
			{"Status", t.Status},
			{"Progress", strconv.Itoa(t.Progress) + "%"},
			{"Created", timeutil.FormatTime(t.CreatedAt.Format(time.RFC3339))},
		}
		if t.Speed > 0 {
			pairs = append(pairs, [2]string{"Speed", fmt.Sprintf("%.2fx", t.Speed)})
		}
		if t.EtaSeconds > 0 {
			pairs = append(pairs, [2]string{"ETA", (time.Duration(t.EtaSeconds) * time.Second).String()})
		}
		if t.OutputFileName != "" {
			pairs = append(pairs, [2]string{"Output", t.OutputFileName})
			pairs = append(pairs, [2]string{"Output size", bytesize.ByteSize(t.OutputFileSize).String()})
		}
		if t.FailureReason != "" {
			pairs = append(pairs, [2]string{"Failure", t.FailureReason})
		}
		if t.CompletedAt != nil {
			pairs = append(pairs, [2]string{"Completed", timeutil.FormatTime(t.CompletedAt.Format(time.RFC3339))})
		}
		return output.SimpleTable(os.Stdout, pairs)
	}
}
