package task

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <taskId>",
	Short: "Cancel a pending or running conversion",
	Long: `Cancel a conversion task.

Pending tasks are removed from the queue; running conversions are stopped
and their partial output is discarded. Completed tasks cannot be
cancelled.

Examples:
  clipforgectl task cancel 4f9d2c`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	result, err := cmdutil.GetClient().CancelTask(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to cancel task %s: %w", args[0], err)
	}

	return cmdutil.PrintResource(os.Stdout, result, fmt.Sprintf("Task %s cancelled", args[0]))
}
