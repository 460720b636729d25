package task

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
)

var retainHours int

var retainCmd = &cobra.Command{
	Use:   "retain <taskId>",
	Short: "Extend artifact retention",
	Long: `Extend the retention window of a downloaded artifact so cleanup sweeps
keep it around longer.

Examples:
  # Keep the artifact for another 48 hours
  clipforgectl task retain 4f9d2c --hours 48`,
	Args: cobra.ExactArgs(1),
	RunE: runRetain,
}

func init() {
	retainCmd.Flags().IntVar(&retainHours, "hours", 24, "Hours to extend retention by")
}

func runRetain(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	if err := cmdutil.GetClient().ExtendRetention(context.Background(), taskID, retainHours); err != nil {
		return fmt.Errorf("failed to extend retention for task %s: %w", taskID, err)
	}

	cmdutil.PrintSuccess(fmt.Sprintf("Retention for task %s extended by %d hours", taskID, retainHours))
	return nil
}
