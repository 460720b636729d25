package task

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/cli/prompt"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <taskId>",
	Short: "Delete a task and its files",
	Long: `Delete a finished task together with its transcoded artifact and, when
no other task references it, the uploaded original.

Running tasks must be cancelled first.

Examples:
  clipforgectl task delete 4f9d2c

  # Skip the confirmation prompt
  clipforgectl task delete 4f9d2c --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Skip confirmation prompt")
}

func runDelete(cmd *cobra.Command, args []string) error {
	taskID := args[0]

	if !deleteYes {
		ok, err := prompt.Confirm(fmt.Sprintf("Delete task %s and its files?", taskID), false)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Aborted.")
			return nil
		}
	}

	result, err := cmdutil.GetClient().DeleteTask(context.Background(), taskID)
	if err != nil {
		return fmt.Errorf("failed to delete task %s: %w", taskID, err)
	}

	return cmdutil.PrintResource(os.Stdout, result, fmt.Sprintf("Task %s deleted", taskID))
}
