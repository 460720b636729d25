// Package task implements conversion task commands for clipforgectl.
package task

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for task management.
var Cmd = &cobra.Command{
	Use:   "task",
	Short: "Conversion task management",
	Long: `Inspect and manage conversion tasks on the ClipForge server.

Examples:
  # List recent tasks
  clipforgectl task list

  # Show one task
  clipforgectl task status 4f9d2c

  # Download the transcoded artifact
  clipforgectl task download 4f9d2c -O movie.mp4

  # Cancel a running conversion
  clipforgectl task cancel 4f9d2c

  # Keep an artifact around longer
  clipforgectl task retain 4f9d2c --hours 48

  # Delete a task and its files
  clipforgectl task delete 4f9d2c`,
}

func init() {
	Cmd.AddCommand(listCmd)
	Cmd.AddCommand(statusCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(deleteCmd)
	Cmd.AddCommand(downloadCmd)
	Cmd.AddCommand(retainCmd)
}
