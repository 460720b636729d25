// Package settings implements server settings commands for clipforgectl.
package settings

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for server settings.
var Cmd = &cobra.Command{
	Use:   "settings",
	Short: "Server settings management",
	Long: `Inspect and change runtime server settings.

Examples:
  # Show transfer concurrency limits
  clipforgectl settings concurrency

  # Allow five parallel uploads
  clipforgectl settings concurrency --uploads 5`,
}

func init() {
	Cmd.AddCommand(concurrencyCmd)
}
