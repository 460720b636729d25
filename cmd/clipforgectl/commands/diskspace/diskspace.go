// Package diskspace implements disk budget commands for clipforgectl.
package diskspace

import (
	"github.com/spf13/cobra"
)

// Cmd is the parent command for disk budget management.
var Cmd = &cobra.Command{
	Use:   "diskspace",
	Short: "Disk budget management",
	Long: `Inspect and configure the server's disk space budget.

The budget caps the bytes ClipForge may hold across uploads, outputs, and
staging. Uploads that would exceed it are refused up front.

Examples:
  # Show live usage
  clipforgectl diskspace usage

  # Pre-flight a 4 GiB upload
  clipforgectl diskspace check 4Gi

  # Show and change the budget
  clipforgectl diskspace config
  clipforgectl diskspace config --max 200 --reserved 10`,
}

func init() {
	Cmd.AddCommand(usageCmd)
	Cmd.AddCommand(checkCmd)
	Cmd.AddCommand(configCmd)
}
