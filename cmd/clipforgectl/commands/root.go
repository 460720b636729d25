// Package commands implements the clipforgectl CLI commands.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/cmd/clipforgectl/commands/diskspace"
	"github.com/clipforge/clipforge/cmd/clipforgectl/commands/settings"
	"github.com/clipforge/clipforge/cmd/clipforgectl/commands/task"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "clipforgectl",
	Short: "ClipForge command-line client",
	Long: `clipforgectl is the command-line client for a ClipForge transcoding
server. It uploads source videos in resumable chunks, tracks conversion
tasks, downloads transcoded artifacts, and manages server settings.

The target server is taken from --server, the CLIPFORGE_SERVER environment
variable, or http://localhost:8080.

Use "clipforgectl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.ServerURL, "server", "s", "", "Server URL (default: $CLIPFORGE_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().StringVarP(&cmdutil.Flags.Output, "output", "o", "table", "Output format (table|json|yaml)")
	rootCmd.PersistentFlags().BoolVar(&cmdutil.Flags.NoColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(task.Cmd)
	rootCmd.AddCommand(diskspace.Cmd)
	rootCmd.AddCommand(settings.Cmd)
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
