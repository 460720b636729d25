package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and server version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("clipforgectl %s (commit: %s, built: %s)\n", Version, Commit, Date)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		health, err := cmdutil.GetClient().GetHealth(ctx)
		if err != nil {
			fmt.Printf("server: unreachable (%s)\n", cmdutil.ServerURL())
			return
		}
		fmt.Printf("server: %s (%s, status: %s)\n", health.Version, cmdutil.ServerURL(), health.Status)
	},
}
