package settings

import (
	"context"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/pkg/apiclient"
)

var (
	concurrencyUploads   int
	concurrencyDownloads int
)

var concurrencyCmd = &cobra.Command{
	Use:   "concurrency",
	Short: "Show or change transfer concurrency limits",
	Long: `Show the upload and download pool limits, or change them when flags are
given. Changes apply immediately to new transfers and are persisted
across restarts.

Examples:
  # Show limits and live occupancy
  clipforgectl settings concurrency

  # Allow five parallel uploads and two downloads
  clipforgectl settings concurrency --uploads 5 --downloads 2`,
	RunE: runConcurrency,
}

func init() {
	concurrencyCmd.Flags().IntVar(&concurrencyUploads, "uploads", 0, "Max concurrent uploads")
	concurrencyCmd.Flags().IntVar(&concurrencyDownloads, "downloads", 0, "Max concurrent downloads")
}

// poolTable renders pool stats as a table.
type poolTable map[string]apiclient.PoolStats

// Headers implements TableRenderer.
func (poolTable) Headers() []string {
	return []string{"POOL", "LIMIT", "IN USE", "WAITING"}
}

// Rows implements TableRenderer.
func (pt poolTable) Rows() [][]string {
	rows := make([][]string, 0, len(pt))
	for _, name := range []string{"uploads", "downloads"} {
		stats, ok := pt[name]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(stats.Limit),
			strconv.Itoa(stats.InUse),
			strconv.Itoa(stats.Waiting),
		})
	}
	return rows
}

func runConcurrency(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	client := cmdutil.GetClient()

	var stats map[string]apiclient.PoolStats
	var err error

	if concurrencyUploads > 0 || concurrencyDownloads > 0 {
		stats, err = client.SetConcurrency(ctx, apiclient.ConcurrencySettings{
			MaxConcurrentUploads:   concurrencyUploads,
			MaxConcurrentDownloads: concurrencyDownloads,
		})
		if err == nil {
			cmdutil.PrintSuccess("Concurrency limits updated")
		}
	} else {
		stats, err = client.GetConcurrency(ctx)
	}
	if err != nil {
		return err
	}

	return cmdutil.PrintOutput(os.Stdout, stats, len(stats) == 0, "No pools reported.", poolTable(stats))
}
