package task

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clipforge/clipforge/cmd/clipforgectl/cmdutil"
	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/pkg/apiclient"
)

var (
	listPage     int
	listPageSize int
	listStatus   string
	listSearch   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversion tasks",
	Long: `List conversion tasks, newest first.

Examples:
  # First page
  clipforgectl task list

  # Only failed tasks
  clipforgectl task list --status Failed

  # Search by file name
  clipforgectl task list --search holiday`,
	RunE: runList,
}

func init() {
	listCmd.Flags().IntVar(&listPage, "page", 1, "Page number")
	listCmd.Flags().IntVar(&listPageSize, "page-size", 20, "Tasks per page")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (Pending|Converting|Completed|Failed|Cancelled)")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Filter by file or task name substring")
}

// TaskList renders a page of tasks as a table.
type TaskList []*apiclient.Task

// Headers implements TableRenderer.
func (tl TaskList) Headers() []string {
	return []string{"TASK ID", "NAME", "FILE", "SIZE", "STATUS", "PROGRESS"}
}

// Rows implements TableRenderer.
func (tl TaskList) Rows() [][]string {
	rows := make([][]string, 0, len(tl))
	for _, t := range tl {
		rows = append(rows, []string{
			t.TaskID,
			t.TaskName,
			t.OriginalFileName,
			bytesize.ByteSize(t.OriginalFileSize).String(),
			t.Status,
			strconv.Itoa(t.Progress) + "%",
		})
	}
	return rows
}

func runList(cmd *cobra.Command, args []string) error {
	page, err := cmdutil.GetClient().ListTasks(context.Background(), apiclient.TaskListOptions{
		Page:     listPage,
		PageSize: listPageSize,
		Status:   listStatus,
		Search:   listSearch,
	})
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}

	return cmdutil.PrintOutput(os.Stdout, page, len(page.Tasks) == 0, "No tasks found.", TaskList(page.Tasks))
}
