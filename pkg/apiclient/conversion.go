package apiclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Task mirrors the server's task row.
type Task struct {
	TaskID               string            `json:"taskId"`
	TaskName             string            `json:"taskName"`
	UploadID             string            `json:"uploadId,omitempty"`
	OriginalFileName     string            `json:"originalFileName"`
	OriginalFileSize     int64             `json:"originalFileSize"`
	OutputFileName       string            `json:"outputFileName,omitempty"`
	OutputFileSize       int64             `json:"outputFileSize,omitempty"`
	ConversionParams     map[string]string `json:"conversionParams,omitempty"`
	Status               string            `json:"status"`
	Progress             int               `json:"progress"`
	Speed                float64           `json:"speed,omitempty"`
	EtaSeconds           int64             `json:"etaSeconds,omitempty"`
	MediaDurationSeconds float64           `json:"mediaDurationSeconds,omitempty"`
	CurrentTimeSeconds   float64           `json:"currentTimeSeconds,omitempty"`
	FailureReason        string            `json:"failureReason,omitempty"`
	CreatedAt            time.Time         `json:"createdAt"`
	StartedAt            *time.Time        `json:"startedAt,omitempty"`
	CompletedAt          *time.Time        `json:"completedAt,omitempty"`
}

// GetTaskStatus fetches one task.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.get(ctx, "/api/conversion/status/"+taskID, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SuccessResponse acknowledges a state-changing call.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// CancelTask requests cancellation of a pending or running conversion.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*SuccessResponse, error) {
	var resp SuccessResponse
	if err := c.post(ctx, "/api/conversion/cancel/"+taskID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DownloadTask streams the converted output into destPath. Returns the
// number of bytes written.
func (c *Client) DownloadTask(ctx context.Context, taskID, destPath string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/conversion/download/"+taskID, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	// Bypass the JSON client timeout: large downloads run for a long time
	// and are governed by ctx instead.
	hc := &http.Client{Transport: c.httpClient.Transport}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return 0, decodeAPIError(resp.StatusCode, body)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, fmt.Errorf("download %s: %w", taskID, err)
	}
	return n, nil
}

// TaskPage is one page of task history.
type TaskPage struct {
	Tasks      []*Task `json:"tasks"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	PageSize   int     `json:"pageSize"`
	TotalPages int     `json:"totalPages"`
}

// TaskListOptions filter the task history.
type TaskListOptions struct {
	Page     int
	PageSize int
	Status   string
	Search   string
}

// ListTasks returns a page of tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, opts TaskListOptions) (*TaskPage, error) {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}

	path := "/api/task/list"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page TaskPage
	if err := c.get(ctx, path, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteTask removes a task record and its files.
func (c *Client) DeleteTask(ctx context.Context, taskID string) (*SuccessResponse, error) {
	var resp SuccessResponse
	if err := c.delete(ctx, "/api/task/"+taskID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
