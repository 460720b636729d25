package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
)

// InitUploadRequest declares a new chunked upload.
type InitUploadRequest struct {
	UploadID          string            `json:"uploadId"`
	FileName          string            `json:"fileName"`
	FileSize          int64             `json:"fileSize"`
	FileMD5           string            `json:"fileMd5"`
	BatchID           string            `json:"batchId,omitempty"`
	ConversionRequest map[string]string `json:"conversionRequest,omitempty"`
}

// InitUploadResponse carries the server-assigned chunk geometry, plus the
// created task when deduplication short-circuited the transfer.
type InitUploadResponse struct {
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	FileExists     bool   `json:"fileExists"`
	UploadedChunks []int  `json:"uploadedChunks"`
	TaskID         string `json:"taskId,omitempty"`
	TaskName       string `json:"taskName,omitempty"`
}

// InitChunkedUpload opens (or resumes) an upload session.
func (c *Client) InitChunkedUpload(ctx context.Context, req InitUploadRequest) (*InitUploadResponse, error) {
	var resp InitUploadResponse
	if err := c.post(ctx, "/api/upload/chunked/init", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChunkResponse acknowledges one accepted chunk.
type ChunkResponse struct {
	ChunkIndex     int `json:"chunkIndex"`
	UploadedChunks int `json:"uploadedChunks"`
	TotalChunks    int `json:"totalChunks"`
	Progress       int `json:"progress"`
}

// UploadChunk sends one chunk payload as multipart form data.
func (c *Client) UploadChunk(ctx context.Context, uploadID string, index, totalChunks int, data []byte, chunkMD5 string) (*ChunkResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"uploadId":    uploadID,
		"chunkIndex":  strconv.Itoa(index),
		"totalChunks": strconv.Itoa(totalChunks),
		"chunkMd5":    chunkMD5,
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("build chunk form: %w", err)
		}
	}
	fw, err := mw.CreateFormFile("chunk", fmt.Sprintf("chunk_%06d", index))
	if err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}
	if _, err := fw.Write(data); err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build chunk form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload/chunked/chunk", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp.StatusCode, respBody)
	}

	var ack ChunkResponse
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &ack, nil
}

// UploadStatus is the resume snapshot for a session.
type UploadStatus struct {
	UploadID       string `json:"uploadId"`
	FileName       string `json:"fileName"`
	TotalChunks    int    `json:"totalChunks"`
	UploadedChunks []int  `json:"uploadedChunks"`
	MissingChunks  []int  `json:"missingChunks"`
	UploadedBytes  int64  `json:"uploadedBytes"`
	TotalBytes     int64  `json:"totalBytes"`
	Progress       int    `json:"progress"`
	Complete       bool   `json:"complete"`
}

// GetUploadStatus fetches the server-side view of a session.
func (c *Client) GetUploadStatus(ctx context.Context, uploadID string) (*UploadStatus, error) {
	var status UploadStatus
	if err := c.get(ctx, "/api/upload/chunked/status/"+uploadID, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// CompleteUploadResponse carries the task created from a finished upload.
type CompleteUploadResponse struct {
	TaskID   string `json:"taskId"`
	TaskName string `json:"taskName"`
	Message  string `json:"message"`
}

// CompleteChunkedUpload finalizes a session and queues the conversion.
func (c *Client) CompleteChunkedUpload(ctx context.Context, uploadID string) (*CompleteUploadResponse, error) {
	var resp CompleteUploadResponse
	if err := c.post(ctx, "/api/upload/chunked/complete/"+uploadID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
