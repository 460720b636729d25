// Package handlers implements the REST endpoints of the transcoding
// server: chunked upload, conversion control, disk budget, cleanup, and
// settings.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/chunkstore"
	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/governor"
	"github.com/clipforge/clipforge/pkg/metrics"
	"github.com/clipforge/clipforge/pkg/pushbus"
	"github.com/clipforge/clipforge/pkg/session"
	"github.com/clipforge/clipforge/pkg/task"
)

// UploadHandler serves the chunked upload protocol.
type UploadHandler struct {
	sessions *session.Manager
	tasks    *task.Engine
	disk     *diskspace.Manager
	resolver *pushbus.Resolver
	metrics  *metrics.Metrics
	governor *governor.Governor

	// maxChunkBody bounds one chunk request body.
	maxChunkBody int64
}

// NewUploadHandler creates the upload endpoint handler. resolver, metrics,
// and gov may be nil.
func NewUploadHandler(sessions *session.Manager, tasks *task.Engine, disk *diskspace.Manager, resolver *pushbus.Resolver, m *metrics.Metrics, gov *governor.Governor, maxChunkBody int64) *UploadHandler {
	if maxChunkBody <= 0 {
		maxChunkBody = 100 << 20 // 100 MiB
	}
	return &UploadHandler{
		sessions:     sessions,
		tasks:        tasks,
		disk:         disk,
		resolver:     resolver,
		metrics:      m,
		governor:     gov,
		maxChunkBody: maxChunkBody,
	}
}

type initRequest struct {
	UploadID          string            `json:"uploadId"`
	FileName          string            `json:"fileName"`
	FileSize          int64             `json:"fileSize"`
	FileMD5           string            `json:"fileMd5"`
	BatchID           string            `json:"batchId"`
	ConversionRequest map[string]string `json:"conversionRequest"`
}

type initResponse struct {
	ChunkSize      int64  `json:"chunkSize"`
	TotalChunks    int    `json:"totalChunks"`
	FileExists     bool   `json:"fileExists"`
	UploadedChunks []int  `json:"uploadedChunks"`
	TaskID         string `json:"taskId,omitempty"`
	TaskName       string `json:"taskName,omitempty"`
}

// Init opens (or resumes) a chunked upload session.
//
// Admission runs first: a file that cannot fit is rejected before any
// bytes travel. A dedup hit bypasses the transfer entirely and creates the
// task immediately.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "malformed init request")
		return
	}

	estimated := h.disk.EstimateOutput(req.FileSize,
		req.ConversionRequest["format"],
		req.ConversionRequest["codec"],
		req.ConversionRequest["resolution"],
	)
	check := h.disk.CheckSpace(req.FileSize, estimated, true)
	if !check.HasEnoughSpace {
		ErrorDetail(w, http.StatusInsufficientStorage, ErrTypeInsufficientSpace, check.Details, map[string]any{
			"requiredSpace":  check.RequiredSpace,
			"availableSpace": check.AvailableSpace,
		})
		return
	}

	res, err := h.sessions.Init(r.Context(), session.InitRequest{
		UploadID:         req.UploadID,
		FileName:         req.FileName,
		FileSize:         req.FileSize,
		FileMD5:          req.FileMD5,
		BatchID:          req.BatchID,
		ConversionParams: req.ConversionRequest,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrFileTooLarge):
			Error(w, http.StatusRequestEntityTooLarge, ErrTypeFileTooLarge, err.Error())
		case errors.Is(err, session.ErrSessionConflict):
			Error(w, http.StatusConflict, ErrTypeChunkedUpload, err.Error())
		default:
			Error(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		}
		return
	}

	resp := initResponse{
		ChunkSize:      res.ChunkSize,
		TotalChunks:    res.TotalChunks,
		FileExists:     res.FileExists,
		UploadedChunks: res.UploadedChunks,
	}

	if res.FileExists {
		// Instant upload: hand the existing artifact to the task engine.
		created, err := h.tasks.Create(r.Context(), task.Spec{
			UploadID:         req.UploadID,
			InputPath:        res.ArtifactPath,
			FileName:         req.FileName,
			FileSize:         req.FileSize,
			Fingerprint:      req.FileMD5,
			ConversionParams: req.ConversionRequest,
		})
		if err != nil {
			Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			return
		}
		h.registerAliases(created.ID, req.UploadID, req.FileName)
		if h.metrics != nil {
			h.metrics.DedupHitsTotal.Inc()
		}
		resp.TaskID = created.ID
		resp.TaskName = created.TaskName
	} else if h.metrics != nil {
		h.metrics.ActiveUploadSessions.Set(float64(h.sessions.ActiveCount()))
	}

	JSON(w, http.StatusOK, resp)
}

type chunkResponse struct {
	ChunkIndex     int `json:"chunkIndex"`
	UploadedChunks int `json:"uploadedChunks"`
	TotalChunks    int `json:"totalChunks"`
	Progress       int `json:"progress"`
}

// Chunk accepts one multipart chunk payload. Chunk writes share the upload
// concurrency pool so a flood of parallel batches cannot starve disk IO.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	if h.governor == nil {
		h.acceptChunk(w, r)
		return
	}
	err := h.governor.Execute(r.Context(), governor.PoolUploads, func() error {
		h.acceptChunk(w, r)
		return nil
	})
	if err != nil {
		Error(w, http.StatusServiceUnavailable, ErrTypeInternal, "upload slot unavailable: "+err.Error())
	}
}

func (h *UploadHandler) acceptChunk(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkBody)
	if err := r.ParseMultipartForm(h.maxChunkBody); err != nil {
		Error(w, http.StatusRequestEntityTooLarge, ErrTypeChunkedUpload, "chunk body too large or malformed")
		return
	}

	uploadID := r.FormValue("uploadId")
	chunkIndex, err := strconv.Atoi(r.FormValue("chunkIndex"))
	if err != nil || uploadID == "" {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "uploadId and chunkIndex are required")
		return
	}
	chunkMD5 := r.FormValue("chunkMd5")

	file, _, err := r.FormFile("chunk")
	if err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "chunk payload is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		Error(w, http.StatusBadRequest, ErrTypeChunkedUpload, "failed to read chunk payload")
		return
	}

	status, err := h.sessions.AcceptChunk(uploadID, chunkIndex, data, chunkMD5)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			Error(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
		case errors.Is(err, session.ErrChunkOutOfRange):
			Error(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		case errors.Is(err, chunkstore.ErrChunkIntegrity):
			Error(w, http.StatusUnprocessableEntity, ErrTypeChunkIntegrity, err.Error())
		default:
			Error(w, http.StatusInternalServerError, ErrTypeChunkedUpload, err.Error())
		}
		return
	}

	if h.metrics != nil {
		h.metrics.ChunksReceivedTotal.Inc()
		h.metrics.UploadBytesTotal.Add(float64(len(data)))
	}

	JSON(w, http.StatusOK, chunkResponse{
		ChunkIndex:     chunkIndex,
		UploadedChunks: len(status.UploadedChunks),
		TotalChunks:    status.TotalChunks,
		Progress:       status.Progress,
	})
}

// Status returns the resume snapshot for a session.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	status, err := h.sessions.GetStatus(uploadID)
	if err != nil {
		Error(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
		return
	}
	JSON(w, http.StatusOK, status)
}

type completeResponse struct {
	TaskID   string `json:"taskId"`
	TaskName string `json:"taskName"`
	Message  string `json:"message"`
}

// Complete merges the session and hands the artifact to the task engine.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	uploadID := chi.URLParam(r, "uploadId")

	artifact, err := h.sessions.Complete(uploadID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			Error(w, http.StatusNotFound, ErrTypeNotFound, err.Error())
		case errors.Is(err, session.ErrIncomplete):
			Error(w, http.StatusConflict, ErrTypeChunkedUpload, err.Error())
		case errors.Is(err, chunkstore.ErrSizeMismatch), errors.Is(err, chunkstore.ErrFingerprintMismatch):
			Error(w, http.StatusUnprocessableEntity, ErrTypeChunkIntegrity, err.Error())
		default:
			Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		}
		return
	}

	h.disk.UpdateUsage(artifact.Size, diskspace.CategoryUpload)

	created, err := h.tasks.Create(r.Context(), task.Spec{
		UploadID:         uploadID,
		InputPath:        artifact.Path,
		FileName:         artifact.FileName,
		FileSize:         artifact.Size,
		Fingerprint:      artifact.Fingerprint,
		ConversionParams: artifact.ConversionParams,
	})
	if err != nil {
		Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	h.registerAliases(created.ID, uploadID, artifact.FileName)

	if h.metrics != nil {
		h.metrics.ActiveUploadSessions.Set(float64(h.sessions.ActiveCount()))
	}
	logger.Info("upload handed off to conversion",
		logger.KeyUploadID, uploadID,
		logger.KeyTaskID, created.ID,
	)

	JSON(w, http.StatusOK, completeResponse{
		TaskID:   created.ID,
		TaskName: created.TaskName,
		Message:  fmt.Sprintf("upload complete, conversion queued as %s", created.TaskName),
	})
}

// registerAliases lets push subscribers find the task by the identifiers
// they knew before the server id existed.
func (h *UploadHandler) registerAliases(taskID, uploadID, fileName string) {
	if h.resolver == nil {
		return
	}
	h.resolver.Register(taskID, pushbus.Aliases{
		ClientToken: uploadID,
		FileName:    fileName,
	})
}
