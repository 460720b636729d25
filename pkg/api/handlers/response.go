package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the structured error payload every failing endpoint
// returns. ErrorType is a stable machine-readable tag; Message is for
// humans. Detail carries error-specific fields (e.g. requiredSpace).
type ErrorBody struct {
	ErrorType string         `json:"errorType"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Stable errorType tags.
const (
	ErrTypeValidation        = "ValidationError"
	ErrTypeInsufficientSpace = "InsufficientDiskSpace"
	ErrTypeFileTooLarge      = "FileTooLarge"
	ErrTypeChunkedUpload     = "ChunkedUploadError"
	ErrTypeChunkIntegrity    = "ChunkIntegrity"
	ErrTypeNotFound          = "NotFound"
	ErrTypeIllegalState      = "IllegalState"
	ErrTypeCancelled         = "Cancelled"
	ErrTypeInternal          = "InternalError"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone; this is best effort.
		http.Error(w, `{"errorType":"InternalError","message":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a structured error response.
func Error(w http.ResponseWriter, status int, errorType, message string) {
	JSON(w, status, ErrorBody{ErrorType: errorType, Message: message})
}

// ErrorDetail writes a structured error response with extra fields.
func ErrorDetail(w http.ResponseWriter, status int, errorType, message string, detail map[string]any) {
	JSON(w, status, ErrorBody{ErrorType: errorType, Message: message, Detail: detail})
}
