// Package models defines the persisted entities of the transcoding server:
// tasks, settings, and retention records.
package models

import (
	"errors"
	"time"
)

// Domain errors returned by the store layer.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateTask     = errors.New("task already exists")
	ErrRetentionNotFound = errors.New("retention record not found")
)

// TaskStatus is the lifecycle state of a transcoding task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "Pending"
	StatusConverting TaskStatus = "Converting"
	StatusCompleted  TaskStatus = "Completed"
	StatusFailed     TaskStatus = "Failed"
	StatusCancelled  TaskStatus = "Cancelled"
)

// IsTerminal reports whether the status is sticky (no further transitions).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConverting, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task is the unit of transcoding work.
type Task struct {
	// ID is the server-assigned opaque identifier.
	ID string `gorm:"primaryKey;size:64" json:"taskId"`

	// TaskName is the client-visible name, derived from the original file.
	TaskName string `gorm:"size:512" json:"taskName"`

	// UploadID is the client-chosen upload session id that produced this
	// task. Kept for progress identifier reconciliation.
	UploadID string `gorm:"index;size:128" json:"uploadId,omitempty"`

	OriginalFileName string `gorm:"size:512" json:"originalFileName"`
	OriginalFileSize int64  `json:"originalFileSize"`
	OriginalFormat   string `gorm:"size:32" json:"originalFormat"`
	OriginalPath     string `gorm:"size:1024" json:"-"`

	// Fingerprint is the content identity of the original file, as declared
	// at upload init.
	Fingerprint string `gorm:"index;size:64" json:"fingerprint,omitempty"`

	OutputFileName string `gorm:"size:512" json:"outputFileName,omitempty"`
	OutputFileSize int64  `json:"outputFileSize,omitempty"`
	OutputFormat   string `gorm:"size:32" json:"outputFormat,omitempty"`
	OutputPath     string `gorm:"size:1024" json:"-"`

	// ConversionParams are codec/audio/container parameters passed through
	// to the encoder untouched.
	ConversionParams map[string]string `gorm:"serializer:json" json:"conversionParams,omitempty"`

	Status TaskStatus `gorm:"index;size:16" json:"status"`

	// Progress is the integer percent 0..100, non-decreasing while
	// Converting.
	Progress int `json:"progress"`

	// Speed is the encoder speed as a realtime multiple (e.g. 2.5x).
	Speed float64 `json:"speed,omitempty"`

	// EtaSeconds is the estimated remaining encode time.
	EtaSeconds int64 `json:"etaSeconds,omitempty"`

	// MediaDurationSeconds is the source media duration.
	MediaDurationSeconds float64 `json:"mediaDurationSeconds,omitempty"`

	// CurrentTimeSeconds is the encoder's position within the media.
	CurrentTimeSeconds float64 `json:"currentTimeSeconds,omitempty"`

	// FailureReason records why the task failed, for Failed tasks.
	FailureReason string `gorm:"size:2048" json:"failureReason,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TableName returns the table name for Task.
func (Task) TableName() string {
	return "tasks"
}

// Setting stores system-wide key-value settings.
type Setting struct {
	Key       string    `gorm:"primaryKey;size:255" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}

// RetentionRecord tracks one completed download and its scheduled cleanup.
type RetentionRecord struct {
	ID           uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID       string     `gorm:"index;size:64" json:"taskId"`
	FileName     string     `gorm:"size:512" json:"fileName"`
	FileSize     int64      `json:"fileSize"`
	DownloadedAt time.Time  `json:"downloadedAt"`
	CleanupAfter time.Time  `gorm:"index" json:"cleanupAfter"`
	CleanedUp    bool       `gorm:"index" json:"cleanedUp"`
	CleanedUpAt  *time.Time `json:"cleanedUpAt,omitempty"`
	ClientID     string     `gorm:"size:128" json:"clientId,omitempty"`
}

// TableName returns the table name for RetentionRecord.
func (RetentionRecord) TableName() string {
	return "retention_records"
}

// AllModels returns every model for GORM auto-migration.
func AllModels() []any {
	return []any{
		&Task{},
		&Setting{},
		&RetentionRecord{},
	}
}
