// Package session manages the lifecycle of chunked upload sessions.
//
// A session is opened by Init under a client-chosen upload id, fed by
// AcceptChunk, and finished by Complete, which merges the staged chunks
// into a single artifact and hands its path to the caller. Chunk geometry
// (chunk size, total chunks) is computed server-side from the declared file
// size. Sessions are resumable: chunk receipt is recorded on disk, so a
// client (or a restarted server) can pick up where it left off. Idle
// sessions expire after a TTL and their staged chunks are reclaimed.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	ttlcache "github.com/jellydator/ttlcache/v2"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/chunkstore"
	"github.com/clipforge/clipforge/pkg/fingerprint"
)

var (
	// ErrSessionNotFound is returned for unknown or expired upload ids.
	ErrSessionNotFound = errors.New("upload session not found")

	// ErrSessionConflict is returned when Init is re-sent for a live upload
	// id with different parameters.
	ErrSessionConflict = errors.New("upload session parameter conflict")

	// ErrChunkOutOfRange is returned when a chunk index is outside
	// [0, totalChunks).
	ErrChunkOutOfRange = errors.New("chunk index out of range")

	// ErrIncomplete is returned by Complete while chunks are still missing.
	ErrIncomplete = errors.New("upload session incomplete")

	// ErrFileTooLarge is returned by Init when the declared size exceeds the
	// configured maximum.
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")
)

// Defaults.
const (
	DefaultTTL         = 24 * time.Hour
	DefaultChunkSize   = 50 << 20 // 50 MiB
	DefaultMaxFileSize = 30 << 30 // 30 GiB
)

// metaFileName is the per-session metadata file used for startup recovery.
const metaFileName = "session.json"

// ArtifactIndex resolves a declared fingerprint and size to an existing
// artifact recorded by an earlier upload. *store.GORMStore satisfies this.
//
// Quick fingerprints hash sender-side metadata the server cannot recompute
// from its own files, so the index is the only dedup path for large files.
type ArtifactIndex interface {
	FindArtifact(ctx context.Context, fp string, size int64) (path string, ok bool, err error)
}

// Config tunes the session manager.
type Config struct {
	// ArtifactDir is where merged artifacts land; also the dedup scan root.
	ArtifactDir string

	// Index consults recorded fingerprints for dedup. May be nil, in which
	// case only the content scan of ArtifactDir applies.
	Index ArtifactIndex

	// ChunkSize is the server-assigned chunk size. Zero means
	// DefaultChunkSize.
	ChunkSize int64

	// TTL is the idle session lifetime. Zero means DefaultTTL.
	TTL time.Duration

	// MaxFileSize caps the declared file size. Zero means DefaultMaxFileSize.
	MaxFileSize int64
}

// InitRequest declares a new chunked upload.
type InitRequest struct {
	// UploadID is the client-chosen session identity, unique across active
	// sessions.
	UploadID string `json:"uploadId"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileMD5  string `json:"fileMd5"`

	// BatchID groups related uploads so space-pressure events can address
	// the whole batch. Optional.
	BatchID string `json:"batchId,omitempty"`

	ConversionParams map[string]string `json:"conversionRequest,omitempty"`
}

// InitResult is the outcome of Init.
type InitResult struct {
	UploadID    string `json:"uploadId"`
	ChunkSize   int64  `json:"chunkSize"`
	TotalChunks int    `json:"totalChunks"`

	// FileExists reports a dedup hit: an identical artifact already exists
	// and no bytes need to travel.
	FileExists bool `json:"fileExists"`

	// ArtifactPath is the existing artifact on a dedup hit.
	ArtifactPath string `json:"-"`

	// UploadedChunks lists indices already staged, for resume.
	UploadedChunks []int `json:"uploadedChunks"`
}

// Status is a session's resume snapshot.
type Status struct {
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

// Artifact is the handoff produced by Complete.
type Artifact struct {
	Path             string
	FileName         string
	Size             int64
	Fingerprint      string
	BatchID          string
	ConversionParams map[string]string
}

// sessionMeta is what Init persists alongside the chunks so a restarted
// server can rebuild the session.
type sessionMeta struct {
	UploadID         string            `json:"uploadId"`
	FileName         string            `json:"fileName"`
	FileSize         int64             `json:"fileSize"`
	ChunkSize        int64             `json:"chunkSize"`
	TotalChunks      int               `json:"totalChunks"`
	FileMD5          string            `json:"fileMd5"`
	BatchID          string            `json:"batchId,omitempty"`
	ConversionParams map[string]string `json:"conversionParams,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

// session is the in-memory state for one upload.
type session struct {
	mu   sync.Mutex
	meta sessionMeta

	// received maps chunk index to staged byte count.
	received map[int]int64
}

func (s *session) matches(req InitRequest) bool {
	return s.meta.FileName == req.FileName &&
		s.meta.FileSize == req.FileSize &&
		s.meta.FileMD5 == req.FileMD5
}

func (s *session) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	uploaded := make([]int, 0, len(s.received))
	for idx := range s.received {
		uploaded = append(uploaded, idx)
	}
	sort.Ints(uploaded)

	missing := make([]int, 0, s.meta.TotalChunks-len(uploaded))
	for i := 0; i < s.meta.TotalChunks; i++ {
		if _, ok := s.received[i]; !ok {
			missing = append(missing, i)
		}
	}

	// Accurate bytes from the received set: full chunks count chunk_size,
	// the last chunk counts its actual remainder.
	var bytes int64
	for _, idx := range uploaded {
		if idx == s.meta.TotalChunks-1 {
			bytes += s.meta.FileSize - int64(s.meta.TotalChunks-1)*s.meta.ChunkSize
		} else {
			bytes += s.meta.ChunkSize
		}
	}

	progress := 0
	if s.meta.TotalChunks > 0 {
		progress = len(uploaded) * 100 / s.meta.TotalChunks
	}

	return Status{
		UploadID:       s.meta.UploadID,
		FileName:       s.meta.FileName,
		TotalChunks:    s.meta.TotalChunks,
		UploadedChunks: uploaded,
		MissingChunks:  missing,
		UploadedBytes:  bytes,
		TotalBytes:     s.meta.FileSize,
		Progress:       progress,
		Complete:       len(uploaded) == s.meta.TotalChunks,
	}
}

// Manager owns all live upload sessions.
type Manager struct {
	chunks *chunkstore.Store
	fp     *fingerprint.Service
	config Config

	cache *ttlcache.Cache

	// mu guards batches: upload id -> batch id for live batch members.
	mu      sync.Mutex
	batches map[string]string
}

// NewManager creates a session manager over the given chunk store and
// fingerprint service.
func NewManager(chunks *chunkstore.Store, fp *fingerprint.Service, config Config) *Manager {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultMaxFileSize
	}

	m := &Manager{
		chunks:  chunks,
		fp:      fp,
		config:  config,
		cache:   ttlcache.NewCache(),
		batches: make(map[string]string),
	}
	_ = m.cache.SetTTL(config.TTL)
	m.cache.SetExpirationReasonCallback(func(key string, reason ttlcache.EvictionReason, value interface{}) {
		if reason != ttlcache.Expired {
			return
		}
		m.onExpired(key, value)
	})
	return m
}

// Close stops TTL bookkeeping. Staged chunks stay on disk for recovery.
func (m *Manager) Close() {
	_ = m.cache.Close()
}

// ChunkSize returns the server-assigned chunk size.
func (m *Manager) ChunkSize() int64 {
	return m.config.ChunkSize
}

// Init opens (or resumes) an upload session under the client-chosen id.
//
// Order of checks:
//  1. Dedup against existing artifacts — an identical file short-circuits
//     the whole upload.
//  2. A live session under the same id resumes if the declared parameters
//     match, and conflicts otherwise.
//  3. Otherwise a fresh session is created and its metadata persisted.
func (m *Manager) Init(ctx context.Context, req InitRequest) (*InitResult, error) {
	if err := validateInit(req, m.config.MaxFileSize); err != nil {
		return nil, err
	}
	totalChunks := int((req.FileSize + m.config.ChunkSize - 1) / m.config.ChunkSize)

	if req.FileMD5 != "" {
		if path, ok, err := m.findArtifact(ctx, req.FileMD5, req.FileSize); err != nil {
			return nil, err
		} else if ok {
			logger.Info("instant upload via dedup",
				logger.KeyFileName, req.FileName,
				logger.KeyFingerprint, req.FileMD5,
				logger.KeyPath, path,
			)
			return &InitResult{
				UploadID:       req.UploadID,
				ChunkSize:      m.config.ChunkSize,
				TotalChunks:    totalChunks,
				FileExists:     true,
				ArtifactPath:   path,
				UploadedChunks: []int{},
			}, nil
		}
	}

	if existing, err := m.lookup(req.UploadID); err == nil {
		if !existing.matches(req) {
			return nil, fmt.Errorf("upload %s: %w", req.UploadID, ErrSessionConflict)
		}
		if req.BatchID != "" {
			m.trackBatch(req.UploadID, req.BatchID)
		}
		status := existing.snapshot()
		logger.Info("resuming upload session",
			logger.KeyUploadID, status.UploadID,
			logger.KeyChunks, len(status.UploadedChunks),
		)
		return &InitResult{
			UploadID:       status.UploadID,
			ChunkSize:      existing.meta.ChunkSize,
			TotalChunks:    status.TotalChunks,
			UploadedChunks: status.UploadedChunks,
		}, nil
	}

	meta := sessionMeta{
		UploadID:         req.UploadID,
		FileName:         filepath.Base(req.FileName),
		FileSize:         req.FileSize,
		ChunkSize:        m.config.ChunkSize,
		TotalChunks:      totalChunks,
		FileMD5:          req.FileMD5,
		BatchID:          req.BatchID,
		ConversionParams: req.ConversionParams,
		CreatedAt:        time.Now(),
	}
	if err := m.writeMeta(meta); err != nil {
		return nil, err
	}
	_ = m.cache.Set(meta.UploadID, &session{meta: meta, received: make(map[int]int64)})
	if meta.BatchID != "" {
		m.trackBatch(meta.UploadID, meta.BatchID)
	}

	logger.Info("upload session created",
		logger.KeyUploadID, meta.UploadID,
		logger.KeyFileName, meta.FileName,
		logger.KeySize, meta.FileSize,
		logger.KeyChunks, meta.TotalChunks,
	)
	return &InitResult{
		UploadID:       meta.UploadID,
		ChunkSize:      meta.ChunkSize,
		TotalChunks:    totalChunks,
		UploadedChunks: []int{},
	}, nil
}

// findArtifact resolves a declared fingerprint to an existing artifact.
// The recorded-fingerprint index is consulted first: it covers quick
// fingerprints, which cannot be recomputed server-side. Content
// fingerprints additionally fall back to a scan of the artifact dir.
// Index failures degrade to a miss; dedup is best-effort.
func (m *Manager) findArtifact(ctx context.Context, fp string, size int64) (string, bool, error) {
	if m.config.Index != nil {
		path, ok, err := m.config.Index.FindArtifact(ctx, fp, size)
		if err != nil {
			logger.Warn("fingerprint index lookup failed", logger.KeyError, err)
		} else if ok {
			if info, err := os.Stat(path); err == nil && info.Size() == size {
				return path, true, nil
			}
		}
	}

	if m.fp.IsQuick(size) {
		return "", false, nil
	}
	return m.fp.Match(m.config.ArtifactDir, fp, size)
}

// AcceptChunk stages one chunk payload. Re-sending an index the session
// already holds is a no-op success.
func (m *Manager) AcceptChunk(uploadID string, index int, data []byte, tag string) (*Status, error) {
	sess, err := m.lookup(uploadID)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= sess.meta.TotalChunks {
		return nil, fmt.Errorf("chunk %d of %d: %w", index, sess.meta.TotalChunks, ErrChunkOutOfRange)
	}

	if err := m.chunks.WriteChunk(uploadID, index, data, tag); err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.received[index] = int64(len(data))
	sess.mu.Unlock()

	status := sess.snapshot()
	logger.Debug("chunk accepted",
		logger.KeyUploadID, uploadID,
		logger.KeyChunkIndex, index,
		logger.KeyChunks, len(status.UploadedChunks),
	)
	return &status, nil
}

// GetStatus returns the resume snapshot for a session.
func (m *Manager) GetStatus(uploadID string) (*Status, error) {
	sess, err := m.lookup(uploadID)
	if err != nil {
		return nil, err
	}
	status := sess.snapshot()
	return &status, nil
}

// Complete merges the staged chunks, validates the artifact, and tears the
// session down. Content fingerprints are verified in full; quick
// fingerprints hash sender-side metadata the server cannot reproduce, so
// only the size check applies to them.
func (m *Manager) Complete(uploadID string) (*Artifact, error) {
	sess, err := m.lookup(uploadID)
	if err != nil {
		return nil, err
	}

	status := sess.snapshot()
	if !status.Complete {
		return nil, fmt.Errorf("%d of %d chunks staged: %w",
			len(status.UploadedChunks), status.TotalChunks, ErrIncomplete)
	}

	path, err := m.chunks.Merge(uploadID, sess.meta.TotalChunks, sess.meta.FileName)
	if err != nil {
		return nil, err
	}

	expectedFP := sess.meta.FileMD5
	if m.fp.IsQuick(sess.meta.FileSize) {
		expectedFP = ""
	}
	if err := m.chunks.ValidateFinal(path, sess.meta.FileSize, expectedFP); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	if err := m.chunks.RemoveSession(uploadID); err != nil {
		logger.Warn("failed to remove session temp dir",
			logger.KeyUploadID, uploadID, logger.KeyError, err)
	}
	_ = m.cache.Remove(uploadID)
	m.untrackBatch(uploadID)

	logger.Info("upload session completed",
		logger.KeyUploadID, uploadID,
		logger.KeyFileName, sess.meta.FileName,
		logger.KeyPath, path,
	)
	return &Artifact{
		Path:             path,
		FileName:         sess.meta.FileName,
		Size:             sess.meta.FileSize,
		Fingerprint:      sess.meta.FileMD5,
		BatchID:          sess.meta.BatchID,
		ConversionParams: sess.meta.ConversionParams,
	}, nil
}

// Abort discards a session and its staged chunks.
func (m *Manager) Abort(uploadID string) error {
	if _, err := m.lookup(uploadID); err != nil {
		return err
	}

	if err := m.chunks.RemoveSession(uploadID); err != nil {
		return err
	}
	_ = m.cache.Remove(uploadID)
	m.untrackBatch(uploadID)

	logger.Info("upload session aborted", logger.KeyUploadID, uploadID)
	return nil
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	return m.cache.Count()
}

// IsLive reports whether an upload id has a live session. The probe goes
// through the key list so it never refreshes the session TTL.
func (m *Manager) IsLive(uploadID string) bool {
	for _, key := range m.cache.GetKeys() {
		if key == uploadID {
			return true
		}
	}
	return false
}

// ActiveBatches returns the distinct batch ids with at least one live
// session, for space-pressure fan-out.
func (m *Manager) ActiveBatches() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(m.batches))
	out := make([]string, 0, len(m.batches))
	for _, batchID := range m.batches {
		if _, ok := seen[batchID]; ok {
			continue
		}
		seen[batchID] = struct{}{}
		out = append(out, batchID)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) trackBatch(uploadID, batchID string) {
	m.mu.Lock()
	m.batches[uploadID] = batchID
	m.mu.Unlock()
}

func (m *Manager) untrackBatch(uploadID string) {
	m.mu.Lock()
	delete(m.batches, uploadID)
	m.mu.Unlock()
}

// Recover rebuilds sessions from staged chunk data left by a previous run.
// Directories without readable metadata are swept away. Returns the number
// of sessions recovered.
func (m *Manager) Recover() (int, error) {
	ids, err := m.chunks.ListSessionDirs()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, id := range ids {
		meta, err := m.readMeta(id)
		if err != nil {
			logger.Warn("removing unrecoverable session dir",
				logger.KeyUploadID, id, logger.KeyError, err)
			_ = m.chunks.RemoveSession(id)
			continue
		}

		received, err := m.chunks.ScanChunks(id)
		if err != nil {
			logger.Warn("removing unscannable session dir",
				logger.KeyUploadID, id, logger.KeyError, err)
			_ = m.chunks.RemoveSession(id)
			continue
		}

		_ = m.cache.Set(id, &session{meta: *meta, received: received})
		if meta.BatchID != "" {
			m.trackBatch(id, meta.BatchID)
		}
		recovered++
		logger.Info("recovered upload session",
			logger.KeyUploadID, id,
			logger.KeyFileName, meta.FileName,
			logger.KeyChunks, len(received),
		)
	}
	return recovered, nil
}

// lookup fetches a live session. The cache hit refreshes the TTL, so any
// activity keeps a session alive.
func (m *Manager) lookup(uploadID string) (*session, error) {
	v, err := m.cache.Get(uploadID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uploadID, ErrSessionNotFound)
	}
	return v.(*session), nil
}

// onExpired reclaims the staged chunks of a TTL-expired session.
func (m *Manager) onExpired(uploadID string, value interface{}) {
	sess, ok := value.(*session)
	if !ok {
		return
	}

	logger.Info("upload session expired",
		logger.KeyUploadID, uploadID,
		logger.KeyFileName, sess.meta.FileName,
	)
	m.untrackBatch(uploadID)
	if err := m.chunks.RemoveSession(uploadID); err != nil {
		logger.Warn("failed to reclaim expired session",
			logger.KeyUploadID, uploadID, logger.KeyError, err)
	}
}

func (m *Manager) writeMeta(meta sessionMeta) error {
	dir := m.chunks.SessionDir(meta.UploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0644); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	return nil
}

func (m *Manager) readMeta(uploadID string) (*sessionMeta, error) {
	data, err := os.ReadFile(filepath.Join(m.chunks.SessionDir(uploadID), metaFileName))
	if err != nil {
		return nil, err
	}

	var meta sessionMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode session meta: %w", err)
	}
	if meta.UploadID != uploadID || meta.TotalChunks <= 0 {
		return nil, fmt.Errorf("session meta for %s is inconsistent", uploadID)
	}
	return &meta, nil
}

func validateInit(req InitRequest, maxFileSize int64) error {
	if req.UploadID == "" {
		return errors.New("uploadId is required")
	}
	if req.FileName == "" {
		return errors.New("fileName is required")
	}
	if req.FileSize <= 0 {
		return errors.New("fileSize must be positive")
	}
	if req.FileSize > maxFileSize {
		return fmt.Errorf("%d bytes exceeds limit of %d: %w", req.FileSize, maxFileSize, ErrFileTooLarge)
	}
	return nil
}
