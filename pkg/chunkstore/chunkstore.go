// Package chunkstore persists uploaded chunk blobs and merges them into a
// single artifact once a session completes.
//
// Layout:
//   - chunks: <tempRoot>/chunked_uploads/<uploadID>/chunk_<index:06d>
//   - artifacts: <artifactDir>/<uploadID>_<fileName>
//
// Chunk writes are atomic (write to a temp name, then rename) so a re-sent
// chunk either fully replaces the previous payload or leaves it untouched.
// Merge is deterministic from the persisted chunk set, which keeps per-chunk
// upload idempotent and crash-safe.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/fingerprint"
)

// mergeBufferSize is the streaming copy buffer used during merge.
const mergeBufferSize = 1 << 20 // 1 MiB

// chunkFilePrefix is the on-disk chunk file name prefix.
const chunkFilePrefix = "chunk_"

var (
	// ErrChunkIntegrity is returned when a chunk's integrity tag does not
	// match its payload. The client is expected to retry that chunk.
	ErrChunkIntegrity = errors.New("chunk integrity mismatch")

	// ErrMissingChunk is returned by Merge when an index is absent.
	ErrMissingChunk = errors.New("missing chunk")

	// ErrSizeMismatch is returned by ValidateFinal when the merged artifact
	// size differs from the declared total.
	ErrSizeMismatch = errors.New("artifact size mismatch")

	// ErrFingerprintMismatch is returned by ValidateFinal when full
	// verification is enabled and the content hash differs.
	ErrFingerprintMismatch = errors.New("artifact fingerprint mismatch")
)

// Store stages chunk blobs under a temp root and merges them into the
// artifact directory.
type Store struct {
	tempRoot    string
	artifactDir string
}

// New creates a chunk store rooted at the given directories.
func New(tempRoot, artifactDir string) *Store {
	return &Store{tempRoot: tempRoot, artifactDir: artifactDir}
}

// UploadRoot returns the directory holding all session temp directories.
func (s *Store) UploadRoot() string {
	return filepath.Join(s.tempRoot, "chunked_uploads")
}

// SessionDir returns the temp directory for one upload session.
func (s *Store) SessionDir(uploadID string) string {
	return filepath.Join(s.UploadRoot(), uploadID)
}

// ChunkPath returns the path of a chunk blob within a session.
func (s *Store) ChunkPath(uploadID string, index int) string {
	return filepath.Join(s.SessionDir(uploadID), fmt.Sprintf("%s%06d", chunkFilePrefix, index))
}

// ArtifactPath returns the merged artifact path for a session.
func (s *Store) ArtifactPath(uploadID, fileName string) string {
	return filepath.Join(s.artifactDir, uploadID+"_"+filepath.Base(fileName))
}

// WriteChunk persists one chunk payload. When tag is non-empty it is
// compared against the payload's MD5 before anything touches disk.
//
// Writes are atomic: a concurrent re-send of the same index ends with one
// complete copy of the payload.
func (s *Store) WriteChunk(uploadID string, index int, data []byte, tag string) error {
	if tag != "" && fingerprint.Sum(data) != tag {
		return fmt.Errorf("chunk %d of %s: %w", index, uploadID, ErrChunkIntegrity)
	}

	dir := s.SessionDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	final := s.ChunkPath(uploadID, index)
	tmp, err := os.CreateTemp(dir, fmt.Sprintf(".chunk_%06d_*", index))
	if err != nil {
		return fmt.Errorf("create chunk temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write chunk %d: %w", index, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close chunk %d: %w", index, err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("commit chunk %d: %w", index, err)
	}
	return nil
}

// ScanChunks returns the persisted chunk indices for a session and their
// sizes. Used for resume status and for rebuilding sessions on startup.
func (s *Store) ScanChunks(uploadID string) (map[int]int64, error) {
	entries, err := os.ReadDir(s.SessionDir(uploadID))
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]int64{}, nil
		}
		return nil, fmt.Errorf("scan session %s: %w", uploadID, err)
	}

	chunks := make(map[int]int64, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, chunkFilePrefix) {
			continue
		}
		index, err := strconv.Atoi(strings.TrimPrefix(name, chunkFilePrefix))
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		chunks[index] = info.Size()
	}
	return chunks, nil
}

// Merge concatenates chunks 0..totalChunks-1 in index order into the
// artifact path for the session. The artifact is assembled under a temp
// name and renamed on success, so a failed merge never leaves a partial
// artifact behind.
func (s *Store) Merge(uploadID string, totalChunks int, fileName string) (string, error) {
	if err := os.MkdirAll(s.artifactDir, 0755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	// Verify the full set before writing anything.
	for i := 0; i < totalChunks; i++ {
		if _, err := os.Stat(s.ChunkPath(uploadID, i)); err != nil {
			return "", fmt.Errorf("chunk %d of %s: %w", i, uploadID, ErrMissingChunk)
		}
	}

	final := s.ArtifactPath(uploadID, fileName)
	tmp, err := os.CreateTemp(s.artifactDir, "."+uploadID+"_merge_*")
	if err != nil {
		return "", fmt.Errorf("create merge temp file: %w", err)
	}
	tmpName := tmp.Name()

	buf := make([]byte, mergeBufferSize)
	for i := 0; i < totalChunks; i++ {
		if err := appendChunk(tmp, s.ChunkPath(uploadID, i), buf); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
			return "", fmt.Errorf("merge chunk %d of %s: %w", i, uploadID, err)
		}
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close merged artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("commit merged artifact: %w", err)
	}

	logger.Debug("merged upload session",
		logger.KeyUploadID, uploadID,
		logger.KeyChunks, totalChunks,
		logger.KeyPath, final,
	)
	return final, nil
}

func appendChunk(dst io.Writer, chunkPath string, buf []byte) error {
	f, err := os.Open(chunkPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	_, err = io.CopyBuffer(dst, f, buf)
	return err
}

// ValidateFinal checks the merged artifact against the declared size and,
// when expectedFingerprint is non-empty, its full content hash. The size
// check is mandatory; fingerprint verification costs a full read and is
// opt-in (and meaningless for quick fingerprints, which hash metadata the
// server does not share with the sender).
func (s *Store) ValidateFinal(path string, expectedSize int64, expectedFingerprint string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}
	if info.Size() != expectedSize {
		return fmt.Errorf("artifact %s: have %d bytes, want %d: %w",
			path, info.Size(), expectedSize, ErrSizeMismatch)
	}

	if expectedFingerprint == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	actual, err := fingerprint.SumReader(f)
	if err != nil {
		return fmt.Errorf("hash artifact: %w", err)
	}
	if actual != expectedFingerprint {
		return fmt.Errorf("artifact %s: %w", path, ErrFingerprintMismatch)
	}
	return nil
}

// RemoveSession deletes a session's temp directory and all staged chunks.
func (s *Store) RemoveSession(uploadID string) error {
	return os.RemoveAll(s.SessionDir(uploadID))
}

// ListSessionDirs returns the upload ids that have staged chunk data on
// disk. Used on startup to rebuild resumable sessions.
func (s *Store) ListSessionDirs() ([]string, error) {
	entries, err := os.ReadDir(s.UploadRoot())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan upload root: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}
