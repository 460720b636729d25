// Package fingerprint computes content-addressed identities for uploaded
// files and drives the "instant upload" dedup check.
//
// Two fingerprint flavors exist:
//   - Content fingerprint: MD5 over the full payload. Used below the quick
//     threshold and on the wire for per-chunk integrity tags.
//   - Quick fingerprint: MD5 over (path, size, mtime). A cheap proxy for
//     large files. The tuple depends on where the file lives, so quick
//     values only dedup through the task store's record of the declared
//     fingerprint, never by rehashing server artifacts.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// DefaultQuickThreshold is the file size at and above which the quick
// fingerprint replaces the full content hash (500 MiB).
const DefaultQuickThreshold = 500 * 1024 * 1024

// Service computes and matches fingerprints.
type Service struct {
	// QuickThreshold is the size boundary for quick fingerprinting.
	// Zero means DefaultQuickThreshold.
	QuickThreshold int64
}

// New creates a fingerprint service. threshold <= 0 selects the default.
func New(threshold int64) *Service {
	if threshold <= 0 {
		threshold = DefaultQuickThreshold
	}
	return &Service{QuickThreshold: threshold}
}

// Compute returns the fingerprint for the file at path, selecting the
// content or quick flavor by the file's size.
func (s *Service) Compute(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if info.Size() >= s.threshold() {
		return quickFingerprint(path, info.Size(), info.ModTime().UnixNano()), nil
	}
	return contentFingerprint(path)
}

// IsQuick reports whether a file of the given size gets a quick fingerprint.
func (s *Service) IsQuick(size int64) bool {
	return size >= s.threshold()
}

func (s *Service) threshold() int64 {
	if s.QuickThreshold <= 0 {
		return DefaultQuickThreshold
	}
	return s.QuickThreshold
}

// Match scans the artifact directory for a file with the given size and
// fingerprint. Returns the matching path, or ok=false when no artifact
// matches. Candidates are pre-filtered by size so fingerprints are only
// computed for plausible matches. Only meaningful for content
// fingerprints: a quick fingerprint recomputed over a server path can
// never equal the client's declared value.
func (s *Service) Match(artifactDir, fp string, size int64) (string, bool, error) {
	entries, err := os.ReadDir(artifactDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("scan artifacts: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() != size {
			continue
		}

		path := filepath.Join(artifactDir, entry.Name())
		candidate, err := s.Compute(path)
		if err != nil {
			continue
		}
		if candidate == fp {
			return path, true, nil
		}
	}
	return "", false, nil
}

// contentFingerprint streams the whole file through MD5.
func contentFingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// quickFingerprint hashes the (path, size, mtime) tuple.
func quickFingerprint(path string, size, mtimeNanos int64) string {
	h := md5.New()
	fmt.Fprintf(h, "%s|%d|%d", path, size, mtimeNanos)
	return hex.EncodeToString(h.Sum(nil))
}

// Sum returns the content fingerprint of an in-memory payload.
// Used for per-chunk integrity tags.
func Sum(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SumReader returns the content fingerprint of a stream.
func SumReader(r io.Reader) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
