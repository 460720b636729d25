package chunkstore

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/fingerprint"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	root := t.TempDir()
	return New(root, root+"/uploads")
}

func TestWriteChunk_RoundTrip(t *testing.T) {
	s := newStore(t)
	data := []byte("chunk payload")

	require.NoError(t, s.WriteChunk("u1", 0, data, ""))

	got, err := os.ReadFile(s.ChunkPath("u1", 0))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestWriteChunk_IntegrityTag(t *testing.T) {
	s := newStore(t)
	data := []byte("chunk payload")

	// Matching tag succeeds
	require.NoError(t, s.WriteChunk("u1", 0, data, fingerprint.Sum(data)))

	// Mismatched tag fails and does not persist
	err := s.WriteChunk("u1", 1, data, "deadbeef")
	require.ErrorIs(t, err, ErrChunkIntegrity)
	_, statErr := os.Stat(s.ChunkPath("u1", 1))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriteChunk_RewriteIsIdempotent(t *testing.T) {
	s := newStore(t)
	data := []byte("same bytes")

	require.NoError(t, s.WriteChunk("u1", 3, data, ""))
	require.NoError(t, s.WriteChunk("u1", 3, data, ""))

	chunks, err := s.ScanChunks("u1")
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, int64(len(data)), chunks[3])
}

func TestScanChunks_EmptyForUnknownSession(t *testing.T) {
	s := newStore(t)
	chunks, err := s.ScanChunks("nope")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMerge_ConcatenatesInOrder(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteChunk("u1", 0, []byte("aaa"), ""))
	require.NoError(t, s.WriteChunk("u1", 1, []byte("bbb"), ""))
	require.NoError(t, s.WriteChunk("u1", 2, []byte("c"), ""))

	path, err := s.Merge("u1", 3, "movie.mkv")
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaabbbc"), got)
	assert.Equal(t, s.ArtifactPath("u1", "movie.mkv"), path)
}

func TestMerge_MissingChunkLeavesNoPartialArtifact(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteChunk("u1", 0, []byte("aaa"), ""))
	// index 1 never written
	require.NoError(t, s.WriteChunk("u1", 2, []byte("ccc"), ""))

	_, err := s.Merge("u1", 3, "movie.mkv")
	require.ErrorIs(t, err, ErrMissingChunk)

	_, statErr := os.Stat(s.ArtifactPath("u1", "movie.mkv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestValidateFinal(t *testing.T) {
	s := newStore(t)
	data := bytes.Repeat([]byte("v"), 100)
	require.NoError(t, s.WriteChunk("u1", 0, data, ""))
	path, err := s.Merge("u1", 1, "f.bin")
	require.NoError(t, err)

	t.Run("size ok, no fingerprint", func(t *testing.T) {
		assert.NoError(t, s.ValidateFinal(path, 100, ""))
	})

	t.Run("size mismatch", func(t *testing.T) {
		assert.ErrorIs(t, s.ValidateFinal(path, 99, ""), ErrSizeMismatch)
	})

	t.Run("fingerprint ok", func(t *testing.T) {
		assert.NoError(t, s.ValidateFinal(path, 100, fingerprint.Sum(data)))
	})

	t.Run("fingerprint mismatch", func(t *testing.T) {
		assert.ErrorIs(t, s.ValidateFinal(path, 100, "0000"), ErrFingerprintMismatch)
	})
}

func TestRemoveSession(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteChunk("u1", 0, []byte("x"), ""))

	require.NoError(t, s.RemoveSession("u1"))

	_, err := os.Stat(s.SessionDir("u1"))
	assert.True(t, os.IsNotExist(err))

	// Removing again is fine
	assert.NoError(t, s.RemoveSession("u1"))
}

func TestListSessionDirs(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteChunk("u1", 0, []byte("x"), ""))
	require.NoError(t, s.WriteChunk("u2", 0, []byte("y"), ""))

	ids, err := s.ListSessionDirs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
}
