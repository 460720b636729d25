package session

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/chunkstore"
	"github.com/clipforge/clipforge/pkg/fingerprint"
)

// testChunkSize keeps payloads small while exercising multi-chunk paths.
const testChunkSize = 64

type testEnv struct {
	manager     *Manager
	chunks      *chunkstore.Store
	artifactDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	artifactDir := t.TempDir()

	chunks := chunkstore.New(t.TempDir(), artifactDir)
	m := NewManager(chunks, fingerprint.New(0), Config{
		ArtifactDir: artifactDir,
		ChunkSize:   testChunkSize,
	})
	t.Cleanup(m.Close)

	return &testEnv{manager: m, chunks: chunks, artifactDir: artifactDir}
}

// split slices a payload by the test chunk size.
func split(payload []byte) [][]byte {
	var parts [][]byte
	for off := 0; off < len(payload); off += testChunkSize {
		end := min(off+testChunkSize, len(payload))
		parts = append(parts, payload[off:end])
	}
	return parts
}

func initReq(uploadID, name string, payload []byte) InitRequest {
	return InitRequest{
		UploadID: uploadID,
		FileName: name,
		FileSize: int64(len(payload)),
		FileMD5:  fingerprint.Sum(payload),
	}
}

func TestInit_ComputesChunkGeometry(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("a"), 150) // 3 chunks of 64

	res, err := env.manager.Init(context.Background(), initReq("u-1", "clip.mp4", payload))
	require.NoError(t, err)

	assert.Equal(t, "u-1", res.UploadID)
	assert.Equal(t, int64(testChunkSize), res.ChunkSize)
	assert.Equal(t, 3, res.TotalChunks)
	assert.False(t, res.FileExists)
	assert.Empty(t, res.UploadedChunks)
	assert.Equal(t, 1, env.manager.ActiveCount())

	// Metadata is persisted alongside the chunks
	_, err = os.Stat(env.chunks.SessionDir("u-1") + "/session.json")
	assert.NoError(t, err)
}

func TestInit_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Init(context.Background(), InitRequest{FileName: "a", FileSize: 10})
	assert.Error(t, err) // missing upload id

	_, err = env.manager.Init(context.Background(), InitRequest{UploadID: "u", FileSize: 10})
	assert.Error(t, err) // missing name

	_, err = env.manager.Init(context.Background(), InitRequest{UploadID: "u", FileName: "a"})
	assert.Error(t, err) // missing size
}

func TestInit_RejectsOversizedFile(t *testing.T) {
	chunks := chunkstore.New(t.TempDir(), t.TempDir())
	m := NewManager(chunks, fingerprint.New(0), Config{MaxFileSize: 100})
	defer m.Close()

	_, err := m.Init(context.Background(), InitRequest{UploadID: "u", FileName: "big.mkv", FileSize: 101})
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestUploadLifecycle(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("transcoding "), 20)
	parts := split(payload)

	res, err := env.manager.Init(context.Background(), initReq("u-life", "movie.mkv", payload))
	require.NoError(t, err)
	require.Equal(t, len(parts), res.TotalChunks)

	for i, part := range parts {
		status, err := env.manager.AcceptChunk("u-life", i, part, fingerprint.Sum(part))
		require.NoError(t, err)
		assert.Len(t, status.UploadedChunks, i+1)
	}

	status, err := env.manager.GetStatus("u-life")
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.Empty(t, status.MissingChunks)
	assert.Equal(t, int64(len(payload)), status.UploadedBytes)
	assert.Equal(t, 100, status.Progress)

	artifact, err := env.manager.Complete("u-life")
	require.NoError(t, err)
	assert.Equal(t, "movie.mkv", artifact.FileName)
	assert.Equal(t, fingerprint.Sum(payload), artifact.Fingerprint)

	merged, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, merged)

	// Session is gone: temp dir removed, id unknown
	_, err = os.Stat(env.chunks.SessionDir("u-life"))
	assert.True(t, os.IsNotExist(err))
	_, err = env.manager.GetStatus("u-life")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAcceptChunk_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("b"), 100)
	parts := split(payload)

	_, err := env.manager.Init(context.Background(), initReq("u-idem", "a.mp4", payload))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		status, err := env.manager.AcceptChunk("u-idem", 0, parts[0], "")
		require.NoError(t, err)
		assert.Equal(t, []int{0}, status.UploadedChunks)
	}
}

func TestAcceptChunk_OutOfRange(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("c"), 100) // 2 chunks

	_, err := env.manager.Init(context.Background(), initReq("u-range", "a.mp4", payload))
	require.NoError(t, err)

	_, err = env.manager.AcceptChunk("u-range", 2, []byte("x"), "")
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
	_, err = env.manager.AcceptChunk("u-range", -1, []byte("x"), "")
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

func TestAcceptChunk_IntegrityFailureIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("d"), 100)
	parts := split(payload)

	_, err := env.manager.Init(context.Background(), initReq("u-integ", "a.mp4", payload))
	require.NoError(t, err)

	_, err = env.manager.AcceptChunk("u-integ", 0, parts[0], "bogus-tag")
	assert.ErrorIs(t, err, chunkstore.ErrChunkIntegrity)

	// Retry with the right tag succeeds and the session is unharmed
	status, err := env.manager.AcceptChunk("u-integ", 0, parts[0], fingerprint.Sum(parts[0]))
	require.NoError(t, err)
	assert.Equal(t, []int{0}, status.UploadedChunks)
}

func TestAcceptChunk_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.manager.AcceptChunk("nope", 0, []byte("x"), "")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestComplete_WhileIncomplete(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("e"), 100)
	parts := split(payload)

	_, err := env.manager.Init(context.Background(), initReq("u-part", "a.mp4", payload))
	require.NoError(t, err)
	_, err = env.manager.AcceptChunk("u-part", 0, parts[0], "")
	require.NoError(t, err)

	_, err = env.manager.Complete("u-part")
	assert.ErrorIs(t, err, ErrIncomplete)

	// Session survives the failed Complete
	status, err := env.manager.GetStatus("u-part")
	require.NoError(t, err)
	assert.Equal(t, []int{1}, status.MissingChunks)
}

func TestInit_ResumesMatchingSession(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("f"), 150)
	parts := split(payload)
	req := initReq("u-resume", "resume.mp4", payload)

	_, err := env.manager.Init(context.Background(), req)
	require.NoError(t, err)
	_, err = env.manager.AcceptChunk("u-resume", 0, parts[0], "")
	require.NoError(t, err)

	second, err := env.manager.Init(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "u-resume", second.UploadID)
	assert.Equal(t, []int{0}, second.UploadedChunks)
	assert.Equal(t, 1, env.manager.ActiveCount())
}

func TestInit_ConflictOnParamMismatch(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("g"), 100)
	req := initReq("u-conflict", "conflict.mp4", payload)

	_, err := env.manager.Init(context.Background(), req)
	require.NoError(t, err)

	altered := req
	altered.FileSize = 999
	altered.FileMD5 = "different"
	_, err = env.manager.Init(context.Background(), altered)
	assert.ErrorIs(t, err, ErrSessionConflict)
}

func TestInit_DedupSkipsUpload(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("dedup "), 30)
	parts := split(payload)

	// First upload all the way through
	req := initReq("u-orig", "orig.mp4", payload)
	res, err := env.manager.Init(context.Background(), req)
	require.NoError(t, err)
	for i, part := range parts {
		_, err := env.manager.AcceptChunk("u-orig", i, part, "")
		require.NoError(t, err)
	}
	require.Equal(t, len(parts), res.TotalChunks)
	artifact, err := env.manager.Complete("u-orig")
	require.NoError(t, err)

	// Same content re-announced under a new id: no transfer needed
	again, err := env.manager.Init(context.Background(), initReq("u-again", "copy.mp4", payload))
	require.NoError(t, err)
	assert.True(t, again.FileExists)
	assert.Equal(t, artifact.Path, again.ArtifactPath)
	assert.Equal(t, 1, env.manager.ActiveCount(), "dedup hit must not open a session")
}

func TestAbort_DiscardsSession(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("h"), 100)
	parts := split(payload)

	_, err := env.manager.Init(context.Background(), initReq("u-abort", "abort.mp4", payload))
	require.NoError(t, err)
	_, err = env.manager.AcceptChunk("u-abort", 0, parts[0], "")
	require.NoError(t, err)

	require.NoError(t, env.manager.Abort("u-abort"))

	_, err = os.Stat(env.chunks.SessionDir("u-abort"))
	assert.True(t, os.IsNotExist(err))
	_, err = env.manager.GetStatus("u-abort")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, env.manager.ActiveCount())
}

func TestRecover_RebuildsFromDisk(t *testing.T) {
	tempRoot := t.TempDir()
	artifactDir := t.TempDir()
	chunks := chunkstore.New(tempRoot, artifactDir)
	config := Config{ArtifactDir: artifactDir, ChunkSize: testChunkSize}

	payload := bytes.Repeat([]byte("r"), 150)
	parts := split(payload)
	req := initReq("u-recover", "recover.mp4", payload)

	// First manager stages two of three chunks, then "crashes"
	m1 := NewManager(chunks, fingerprint.New(0), config)
	_, err := m1.Init(context.Background(), req)
	require.NoError(t, err)
	_, err = m1.AcceptChunk("u-recover", 0, parts[0], "")
	require.NoError(t, err)
	_, err = m1.AcceptChunk("u-recover", 2, parts[2], "")
	require.NoError(t, err)
	m1.Close()

	// A stray dir without metadata gets swept
	strayDir := chunks.SessionDir("stray")
	require.NoError(t, os.MkdirAll(strayDir, 0755))

	// Second manager recovers the real session and sweeps the stray
	m2 := NewManager(chunks, fingerprint.New(0), config)
	defer m2.Close()
	n, err := m2.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(strayDir)
	assert.True(t, os.IsNotExist(err))

	status, err := m2.GetStatus("u-recover")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, status.UploadedChunks)
	assert.Equal(t, []int{1}, status.MissingChunks)

	// Finish the upload on the recovered session
	_, err = m2.AcceptChunk("u-recover", 1, parts[1], "")
	require.NoError(t, err)
	artifact, err := m2.Complete("u-recover")
	require.NoError(t, err)

	merged, err := os.ReadFile(artifact.Path)
	require.NoError(t, err)
	assert.Equal(t, payload, merged)
}

// fakeIndex is a canned ArtifactIndex.
type fakeIndex struct {
	path string
	fp   string
	size int64
	err  error
}

func (f *fakeIndex) FindArtifact(_ context.Context, fp string, size int64) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if fp == f.fp && size == f.size {
		return f.path, true, nil
	}
	return "", false, nil
}

func TestInit_DedupQuickFingerprintViaIndex(t *testing.T) {
	artifactDir := t.TempDir()
	chunks := chunkstore.New(t.TempDir(), artifactDir)

	// Threshold of 4 bytes makes every payload here "large".
	fp := fingerprint.New(4)
	payload := []byte("large file payload")
	existing := artifactDir + "/earlier.mkv"
	require.NoError(t, os.WriteFile(existing, payload, 0644))

	// The declared value hashes sender-side metadata; the server can only
	// resolve it through the recorded-fingerprint index.
	declared := "3c1f6ac19a02f5ea4e9b1b2a8f3d4c5e"
	m := NewManager(chunks, fp, Config{
		ArtifactDir: artifactDir,
		ChunkSize:   testChunkSize,
		Index:       &fakeIndex{path: existing, fp: declared, size: int64(len(payload))},
	})
	defer m.Close()

	res, err := m.Init(context.Background(), InitRequest{
		UploadID: "u-quick",
		FileName: "copy.mkv",
		FileSize: int64(len(payload)),
		FileMD5:  declared,
	})
	require.NoError(t, err)
	assert.True(t, res.FileExists)
	assert.Equal(t, existing, res.ArtifactPath)
	assert.Equal(t, 0, m.ActiveCount())
}

func TestInit_IndexMissSkipsContentScanForQuickFingerprints(t *testing.T) {
	artifactDir := t.TempDir()
	chunks := chunkstore.New(t.TempDir(), artifactDir)
	fp := fingerprint.New(4)

	// An artifact with matching size exists, but a quick fingerprint can
	// never be confirmed by rehashing it.
	payload := []byte("large file payload")
	require.NoError(t, os.WriteFile(artifactDir+"/other.mkv", payload, 0644))

	m := NewManager(chunks, fp, Config{
		ArtifactDir: artifactDir,
		ChunkSize:   testChunkSize,
		Index:       &fakeIndex{},
	})
	defer m.Close()

	res, err := m.Init(context.Background(), InitRequest{
		UploadID: "u-miss",
		FileName: "copy.mkv",
		FileSize: int64(len(payload)),
		FileMD5:  "unrecorded-quick-value",
	})
	require.NoError(t, err)
	assert.False(t, res.FileExists)
}

func TestInit_IndexFailureDegradesToUpload(t *testing.T) {
	env := newTestEnv(t)
	env.manager.config.Index = &fakeIndex{err: errors.New("db down")}

	payload := bytes.Repeat([]byte("i"), 100)
	res, err := env.manager.Init(context.Background(), initReq("u-deg", "a.mp4", payload))
	require.NoError(t, err)
	assert.False(t, res.FileExists)
}

func TestIsLive(t *testing.T) {
	env := newTestEnv(t)
	payload := bytes.Repeat([]byte("l"), 100)

	_, err := env.manager.Init(context.Background(), initReq("u-live", "a.mp4", payload))
	require.NoError(t, err)

	assert.True(t, env.manager.IsLive("u-live"))
	assert.False(t, env.manager.IsLive("u-gone"))

	require.NoError(t, env.manager.Abort("u-live"))
	assert.False(t, env.manager.IsLive("u-live"))
}

func TestActiveBatches_TracksSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := bytes.Repeat([]byte("a"), 100)
	b := bytes.Repeat([]byte("b"), 100)
	c := bytes.Repeat([]byte("c"), 100)

	reqA := initReq("u-a", "a.mp4", a)
	reqA.BatchID = "night-batch"
	reqB := initReq("u-b", "b.mp4", b)
	reqB.BatchID = "night-batch"
	reqC := initReq("u-c", "c.mp4", c)
	reqC.BatchID = "day-batch"

	for _, req := range []InitRequest{reqA, reqB, reqC} {
		_, err := env.manager.Init(context.Background(), req)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"day-batch", "night-batch"}, env.manager.ActiveBatches())

	// One member leaving keeps the batch alive; the last one retires it.
	require.NoError(t, env.manager.Abort("u-a"))
	assert.Equal(t, []string{"day-batch", "night-batch"}, env.manager.ActiveBatches())
	require.NoError(t, env.manager.Abort("u-b"))
	assert.Equal(t, []string{"day-batch"}, env.manager.ActiveBatches())
	require.NoError(t, env.manager.Abort("u-c"))
	assert.Empty(t, env.manager.ActiveBatches())
}

func TestRecover_RestoresBatchMembership(t *testing.T) {
	tempRoot := t.TempDir()
	artifactDir := t.TempDir()
	chunks := chunkstore.New(tempRoot, artifactDir)
	config := Config{ArtifactDir: artifactDir, ChunkSize: testChunkSize}

	payload := bytes.Repeat([]byte("r"), 100)
	req := initReq("u-batch-rec", "rec.mp4", payload)
	req.BatchID = "rec-batch"

	m1 := NewManager(chunks, fingerprint.New(0), config)
	_, err := m1.Init(context.Background(), req)
	require.NoError(t, err)
	m1.Close()

	m2 := NewManager(chunks, fingerprint.New(0), config)
	defer m2.Close()
	_, err = m2.Recover()
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-batch"}, m2.ActiveBatches())
}

func TestSessionExpiry_ReclaimsChunks(t *testing.T) {
	chunks := chunkstore.New(t.TempDir(), t.TempDir())
	m := NewManager(chunks, fingerprint.New(0), Config{
		ChunkSize: testChunkSize,
		TTL:       50 * time.Millisecond,
	})
	defer m.Close()

	payload := bytes.Repeat([]byte("x"), 100)
	parts := split(payload)
	_, err := m.Init(context.Background(), initReq("u-expire", "expire.mp4", payload))
	require.NoError(t, err)
	_, err = m.AcceptChunk("u-expire", 0, parts[0], "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := os.Stat(chunks.SessionDir("u-expire"))
		return os.IsNotExist(err)
	}, 5*time.Second, 20*time.Millisecond)

	_, err = m.GetStatus("u-expire")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
