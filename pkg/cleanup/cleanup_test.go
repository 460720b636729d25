package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/store/models"
)

type cleanupEnv struct {
	engine    *Engine
	store     *store.GORMStore
	uploadDir string
	outputDir string
	tempRoot  string
	logDir    string
}

func newCleanupEnv(t *testing.T) *cleanupEnv {
	t.Helper()

	st, err := store.New(&store.Config{
		Type:   store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{Path: filepath.Join(t.TempDir(), "cleanup.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	env := &cleanupEnv{
		store:     st,
		uploadDir: t.TempDir(),
		outputDir: t.TempDir(),
		tempRoot:  t.TempDir(),
		logDir:    t.TempDir(),
	}
	env.engine = NewEngine(st, nil, nil, Config{
		TempRoot:  env.tempRoot,
		UploadDir: env.uploadDir,
		OutputDir: env.outputDir,
		LogDir:    env.logDir,
	})
	return env
}

// seedTask creates a task with real files in the managed dirs.
func (env *cleanupEnv) seedTask(t *testing.T, status models.TaskStatus) *models.Task {
	t.Helper()
	ctx := context.Background()

	task := &models.Task{Status: status, TaskName: "seed"}
	id, err := env.store.CreateTask(ctx, task)
	require.NoError(t, err)

	original := filepath.Join(env.uploadDir, id+"_in.mkv")
	output := filepath.Join(env.outputDir, id+"_out.mp4")
	require.NoError(t, os.WriteFile(original, make([]byte, 100), 0644))
	require.NoError(t, os.WriteFile(output, make([]byte, 60), 0644))

	require.NoError(t, env.store.UpdateTaskFields(ctx, id, map[string]any{
		"original_path":    original,
		"output_path":      output,
		"output_file_name": filepath.Base(output),
		"output_file_size": int64(60),
	}))

	task, err = env.store.GetTask(ctx, id)
	require.NoError(t, err)
	return task
}

func backdate(t *testing.T, path string, age time.Duration) {
	t.Helper()
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestRecordDownload_SchedulesRetention(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	task := env.seedTask(t, models.StatusCompleted)

	require.NoError(t, env.engine.RecordDownload(ctx, task, "client-1"))

	rec, err := env.store.GetRetentionRecord(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.OutputFileName, rec.FileName)
	assert.WithinDuration(t, time.Now().Add(DefaultRetentionPeriod), rec.CleanupAfter, time.Minute)
}

func TestPerform_DownloadsReclaimsDueFiles(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	task := env.seedTask(t, models.StatusCompleted)

	// Due retention record
	require.NoError(t, env.store.CreateRetentionRecord(ctx, &models.RetentionRecord{
		TaskID:       task.ID,
		DownloadedAt: time.Now().Add(-2 * time.Hour),
		CleanupAfter: time.Now().Add(-time.Hour),
	}))

	report, err := env.engine.Perform(ctx, ScopeDownloads, false)
	require.NoError(t, err)
	assert.Equal(t, int64(160), report.BytesFreed)

	_, err = os.Stat(task.OutputPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(task.OriginalPath)
	assert.True(t, os.IsNotExist(err))

	// Record is closed out; task row survives for history
	got, err := env.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, got.OutputPath)
	due, err := env.store.ListDueRetentions(ctx, time.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestPerform_DownloadsHonorsRetentionWindow(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	task := env.seedTask(t, models.StatusCompleted)

	require.NoError(t, env.engine.RecordDownload(ctx, task, ""))

	report, err := env.engine.Perform(ctx, ScopeDownloads, false)
	require.NoError(t, err)
	assert.Zero(t, report.BytesFreed)

	_, err = os.Stat(task.OutputPath)
	assert.NoError(t, err, "file inside retention window must survive")
}

func TestPerform_IgnoreRetentionReclaimsTerminalFiles(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	completed := env.seedTask(t, models.StatusCompleted)
	converting := env.seedTask(t, models.StatusConverting)

	report, err := env.engine.Perform(ctx, ScopeDownloads, true)
	require.NoError(t, err)
	assert.Equal(t, int64(160), report.BytesFreed)

	_, err = os.Stat(completed.OutputPath)
	assert.True(t, os.IsNotExist(err))

	// Non-terminal task files are untouchable even under pressure
	_, err = os.Stat(converting.OutputPath)
	assert.NoError(t, err)
	_, err = os.Stat(converting.OriginalPath)
	assert.NoError(t, err)
}

func TestPerform_TempSweepsAgedSessions(t *testing.T) {
	env := newCleanupEnv(t)
	root := filepath.Join(env.tempRoot, "chunked_uploads")

	oldDir := filepath.Join(root, "old-session")
	freshDir := filepath.Join(root, "fresh-session")
	require.NoError(t, os.MkdirAll(oldDir, 0755))
	require.NoError(t, os.MkdirAll(freshDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(oldDir, "chunk_000000"), make([]byte, 50), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(freshDir, "chunk_000000"), make([]byte, 50), 0644))
	backdate(t, filepath.Join(oldDir, "chunk_000000"), 7*time.Hour)
	backdate(t, oldDir, 7*time.Hour)

	report, err := env.engine.Perform(context.Background(), ScopeTemp, false)
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.ByCategory[ScopeTemp])

	_, err = os.Stat(oldDir)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshDir)
	assert.NoError(t, err)
}

// liveSet is a canned SessionLiveness.
type liveSet map[string]struct{}

func (s liveSet) IsLive(uploadID string) bool {
	_, ok := s[uploadID]
	return ok
}

func TestPerform_TempSkipsLiveSessions(t *testing.T) {
	env := newCleanupEnv(t)
	env.engine.config.Sessions = liveSet{"resumable-session": {}}
	root := filepath.Join(env.tempRoot, "chunked_uploads")

	liveDir := filepath.Join(root, "resumable-session")
	deadDir := filepath.Join(root, "dead-session")
	require.NoError(t, os.MkdirAll(liveDir, 0755))
	require.NoError(t, os.MkdirAll(deadDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(liveDir, "chunk_000000"), make([]byte, 80), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(deadDir, "chunk_000000"), make([]byte, 50), 0644))
	for _, path := range []string{
		filepath.Join(liveDir, "chunk_000000"), liveDir,
		filepath.Join(deadDir, "chunk_000000"), deadDir,
	} {
		backdate(t, path, 7*time.Hour)
	}

	report, err := env.engine.Perform(context.Background(), ScopeTemp, false)
	require.NoError(t, err)
	assert.Equal(t, int64(50), report.ByCategory[ScopeTemp])

	// An idle-but-live session keeps its staged chunks regardless of age
	_, err = os.Stat(filepath.Join(liveDir, "chunk_000000"))
	assert.NoError(t, err)
	_, err = os.Stat(deadDir)
	assert.True(t, os.IsNotExist(err))
}

func TestPerform_TempRemovesOrphans(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	task := env.seedTask(t, models.StatusConverting)

	orphan := filepath.Join(env.outputDir, "orphan.mp4")
	require.NoError(t, os.WriteFile(orphan, make([]byte, 30), 0644))

	report, err := env.engine.Perform(ctx, ScopeTemp, false)
	require.NoError(t, err)
	assert.Equal(t, int64(30), report.BytesFreed)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(task.OutputPath)
	assert.NoError(t, err, "referenced file must survive the orphan sweep")
}

func TestPerform_LogsSweepsOldFiles(t *testing.T) {
	env := newCleanupEnv(t)

	oldLog := filepath.Join(env.logDir, "server-2025-01-01.log")
	freshLog := filepath.Join(env.logDir, "server-today.log")
	notALog := filepath.Join(env.logDir, "keep.txt")
	require.NoError(t, os.WriteFile(oldLog, make([]byte, 500), 0644))
	require.NoError(t, os.WriteFile(freshLog, make([]byte, 500), 0644))
	require.NoError(t, os.WriteFile(notALog, make([]byte, 500), 0644))
	backdate(t, oldLog, 8*24*time.Hour)
	backdate(t, notALog, 8*24*time.Hour)

	report, err := env.engine.Perform(context.Background(), ScopeLogs, false)
	require.NoError(t, err)
	assert.Equal(t, int64(500), report.ByCategory[ScopeLogs])

	_, err = os.Stat(oldLog)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(freshLog)
	assert.NoError(t, err)
	_, err = os.Stat(notALog)
	assert.NoError(t, err)
}

func TestSweep_PressureTiers(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()

	disk := diskspace.New(diskspace.Config{MaxTotalBytes: 1000, Enabled: true}, diskspace.Paths{}, nil)
	engine := NewEngine(env.store, disk, nil, Config{
		TempRoot:  env.tempRoot,
		UploadDir: env.uploadDir,
		OutputDir: env.outputDir,
	})

	downloaded := env.seedTask(t, models.StatusCompleted)
	untouched := env.seedTask(t, models.StatusCompleted)
	require.NoError(t, env.store.CreateRetentionRecord(ctx, &models.RetentionRecord{
		TaskID:       downloaded.ID,
		DownloadedAt: time.Now(),
		CleanupAfter: time.Now().Add(20 * time.Hour), // far from due
	}))

	// 92%: the aggressive tier takes downloaded files early but spares
	// files the client never fetched.
	disk.UpdateUsage(920, diskspace.CategoryTemp)
	engine.sweep(ctx)

	_, err := os.Stat(downloaded.OutputPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(untouched.OutputPath)
	assert.NoError(t, err)
	_, err = os.Stat(untouched.OriginalPath)
	assert.NoError(t, err)

	// 96%: the emergency tier reclaims every terminal task's files.
	disk.UpdateUsage(40, diskspace.CategoryTemp)
	engine.sweep(ctx)

	_, err = os.Stat(untouched.OutputPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(untouched.OriginalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestExtendRetention(t *testing.T) {
	env := newCleanupEnv(t)
	ctx := context.Background()
	task := env.seedTask(t, models.StatusCompleted)

	require.NoError(t, env.store.CreateRetentionRecord(ctx, &models.RetentionRecord{
		TaskID:       task.ID,
		DownloadedAt: time.Now(),
		CleanupAfter: time.Now().Add(-time.Minute), // about to be reclaimed
	}))

	_, err := env.engine.ExtendRetention(ctx, task.ID, 2*time.Hour)
	require.NoError(t, err)

	report, err := env.engine.Perform(ctx, ScopeDownloads, false)
	require.NoError(t, err)
	assert.Zero(t, report.BytesFreed)
}

func TestParseScope(t *testing.T) {
	for _, valid := range []string{"temp", "downloads", "logs", "all", "ALL"} {
		_, err := ParseScope(valid)
		assert.NoError(t, err, valid)
	}
	_, err := ParseScope("everything")
	assert.Error(t, err)
}
