package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/store/models"
)

func newTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, DatabaseTypeSQLite, cfg.Type)
	assert.NotEmpty(t, cfg.SQLite.Path)
}

func TestConfig_ValidateRejectsUnknownType(t *testing.T) {
	cfg := &Config{Type: "mongodb"}
	assert.Error(t, cfg.Validate())
}

func TestTask_CreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &models.Task{
		TaskName:         "movie",
		OriginalFileName: "movie.mkv",
		OriginalFileSize: 1024,
		ConversionParams: map[string]string{"codec": "h264"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, task.Status)
	assert.Equal(t, "movie.mkv", task.OriginalFileName)
	assert.Equal(t, "h264", task.ConversionParams["codec"])
	assert.False(t, task.CreatedAt.IsZero())
}

func TestTask_GetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTask_UpdateFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &models.Task{TaskName: "t"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTaskFields(ctx, id, map[string]any{
		"status":   models.StatusConverting,
		"progress": 37,
	}))

	task, err := s.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConverting, task.Status)
	assert.Equal(t, 37, task.Progress)
}

func TestTask_DeleteNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteTask(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrTaskNotFound)
}

func TestTask_ListPagingAndFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.CreateTask(ctx, &models.Task{
			TaskName:         "batch",
			OriginalFileName: "clip.mp4",
			Status:           models.StatusCompleted,
			CreatedAt:        time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
	}
	_, err := s.CreateTask(ctx, &models.Task{
		TaskName:         "special-name",
		OriginalFileName: "holiday.mov",
		Status:           models.StatusPending,
	})
	require.NoError(t, err)

	t.Run("paging", func(t *testing.T) {
		page, err := s.ListTasks(ctx, TaskFilter{Page: 1, PageSize: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(6), page.Total)
		assert.Len(t, page.Tasks, 4)
		assert.Equal(t, 2, page.TotalPages)
	})

	t.Run("status filter", func(t *testing.T) {
		page, err := s.ListTasks(ctx, TaskFilter{Status: models.StatusPending})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)
	})

	t.Run("search", func(t *testing.T) {
		page, err := s.ListTasks(ctx, TaskFilter{Search: "holiday"})
		require.NoError(t, err)
		require.Len(t, page.Tasks, 1)
		assert.Equal(t, "special-name", page.Tasks[0].TaskName)
	})
}

func TestTask_CountByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, st := range []models.TaskStatus{models.StatusPending, models.StatusPending, models.StatusFailed} {
		_, err := s.CreateTask(ctx, &models.Task{Status: st})
		require.NoError(t, err)
	}

	counts, err := s.CountTasksByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.StatusPending])
	assert.Equal(t, int64(1), counts[models.StatusFailed])
}

func TestTask_FindArtifact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, &models.Task{
		Status:           models.StatusCompleted,
		Fingerprint:      "abc123",
		OriginalFileSize: 600,
		OriginalPath:     "/data/uploads/old.mkv",
		CreatedAt:        time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, &models.Task{
		Status:           models.StatusCompleted,
		Fingerprint:      "abc123",
		OriginalFileSize: 600,
		OriginalPath:     "/data/uploads/new.mkv",
	})
	require.NoError(t, err)

	path, ok, err := s.FindArtifact(ctx, "abc123", 600)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "/data/uploads/new.mkv", path)

	// Size must match too; a fingerprint alone is not enough
	_, ok, err = s.FindArtifact(ctx, "abc123", 999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.FindArtifact(ctx, "unknown", 600)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTask_FindArtifactSkipsReclaimedOriginals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateTask(ctx, &models.Task{
		Status:           models.StatusCompleted,
		Fingerprint:      "gone",
		OriginalFileSize: 100,
		OriginalPath:     "/data/uploads/reclaimed.mkv",
	})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTaskFields(ctx, id, map[string]any{"original_path": ""}))

	_, ok, err := s.FindArtifact(ctx, "gone", 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	val, err := s.GetSetting(ctx, "absent")
	require.NoError(t, err)
	assert.Empty(t, val)

	require.NoError(t, s.SetSettingInt(ctx, SettingMaxConcurrentUploads, 8))

	n, err := s.GetSettingInt(ctx, SettingMaxConcurrentUploads, 3)
	require.NoError(t, err)
	assert.Equal(t, 8, n)

	// Fallback on absent key
	n, err = s.GetSettingInt(ctx, "absent", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, s.SetSettingBool(ctx, SettingDiskBudgetEnabled, true))
	b, err := s.GetSettingBool(ctx, SettingDiskBudgetEnabled, false)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestRetention_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &models.RetentionRecord{
		TaskID:       "t-1",
		FileName:     "out.mp4",
		FileSize:     2048,
		DownloadedAt: now,
		CleanupAfter: now.Add(-time.Hour), // already due
	}
	require.NoError(t, s.CreateRetentionRecord(ctx, rec))

	due, err := s.ListDueRetentions(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "t-1", due[0].TaskID)

	// Extending pushes it out of the due window
	_, err = s.ExtendRetention(ctx, "t-1", 2*time.Hour)
	require.NoError(t, err)
	due, err = s.ListDueRetentions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	// Marking cleaned removes it from future sweeps entirely
	require.NoError(t, s.MarkRetentionCleaned(ctx, "t-1", now))
	due, err = s.ListDueRetentions(ctx, now.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)

	// Extend after cleanup reports not found
	_, err = s.ExtendRetention(ctx, "t-1", time.Hour)
	assert.ErrorIs(t, err, models.ErrRetentionNotFound)
}

func TestRetention_ListActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	// One record still inside its window, one cleaned up.
	require.NoError(t, s.CreateRetentionRecord(ctx, &models.RetentionRecord{
		TaskID:       "t-fresh",
		DownloadedAt: now,
		CleanupAfter: now.Add(12 * time.Hour),
	}))
	require.NoError(t, s.CreateRetentionRecord(ctx, &models.RetentionRecord{
		TaskID:       "t-done",
		DownloadedAt: now,
		CleanupAfter: now.Add(-time.Hour),
	}))
	require.NoError(t, s.MarkRetentionCleaned(ctx, "t-done", now))

	// Not due yet, but active: the pressure tiers can still take it.
	due, err := s.ListDueRetentions(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	active, err := s.ListActiveRetentions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "t-fresh", active[0].TaskID)
}
