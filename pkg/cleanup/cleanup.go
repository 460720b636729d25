// Package cleanup reclaims disk space: retention-expired downloads, aged
// temp data, orphaned artifacts, and old logs.
//
// The engine runs periodic sweeps and reacts to disk pressure. Files
// referenced by non-terminal tasks are never touched, regardless of scope
// or pressure.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/pushbus"
	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/store/models"
)

// Scope selects what a cleanup pass covers.
type Scope string

const (
	// ScopeDownloads removes files of tasks whose retention has lapsed.
	ScopeDownloads Scope = "downloads"

	// ScopeTemp removes aged chunked-upload temp directories.
	ScopeTemp Scope = "temp"

	// ScopeLogs removes old log files.
	ScopeLogs Scope = "logs"

	// ScopeAll covers everything.
	ScopeAll Scope = "all"
)

// ParseScope validates a wire scope value.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(s)) {
	case ScopeDownloads:
		return ScopeDownloads, nil
	case ScopeTemp:
		return ScopeTemp, nil
	case ScopeLogs:
		return ScopeLogs, nil
	case ScopeAll:
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("unknown cleanup type %q", s)
	}
}

// Defaults.
const (
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultTempMaxAge      = 6 * time.Hour
	DefaultLogMaxAge       = 7 * 24 * time.Hour
	DefaultSweepInterval   = 15 * time.Minute
)

// SessionLiveness reports whether an upload id has a live session.
// *session.Manager satisfies this.
type SessionLiveness interface {
	IsLive(uploadID string) bool
}

// Config tunes the engine.
type Config struct {
	// RetentionPeriod is how long downloaded artifacts stick around before
	// becoming reclaimable. Zero means DefaultRetentionPeriod.
	RetentionPeriod time.Duration

	// TempMaxAge is the idle age after which upload temp dirs are swept.
	// Zero means DefaultTempMaxAge.
	TempMaxAge time.Duration

	// LogMaxAge is the age after which log files are removed. Zero means
	// DefaultLogMaxAge.
	LogMaxAge time.Duration

	// SweepInterval is the periodic sweep cadence. Zero means
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// TempRoot is the chunked-upload staging root.
	TempRoot string

	// OutputDir holds transcoded artifacts.
	OutputDir string

	// UploadDir holds merged originals.
	UploadDir string

	// LogDir holds server log files. Empty disables the log sweep.
	LogDir string

	// Sessions gates the temp sweep: staging dirs of live upload sessions
	// are never removed, regardless of age. Nil means every aged dir is
	// fair game.
	Sessions SessionLiveness
}

func (c *Config) applyDefaults() {
	if c.RetentionPeriod <= 0 {
		c.RetentionPeriod = DefaultRetentionPeriod
	}
	if c.TempMaxAge <= 0 {
		c.TempMaxAge = DefaultTempMaxAge
	}
	if c.LogMaxAge <= 0 {
		c.LogMaxAge = DefaultLogMaxAge
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// Report summarizes one cleanup pass.
type Report struct {
	FilesRemoved int   `json:"filesRemoved"`
	BytesFreed   int64 `json:"bytesFreed"`

	// ByCategory breaks bytes freed down per scope.
	ByCategory map[Scope]int64 `json:"byCategory"`
}

func newReport() *Report {
	return &Report{ByCategory: make(map[Scope]int64)}
}

func (r *Report) add(scope Scope, bytes int64) {
	r.FilesRemoved++
	r.BytesFreed += bytes
	r.ByCategory[scope] += bytes
}

// Engine is the cleanup coordinator.
type Engine struct {
	store  *store.GORMStore
	disk   *diskspace.Manager
	bus    pushbus.Bus
	config Config

	// mu serializes cleanup passes: a manual request and the sweep loop
	// must not race over the same files.
	mu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewEngine creates a cleanup engine. disk and bus may be nil.
func NewEngine(st *store.GORMStore, disk *diskspace.Manager, bus pushbus.Bus, config Config) *Engine {
	config.applyDefaults()
	return &Engine{
		store:  st,
		disk:   disk,
		bus:    bus,
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Start launches the periodic sweep loop.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(e.config.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				e.sweep(ctx)
			case <-e.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the sweep loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// RecordDownload schedules retention-based cleanup for a downloaded task.
func (e *Engine) RecordDownload(ctx context.Context, task *models.Task, clientID string) error {
	now := time.Now()
	rec := &models.RetentionRecord{
		TaskID:       task.ID,
		FileName:     task.OutputFileName,
		FileSize:     task.OutputFileSize,
		DownloadedAt: now,
		CleanupAfter: now.Add(e.config.RetentionPeriod),
		ClientID:     clientID,
	}
	if err := e.store.CreateRetentionRecord(ctx, rec); err != nil {
		return fmt.Errorf("record download: %w", err)
	}

	logger.Debug("download recorded for retention",
		logger.KeyTaskID, task.ID,
		"cleanup_after", rec.CleanupAfter,
	)
	return nil
}

// ExtendRetention pushes a task's scheduled cleanup forward.
func (e *Engine) ExtendRetention(ctx context.Context, taskID string, by time.Duration) (*models.RetentionRecord, error) {
	return e.store.ExtendRetention(ctx, taskID, by)
}

// reclaimMode selects which terminal task files a downloads pass reclaims.
type reclaimMode int

const (
	// reclaimExpired takes only files whose retention has lapsed.
	reclaimExpired reclaimMode = iota

	// reclaimDownloaded takes any downloaded file, lapsed or not. Files the
	// client never fetched are spared.
	reclaimDownloaded

	// reclaimAll takes every terminal task's files, downloaded or not.
	reclaimAll
)

// Perform runs one cleanup pass over the given scope. When ignoreRetention
// is set, terminal task files are reclaimed even if their retention has not
// lapsed (or no download was ever recorded). Non-terminal task files are
// never touched.
func (e *Engine) Perform(ctx context.Context, scope Scope, ignoreRetention bool) (*Report, error) {
	mode := reclaimExpired
	if ignoreRetention {
		mode = reclaimAll
	}
	return e.perform(ctx, scope, mode)
}

func (e *Engine) perform(ctx context.Context, scope Scope, mode reclaimMode) (*Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	report := newReport()

	if scope == ScopeDownloads || scope == ScopeAll {
		if err := e.cleanDownloads(ctx, report, mode); err != nil {
			return report, err
		}
	}
	if scope == ScopeTemp || scope == ScopeAll {
		if err := e.cleanTemp(report); err != nil {
			return report, err
		}
		if err := e.cleanOrphans(ctx, report); err != nil {
			return report, err
		}
	}
	if scope == ScopeLogs || scope == ScopeAll {
		if err := e.cleanLogs(report); err != nil {
			return report, err
		}
	}

	if report.BytesFreed > 0 {
		logger.Info("cleanup pass finished",
			logger.KeyCategory, string(scope),
			logger.KeyBytesFreed, report.BytesFreed,
			"files_removed", report.FilesRemoved,
		)
		if e.bus != nil {
			e.bus.Publish(pushbus.TopicSpace, pushbus.SpaceReleased{
				ReleasedBytes: report.BytesFreed,
				Reason:        string(scope),
			})
		}
	}
	return report, nil
}

// sweep is one scheduled pass: retention plus aged temp and logs, then a
// pressure-driven pass. Above the aggressive threshold, downloaded files
// are reclaimed before their retention lapses; above the emergency
// threshold, every terminal task's files go.
func (e *Engine) sweep(ctx context.Context) {
	if _, err := e.Perform(ctx, ScopeAll, false); err != nil {
		logger.Error("scheduled cleanup failed", logger.KeyError, err)
		return
	}

	if e.disk == nil {
		return
	}
	usage := e.disk.UsagePercent()
	switch {
	case usage >= diskspace.DefaultEmergencyPercent:
		logger.Warn("emergency cleanup triggered", "usage_percent", usage)
		if _, err := e.perform(ctx, ScopeAll, reclaimAll); err != nil {
			logger.Error("emergency cleanup failed", logger.KeyError, err)
		}
	case usage >= diskspace.DefaultAggressivePercent:
		logger.Warn("aggressive cleanup triggered", "usage_percent", usage)
		if _, err := e.perform(ctx, ScopeDownloads, reclaimDownloaded); err != nil {
			logger.Error("aggressive cleanup failed", logger.KeyError, err)
		}
	}
}

// cleanDownloads reclaims files of terminal tasks according to mode.
func (e *Engine) cleanDownloads(ctx context.Context, report *Report, mode reclaimMode) error {
	now := time.Now()

	var taskIDs []string
	switch mode {
	case reclaimAll:
		for _, status := range []models.TaskStatus{models.StatusCompleted, models.StatusFailed, models.StatusCancelled} {
			tasks, err := e.store.ListTasksByStatus(ctx, status)
			if err != nil {
				return fmt.Errorf("list %s tasks: %w", status, err)
			}
			for _, t := range tasks {
				taskIDs = append(taskIDs, t.ID)
			}
		}
	case reclaimDownloaded:
		recs, err := e.store.ListActiveRetentions(ctx)
		if err != nil {
			return fmt.Errorf("list active retentions: %w", err)
		}
		for _, rec := range recs {
			taskIDs = append(taskIDs, rec.TaskID)
		}
	default:
		due, err := e.store.ListDueRetentions(ctx, now)
		if err != nil {
			return fmt.Errorf("list due retentions: %w", err)
		}
		for _, rec := range due {
			taskIDs = append(taskIDs, rec.TaskID)
		}
	}

	for _, id := range taskIDs {
		task, err := e.store.GetTask(ctx, id)
		if err != nil {
			// Task gone; nothing to reclaim, close the record out.
			_ = e.store.MarkRetentionCleaned(ctx, id, now)
			continue
		}
		if !task.Status.IsTerminal() {
			continue
		}

		freed := e.removeFile(task.OutputPath, diskspace.CategoryOutput)
		freed += e.removeFile(task.OriginalPath, diskspace.CategoryUpload)
		if freed > 0 {
			report.add(ScopeDownloads, freed)
			_ = e.store.UpdateTaskFields(ctx, id, map[string]any{
				"output_path":   "",
				"original_path": "",
			})
		}
		if err := e.store.MarkRetentionCleaned(ctx, id, now); err != nil {
			logger.Warn("failed to mark retention cleaned",
				logger.KeyTaskID, id, logger.KeyError, err)
		}
	}
	return nil
}

// cleanTemp removes upload staging directories idle past TempMaxAge.
// Dirs backing a live session are skipped: resumable sessions stay quiet
// for long stretches by design, and their eviction belongs to the session
// TTL. The age sweep exists for dirs left behind by crashes.
func (e *Engine) cleanTemp(report *Report) error {
	root := filepath.Join(e.config.TempRoot, "chunked_uploads")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan temp root: %w", err)
	}

	cutoff := time.Now().Add(-e.config.TempMaxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if e.config.Sessions != nil && e.config.Sessions.IsLive(entry.Name()) {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		if newestModTime(dir).After(cutoff) {
			continue
		}

		size := treeSize(dir)
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn("failed to remove temp dir", logger.KeyPath, dir, logger.KeyError, err)
			continue
		}
		report.add(ScopeTemp, size)
		if e.disk != nil {
			e.disk.UpdateUsage(-size, diskspace.CategoryTemp)
		}
	}
	return nil
}

// cleanOrphans removes files in the managed dirs that no task references.
func (e *Engine) cleanOrphans(ctx context.Context, report *Report) error {
	referenced, err := e.store.ReferencedPaths(ctx)
	if err != nil {
		return fmt.Errorf("list referenced paths: %w", err)
	}

	for dir, category := range map[string]diskspace.Category{
		e.config.UploadDir: diskspace.CategoryUpload,
		e.config.OutputDir: diskspace.CategoryOutput,
	} {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("scan %s: %w", dir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if _, ok := referenced[path]; ok {
				continue
			}

			if freed := e.removeFile(path, category); freed > 0 {
				logger.Debug("removed orphaned file", logger.KeyPath, path)
				report.add(ScopeTemp, freed)
			}
		}
	}
	return nil
}

// cleanLogs removes log files older than LogMaxAge.
func (e *Engine) cleanLogs(report *Report) error {
	if e.config.LogDir == "" {
		return nil
	}
	entries, err := os.ReadDir(e.config.LogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan log dir: %w", err)
	}

	cutoff := time.Now().Add(-e.config.LogMaxAge)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(e.config.LogDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("failed to remove log file", logger.KeyPath, path, logger.KeyError, err)
			continue
		}
		report.add(ScopeLogs, info.Size())
	}
	return nil
}

// removeFile deletes one file and returns its size, adjusting disk usage.
func (e *Engine) removeFile(path string, category diskspace.Category) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to remove file", logger.KeyPath, path, logger.KeyError, err)
		return 0
	}
	if e.disk != nil {
		e.disk.UpdateUsage(-info.Size(), category)
	}
	return info.Size()
}

// newestModTime returns the most recent mtime within a directory tree.
func newestModTime(dir string) time.Time {
	var newest time.Time
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if info, err := d.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest
}

// treeSize sums regular file sizes under a directory.
func treeSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
