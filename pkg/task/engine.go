// Package task drives the transcoding task lifecycle.
//
// Tasks move Pending -> Converting -> {Completed, Failed, Cancelled}. The
// engine schedules pending work onto a bounded set of encoder slots, streams
// throttled progress over the push bus, and keeps the database record as the
// single source of truth for task state.
package task

import (
	"context"
	"errors"
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

var (
	// ErrTaskRunning is returned by Delete for a task mid-conversion.
	ErrTaskRunning = errors.New("task is converting")

	// ErrNotCancellable is returned by Cancel for terminal tasks.
	ErrNotCancellable = errors.New("task is already terminal")

	// ErrOutputMissing is returned by OutputFile when a completed task's
	// artifact is gone (e.g. already cleaned up).
	ErrOutputMissing = errors.New("output file missing")
)

// Defaults.
const (
	DefaultWorkers          = 2
	DefaultProgressInterval = 500 * time.Millisecond
	schedulerInterval       = time.Second
)

// Config tunes the engine.
type Config struct {
	// OutputDir is where transcoded artifacts are written.
	OutputDir string

	// Workers bounds concurrent encodes. Zero means DefaultWorkers.
	Workers int

	// ProgressInterval throttles progress persistence and push events.
	// Zero means DefaultProgressInterval.
	ProgressInterval time.Duration
}

// Spec describes a task to create.
type Spec struct {
	TaskName         string
	UploadID         string
	InputPath        string
	FileName         string
	FileSize         int64
	Fingerprint      string
	ConversionParams map[string]string
}

// running tracks one in-flight encode.
type running struct {
	cancel context.CancelFunc

	mu           sync.Mutex
	lastProgress int
	lastPublish  time.Time
}

// Engine owns task scheduling and execution.
type Engine struct {
	store  *store.GORMStore
	bus    pushbus.Bus
	disk   *diskspace.Manager
	runner Runner
	config Config

	mu      sync.Mutex
	active  map[string]*running
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewEngine creates a task engine. disk may be nil to skip usage
// accounting; bus may be nil to skip push events.
func NewEngine(st *store.GORMStore, bus pushbus.Bus, disk *diskspace.Manager, runner Runner, config Config) *Engine {
	if config.Workers <= 0 {
		config.Workers = DefaultWorkers
	}
	if config.ProgressInterval <= 0 {
		config.ProgressInterval = DefaultProgressInterval
	}

	return &Engine{
		store:  st,
		bus:    bus,
		disk:   disk,
		runner: runner,
		config: config,
		active: make(map[string]*running),
		stopCh: make(chan struct{}),
	}
}

// Start requeues work interrupted by the previous run and launches the
// scheduler loop.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.requeueInterrupted(ctx); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.scheduleLoop(ctx)
	return nil
}

// Stop cancels all running encodes and waits for them to wind down.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })

	e.mu.Lock()
	e.stopped = true
	for _, r := range e.active {
		r.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
}

// Create records a new pending task. The scheduler picks it up on its next
// pass.
func (e *Engine) Create(ctx context.Context, spec Spec) (*models.Task, error) {
	task := &models.Task{
		TaskName:         spec.TaskName,
		UploadID:         spec.UploadID,
		OriginalFileName: spec.FileName,
		OriginalFileSize: spec.FileSize,
		OriginalPath:     spec.InputPath,
		Fingerprint:      spec.Fingerprint,
		ConversionParams: spec.ConversionParams,
		Status:           models.StatusPending,
	}
	if task.TaskName == "" {
		task.TaskName = strings.TrimSuffix(spec.FileName, filepath.Ext(spec.FileName))
	}

	id, err := e.store.CreateTask(ctx, task)
	if err != nil {
		return nil, err
	}

	logger.Info("task created",
		logger.KeyTaskID, id,
		logger.KeyTaskName, task.TaskName,
		logger.KeyFileName, spec.FileName,
	)
	e.publishStatus(id, models.StatusPending, "")
	return task, nil
}

// Cancel stops a pending or converting task. Terminal tasks return
// ErrNotCancellable.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}

	switch task.Status {
	case models.StatusConverting:
		e.mu.Lock()
		r, ok := e.active[id]
		e.mu.Unlock()
		if ok {
			// The worker observes the cancellation and finalizes the record.
			r.cancel()
			return nil
		}
		// Converting in the database but not running here (lost worker);
		// finalize directly.
		return e.finalizeCancelled(ctx, task)

	case models.StatusPending:
		return e.finalizeCancelled(ctx, task)

	default:
		return fmt.Errorf("%s: %w", task.Status, ErrNotCancellable)
	}
}

// Delete removes a task record and its files. Converting tasks must be
// cancelled first.
func (e *Engine) Delete(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if task.Status == models.StatusConverting {
		return ErrTaskRunning
	}

	if err := e.store.DeleteTask(ctx, id); err != nil {
		return err
	}

	e.removeFile(task.OriginalPath, diskspace.CategoryUpload)
	e.removeFile(task.OutputPath, diskspace.CategoryOutput)

	logger.Info("task deleted", logger.KeyTaskID, id, logger.KeyTaskName, task.TaskName)
	return nil
}

// Get returns the task record.
func (e *Engine) Get(ctx context.Context, id string) (*models.Task, error) {
	return e.store.GetTask(ctx, id)
}

// List returns a page of tasks.
func (e *Engine) List(ctx context.Context, filter store.TaskFilter) (*store.TaskPage, error) {
	return e.store.ListTasks(ctx, filter)
}

// OutputFile returns the artifact path of a completed task.
func (e *Engine) OutputFile(ctx context.Context, id string) (*models.Task, string, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if task.Status != models.StatusCompleted || task.OutputPath == "" {
		return nil, "", fmt.Errorf("task %s is %s: %w", id, task.Status, ErrOutputMissing)
	}
	if _, err := os.Stat(task.OutputPath); err != nil {
		return nil, "", fmt.Errorf("task %s: %w", id, ErrOutputMissing)
	}
	return task, task.OutputPath, nil
}

// ActiveCount returns the number of running encodes.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// CancelTask implements pushbus.TaskController.
func (e *Engine) CancelTask(ctx context.Context, taskID string) error {
	return e.Cancel(ctx, taskID)
}

// TaskSnapshot implements pushbus.TaskController.
func (e *Engine) TaskSnapshot(ctx context.Context, taskID string) (any, error) {
	return e.store.GetTask(ctx, taskID)
}

// requeueInterrupted returns tasks left Converting by a crash to Pending.
// Their input artifacts are still on disk, so the encode just restarts.
func (e *Engine) requeueInterrupted(ctx context.Context) error {
	stale, err := e.store.ListTasksByStatus(ctx, models.StatusConverting)
	if err != nil {
		return fmt.Errorf("scan interrupted tasks: %w", err)
	}

	for _, task := range stale {
		logger.Warn("requeueing task interrupted by restart",
			logger.KeyTaskID, task.ID, logger.KeyTaskName, task.TaskName)
		if err := e.store.UpdateTaskFields(ctx, task.ID, map[string]any{
			"status":   models.StatusPending,
			"progress": 0,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scheduleLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(schedulerInterval)
	defer ticker.Stop()

	for {
		e.dispatch(ctx)
		select {
		case <-ticker.C:
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// dispatch moves pending tasks onto free encoder slots.
func (e *Engine) dispatch(ctx context.Context) {
	e.mu.Lock()
	free := e.config.Workers - len(e.active)
	stopped := e.stopped
	e.mu.Unlock()
	if free <= 0 || stopped {
		return
	}

	pending, err := e.store.ListTasksByStatus(ctx, models.StatusPending)
	if err != nil {
		logger.Error("scheduler failed to list pending tasks", logger.KeyError, err)
		return
	}

	for _, task := range pending {
		if free == 0 {
			return
		}
		if e.claim(ctx, task) {
			free--
		}
	}
}

// claim transitions one task to Converting and starts its worker.
func (e *Engine) claim(ctx context.Context, task *models.Task) bool {
	now := time.Now()
	if err := e.store.UpdateTaskFields(ctx, task.ID, map[string]any{
		"status":     models.StatusConverting,
		"started_at": now,
	}); err != nil {
		logger.Error("failed to claim task", logger.KeyTaskID, task.ID, logger.KeyError, err)
		return false
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &running{cancel: cancel}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		cancel()
		_ = e.store.UpdateTaskFields(ctx, task.ID, map[string]any{"status": models.StatusPending})
		return false
	}
	e.active[task.ID] = r
	e.mu.Unlock()

	e.publishStatus(task.ID, models.StatusConverting, "")

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		e.convert(runCtx, task, r)

		e.mu.Lock()
		delete(e.active, task.ID)
		e.mu.Unlock()
	}()
	return true
}

// convert runs one encode to a terminal state.
func (e *Engine) convert(ctx context.Context, task *models.Task, r *running) {
	bg := context.Background()

	duration, err := e.runner.Probe(ctx, task.OriginalPath)
	if err != nil {
		e.finalizeFailed(bg, task, fmt.Sprintf("probe failed: %v", err))
		return
	}
	_ = e.store.UpdateTaskFields(bg, task.ID, map[string]any{
		"media_duration_seconds": duration.Seconds(),
	})

	outputPath := e.outputPath(task)
	job := Job{
		InputPath:  task.OriginalPath,
		OutputPath: outputPath,
		Params:     task.ConversionParams,
	}

	err = e.runner.Run(ctx, job, func(p Progress) {
		e.onProgress(task.ID, r, p, duration)
	})

	switch {
	case err == nil:
		e.finalizeCompleted(bg, task, outputPath)
	case errors.Is(err, context.Canceled):
		_ = os.Remove(outputPath)
		if ferr := e.finalizeCancelled(bg, task); ferr != nil {
			logger.Error("failed to finalize cancelled task",
				logger.KeyTaskID, task.ID, logger.KeyError, ferr)
		}
	default:
		_ = os.Remove(outputPath)
		e.finalizeFailed(bg, task, err.Error())
	}
}

// onProgress persists and publishes progress, throttled and clamped so
// reported progress never moves backwards.
func (e *Engine) onProgress(taskID string, r *running, p Progress, duration time.Duration) {
	percent := p.Percent(duration)

	r.mu.Lock()
	if percent < r.lastProgress {
		percent = r.lastProgress
	}
	r.lastProgress = percent
	now := time.Now()
	if !p.End && now.Sub(r.lastPublish) < e.config.ProgressInterval {
		r.mu.Unlock()
		return
	}
	r.lastPublish = now
	r.mu.Unlock()

	remaining := p.Remaining(duration)
	_ = e.store.UpdateTaskFields(context.Background(), taskID, map[string]any{
		"progress":             percent,
		"speed":                p.Speed,
		"eta_seconds":          remaining,
		"current_time_seconds": p.OutTime.Seconds(),
	})

	if e.bus != nil {
		e.bus.Publish(pushbus.TaskTopic(taskID), pushbus.ProgressUpdate{
			TaskID:           taskID,
			Progress:         percent,
			Speed:            p.Speed,
			RemainingSeconds: remaining,
		})
	}
}

func (e *Engine) finalizeCompleted(ctx context.Context, task *models.Task, outputPath string) {
	var outputSize int64
	if info, err := os.Stat(outputPath); err == nil {
		outputSize = info.Size()
	}

	now := time.Now()
	if err := e.store.UpdateTaskFields(ctx, task.ID, map[string]any{
		"status":           models.StatusCompleted,
		"progress":         100,
		"output_path":      outputPath,
		"output_file_name": filepath.Base(outputPath),
		"output_file_size": outputSize,
		"completed_at":     now,
	}); err != nil {
		logger.Error("failed to finalize completed task",
			logger.KeyTaskID, task.ID, logger.KeyError, err)
	}

	if e.disk != nil {
		e.disk.UpdateUsage(outputSize, diskspace.CategoryOutput)
	}

	logger.Info("task completed",
		logger.KeyTaskID, task.ID,
		logger.KeyTaskName, task.TaskName,
		logger.KeySize, outputSize,
		logger.KeyPath, outputPath,
	)
	e.publishStatus(task.ID, models.StatusCompleted, "")
	e.publishCompleted(task, true, "")
}

func (e *Engine) finalizeFailed(ctx context.Context, task *models.Task, reason string) {
	now := time.Now()
	if err := e.store.UpdateTaskFields(ctx, task.ID, map[string]any{
		"status":         models.StatusFailed,
		"failure_reason": reason,
		"completed_at":   now,
	}); err != nil {
		logger.Error("failed to finalize failed task",
			logger.KeyTaskID, task.ID, logger.KeyError, err)
	}

	logger.Error("task failed",
		logger.KeyTaskID, task.ID,
		logger.KeyTaskName, task.TaskName,
		logger.KeyError, reason,
	)
	e.publishStatus(task.ID, models.StatusFailed, reason)
	e.publishCompleted(task, false, reason)
}

func (e *Engine) finalizeCancelled(ctx context.Context, task *models.Task) error {
	now := time.Now()
	if err := e.store.UpdateTaskFields(ctx, task.ID, map[string]any{
		"status":       models.StatusCancelled,
		"completed_at": now,
	}); err != nil {
		return err
	}

	logger.Info("task cancelled", logger.KeyTaskID, task.ID, logger.KeyTaskName, task.TaskName)
	e.publishStatus(task.ID, models.StatusCancelled, "")
	return nil
}

func (e *Engine) publishStatus(taskID string, status models.TaskStatus, errMsg string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(pushbus.TaskTopic(taskID), pushbus.StatusUpdate{
		TaskID:       taskID,
		Status:       string(status),
		ErrorMessage: errMsg,
	})
}

func (e *Engine) publishCompleted(task *models.Task, success bool, errMsg string) {
	if e.bus == nil {
		return
	}
	ev := pushbus.TaskCompleted{
		TaskID:       task.ID,
		TaskName:     task.TaskName,
		Success:      success,
		ErrorMessage: errMsg,
	}
	e.bus.Publish(pushbus.TaskTopic(task.ID), ev)
	e.bus.Publish(pushbus.TopicSystem, ev)
}

// outputPath derives the artifact location for a task from its name and
// target container format.
func (e *Engine) outputPath(task *models.Task) string {
	base := strings.TrimSuffix(task.OriginalFileName, filepath.Ext(task.OriginalFileName))
	if base == "" {
		base = task.ID
	}
	ext := OutputExtension(task.ConversionParams["format"])
	return filepath.Join(e.config.OutputDir, fmt.Sprintf("%s_%s.%s", task.ID, base, ext))
}

func (e *Engine) removeFile(path string, category diskspace.Category) {
	if path == "" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("failed to remove task file", logger.KeyPath, path, logger.KeyError, err)
		return
	}
	if e.disk != nil {
		e.disk.UpdateUsage(-info.Size(), category)
	}
}
