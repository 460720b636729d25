// Package uploader implements the client side of the chunked upload
// protocol: fingerprint, init, parallel chunk transfer with a failure
// tolerance budget, sequential retries, and completion.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/apiclient"
	"github.com/clipforge/clipforge/pkg/fingerprint"
)

// Defaults for the transfer engine.
const (
	DefaultWorkers          = 4
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
	DefaultChunkTimeout     = 5 * time.Minute
	DefaultOverallTimeout   = 60 * time.Minute
	DefaultProgressInterval = 500 * time.Millisecond

	// toleranceFraction is the share of chunks allowed to fail the
	// parallel pass before the upload aborts early.
	toleranceFraction = 0.05
)

var (
	// ErrTooManyFailures means the first pass blew its tolerance budget.
	ErrTooManyFailures = errors.New("too many chunk failures")

	// ErrCancelled means the upload was cancelled by the caller. The
	// server session survives, so a later run can resume.
	ErrCancelled = errors.New("upload cancelled")
)

// Progress is one sampled snapshot of the transfer.
type Progress struct {
	UploadID       string
	FileName       string
	UploadedChunks int
	TotalChunks    int
	UploadedBytes  int64
	TotalBytes     int64
	Percent        float64
}

// Options tune the transfer engine. The zero value selects the defaults.
type Options struct {
	// Workers bounds concurrent chunk sends.
	Workers int

	// MaxRetries bounds per-chunk retry attempts in the sequential pass.
	MaxRetries int

	// RetryDelay is the initial retry delay; it doubles per attempt.
	RetryDelay time.Duration

	// ChunkTimeout bounds one chunk request.
	ChunkTimeout time.Duration

	// OverallTimeout bounds the whole upload.
	OverallTimeout time.Duration

	// ProgressInterval throttles OnProgress callbacks. Boundary
	// snapshots (start, pass transitions, completion) always fire.
	ProgressInterval time.Duration

	// OnProgress receives sampled transfer snapshots. May be nil.
	OnProgress func(Progress)

	// UploadID overrides the session identifier. Empty means the file
	// fingerprint, which makes re-runs of the same file resume the same
	// session.
	UploadID string

	// BatchID groups this upload with others under one batch, so the
	// server can address pause/resume events at the whole group.
	BatchID string

	// QuickThreshold is the size above which the cheap metadata
	// fingerprint is used instead of hashing the whole file. Zero
	// selects the fingerprint package default.
	QuickThreshold int64
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ChunkTimeout <= 0 {
		o.ChunkTimeout = DefaultChunkTimeout
	}
	if o.OverallTimeout <= 0 {
		o.OverallTimeout = DefaultOverallTimeout
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
}

// Result summarizes a finished upload.
type Result struct {
	UploadID string
	TaskID   string
	TaskName string

	// Deduplicated is true when the server already had the file and no
	// bytes were transferred.
	Deduplicated bool

	// BytesSent counts payload bytes sent in this run. Resumed chunks
	// from earlier runs are not included.
	BytesSent int64
}

// Uploader drives chunked uploads against one server.
type Uploader struct {
	client *apiclient.Client
	opts   Options
}

// New creates an uploader.
func New(client *apiclient.Client, opts Options) *Uploader {
	opts.applyDefaults()
	return &Uploader{client: client, opts: opts}
}

// Upload transfers filePath and queues a conversion with the given
// parameters. It blocks until the task is created, the tolerance budget
// is exceeded, or ctx is cancelled.
func (u *Uploader) Upload(ctx context.Context, filePath string, conversion map[string]string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, u.opts.OverallTimeout)
	defer cancel()

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", filePath)
	}

	fp := fingerprint.New(u.opts.QuickThreshold)
	fileMD5, err := fp.Compute(filePath)
	if err != nil {
		return nil, fmt.Errorf("fingerprint %s: %w", filePath, err)
	}

	uploadID := u.opts.UploadID
	if uploadID == "" {
		uploadID = fileMD5
	}
	fileName := filepath.Base(filePath)

	init, err := u.client.InitChunkedUpload(ctx, apiclient.InitUploadRequest{
		UploadID:          uploadID,
		FileName:          fileName,
		FileSize:          info.Size(),
		FileMD5:           fileMD5,
		BatchID:           u.opts.BatchID,
		ConversionRequest: conversion,
	})
	if err != nil {
		return nil, wrapCancel(ctx, fmt.Errorf("init upload: %w", err))
	}

	if init.FileExists {
		logger.Info("server already has this file, skipping transfer",
			logger.KeyUploadID, uploadID,
			logger.KeyTaskID, init.TaskID,
		)
		return &Result{
			UploadID:     uploadID,
			TaskID:       init.TaskID,
			TaskName:     init.TaskName,
			Deduplicated: true,
		}, nil
	}

	status, err := u.client.GetUploadStatus(ctx, uploadID)
	if err != nil {
		return nil, wrapCancel(ctx, fmt.Errorf("upload status: %w", err))
	}

	tr := newTransfer(u, uploadID, filePath, fileName, info.Size(), init.ChunkSize, init.TotalChunks, status.UploadedChunks)
	tr.emit(true)

	failed, err := tr.parallelPass(ctx)
	if err != nil {
		return nil, err
	}
	if len(failed) > 0 {
		if err := tr.retryPass(ctx, failed); err != nil {
			return nil, err
		}
	}
	tr.emit(true)

	complete, err := u.client.CompleteChunkedUpload(ctx, uploadID)
	if err != nil {
		return nil, wrapCancel(ctx, fmt.Errorf("complete upload: %w", err))
	}

	return &Result{
		UploadID:  uploadID,
		TaskID:    complete.TaskID,
		TaskName:  complete.TaskName,
		BytesSent: tr.bytesSent(),
	}, nil
}

// wrapCancel maps context cancellation onto ErrCancelled so callers can
// distinguish "user stopped it" from real failures.
func wrapCancel(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// transfer is the state for one in-flight upload.
type transfer struct {
	u           *Uploader
	uploadID    string
	filePath    string
	fileName    string
	fileSize    int64
	chunkSize   int64
	totalChunks int

	mu       sync.Mutex
	received map[int]struct{}
	sent     int64
	lastEmit time.Time
}

func newTransfer(u *Uploader, uploadID, filePath, fileName string, fileSize, chunkSize int64, totalChunks int, uploaded []int) *transfer {
	received := make(map[int]struct{}, len(uploaded))
	for _, idx := range uploaded {
		received[idx] = struct{}{}
	}
	return &transfer{
		u:           u,
		uploadID:    uploadID,
		filePath:    filePath,
		fileName:    fileName,
		fileSize:    fileSize,
		chunkSize:   chunkSize,
		totalChunks: totalChunks,
		received:    received,
	}
}

// tolerance is the number of chunk failures the parallel pass absorbs
// before aborting.
func (t *transfer) tolerance() int {
	f := int(math.Ceil(toleranceFraction * float64(t.totalChunks)))
	if f < 1 {
		f = 1
	}
	return f
}

// missing returns the indices still owed to the server, in order.
func (t *transfer) missing() []int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []int
	for i := 0; i < t.totalChunks; i++ {
		if _, ok := t.received[i]; !ok {
			out = append(out, i)
		}
	}
	return out
}

// parallelPass sends all missing chunks with bounded concurrency. It
// returns the indices that failed, unless the tolerance budget was
// exceeded, in which case it aborts with ErrTooManyFailures.
func (t *transfer) parallelPass(ctx context.Context) ([]int, error) {
	work := t.missing()
	if len(work) == 0 {
		return nil, nil
	}

	tolerance := t.tolerance()
	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failed   []int
		fatalErr error
	)

	passCtx, cancelPass := context.WithCancel(ctx)
	defer cancelPass()

	for w := 0; w < t.u.opts.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			// Each worker keeps its own handle so seeks never interleave.
			f, err := os.Open(t.filePath)
			if err != nil {
				mu.Lock()
				if fatalErr == nil {
					fatalErr = fmt.Errorf("open %s: %w", t.filePath, err)
				}
				mu.Unlock()
				cancelPass()
				return
			}
			defer func() { _ = f.Close() }()

			for idx := range jobs {
				err := t.sendChunk(passCtx, f, idx)
				if err == nil {
					t.markReceived(idx)
					t.emit(false)
					continue
				}
				if passCtx.Err() != nil {
					return
				}

				logger.Warn("chunk failed, deferring to retry pass",
					logger.KeyUploadID, t.uploadID,
					logger.KeyChunkIndex, idx,
					logger.KeyError, err,
				)
				mu.Lock()
				failed = append(failed, idx)
				over := len(failed) > tolerance
				mu.Unlock()
				if over {
					cancelPass()
					return
				}
			}
		}()
	}

	for _, idx := range work {
		select {
		case jobs <- idx:
		case <-passCtx.Done():
		}
		if passCtx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if ctx.Err() != nil {
		return nil, wrapCancel(ctx, ctx.Err())
	}
	if len(failed) > tolerance {
		return nil, fmt.Errorf("%w: %d of %d chunks failed (budget %d)",
			ErrTooManyFailures, len(failed), t.totalChunks, tolerance)
	}

	sort.Ints(failed)
	return failed, nil
}

// retryPass re-sends failed chunks one at a time, backing off between
// attempts. A chunk whose error is not retryable fails the upload.
func (t *transfer) retryPass(ctx context.Context, failed []int) error {
	f, err := os.Open(t.filePath)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.filePath, err)
	}
	defer func() { _ = f.Close() }()

	for _, idx := range failed {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = t.u.opts.RetryDelay
		policy.Multiplier = 2
		policy.RandomizationFactor = 0
		policy.MaxInterval = 16 * t.u.opts.RetryDelay

		attempt := func() error {
			err := t.sendChunk(ctx, f, idx)
			if err == nil {
				return nil
			}
			if !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		err := backoff.Retry(attempt, backoff.WithContext(
			backoff.WithMaxRetries(policy, uint64(t.u.opts.MaxRetries)), ctx))
		if err != nil {
			if ctx.Err() != nil {
				return wrapCancel(ctx, ctx.Err())
			}
			return fmt.Errorf("chunk %d exhausted retries: %w", idx, err)
		}
		t.markReceived(idx)
		t.emit(false)
	}
	return nil
}

// retryable extends the transport-level predicate with chunk integrity
// failures, which re-sending fixes when the corruption was in flight.
func retryable(err error) bool {
	if apiclient.IsRetryable(err) {
		return true
	}
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorType == "ChunkIntegrity"
	}
	return false
}

// sendChunk reads one chunk from f and posts it with its integrity tag.
func (t *transfer) sendChunk(ctx context.Context, f *os.File, idx int) error {
	offset := int64(idx) * t.chunkSize
	size := t.chunkSize
	if remaining := t.fileSize - offset; remaining < size {
		size = remaining
	}

	data := make([]byte, size)
	if _, err := f.ReadAt(data, offset); err != nil && err != io.EOF {
		return fmt.Errorf("read chunk %d: %w", idx, err)
	}

	chunkCtx, cancel := context.WithTimeout(ctx, t.u.opts.ChunkTimeout)
	defer cancel()

	_, err := t.u.client.UploadChunk(chunkCtx, t.uploadID, idx, t.totalChunks, data, fingerprint.Sum(data))
	return err
}

func (t *transfer) markReceived(idx int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.received[idx]; ok {
		return
	}
	t.received[idx] = struct{}{}
	t.sent += t.chunkLen(idx)
}

func (t *transfer) chunkLen(idx int) int64 {
	if idx == t.totalChunks-1 {
		return t.fileSize - int64(t.totalChunks-1)*t.chunkSize
	}
	return t.chunkSize
}

func (t *transfer) bytesSent() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent
}

// emit delivers a progress snapshot, throttled unless boundary is set.
func (t *transfer) emit(boundary bool) {
	if t.u.opts.OnProgress == nil {
		return
	}

	t.mu.Lock()
	now := time.Now()
	if !boundary && now.Sub(t.lastEmit) < t.u.opts.ProgressInterval {
		t.mu.Unlock()
		return
	}
	t.lastEmit = now

	var bytes int64
	for idx := range t.received {
		bytes += t.chunkLen(idx)
	}
	snap := Progress{
		UploadID:       t.uploadID,
		FileName:       t.fileName,
		UploadedChunks: len(t.received),
		TotalChunks:    t.totalChunks,
		UploadedBytes:  bytes,
		TotalBytes:     t.fileSize,
	}
	t.mu.Unlock()

	if snap.TotalBytes > 0 {
		snap.Percent = math.Min(100, 100*float64(snap.UploadedBytes)/float64(snap.TotalBytes))
	}
	t.u.opts.OnProgress(snap)
}
