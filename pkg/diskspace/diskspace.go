// Package diskspace implements the disk-budget admission controller.
//
// The controller keeps a quota-aware model of storage use split into
// uploaded originals, converted outputs, and temp data. Ingest is gated by
// CheckSpace before any bytes travel; usage changes are broadcast over the
// push bus so clients can pause batches gracefully.
package diskspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/pushbus"
)

// Category labels one bucket of the usage breakdown.
type Category string

const (
	CategoryUpload Category = "upload"
	CategoryOutput Category = "output"
	CategoryTemp   Category = "temp"
)

// Default usage thresholds (percent of max).
const (
	DefaultWarningPercent    = 80.0
	DefaultAggressivePercent = 90.0
	DefaultEmergencyPercent  = 95.0
)

// Config holds the disk budget.
type Config struct {
	// MaxTotalBytes is the byte budget for all managed storage.
	MaxTotalBytes int64

	// ReservedBytes is headroom never handed out to uploads.
	ReservedBytes int64

	// Enabled turns admission checks on. When false every check passes
	// and usage is tracked for reporting only.
	Enabled bool
}

// Paths are the managed directories measured by Refresh.
type Paths struct {
	UploadDir string
	OutputDir string
	TempDir   string
}

// Usage is the live byte breakdown.
type Usage struct {
	UploadedBytes  int64 `json:"uploadedBytes"`
	ConvertedBytes int64 `json:"convertedBytes"`
	TempBytes      int64 `json:"tempBytes"`
}

// Total returns the summed usage.
func (u Usage) Total() int64 {
	return u.UploadedBytes + u.ConvertedBytes + u.TempBytes
}

// Status is a reportable snapshot of the budget.
type Status struct {
	TotalSpace         int64   `json:"totalSpace"`
	UsedSpace          int64   `json:"usedSpace"`
	AvailableSpace     int64   `json:"availableSpace"`
	ReservedSpace      int64   `json:"reservedSpace"`
	UsagePercent       float64 `json:"usagePercent"`
	HasSufficientSpace bool    `json:"hasSufficientSpace"`
	Enabled            bool    `json:"enabled"`
	Breakdown          Usage   `json:"breakdown"`
}

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	HasEnoughSpace bool   `json:"hasEnoughSpace"`
	RequiredSpace  int64  `json:"requiredSpace"`
	AvailableSpace int64  `json:"availableSpace"`
	Details        string `json:"details"`
}

// BatchSource lists the batch ids with live upload sessions.
// *session.Manager satisfies this.
type BatchSource interface {
	ActiveBatches() []string
}

// Manager is the admission controller. Single writer for the usage model;
// many readers via GetStatus.
type Manager struct {
	mu     sync.RWMutex
	config Config
	paths  Paths
	usage  Usage

	bus     pushbus.Bus
	batches BatchSource

	warnedAboveThreshold bool
}

// New creates a manager with the given budget, measured paths, and push
// bus for snapshot broadcasts. bus may be nil.
func New(config Config, paths Paths, bus pushbus.Bus) *Manager {
	return &Manager{config: config, paths: paths, bus: bus}
}

// SetBatchSource wires the registry of in-flight batch uploads. Batches it
// reports get pause/resume events on warning-threshold crossings.
func (m *Manager) SetBatchSource(src BatchSource) {
	m.mu.Lock()
	m.batches = src
	m.mu.Unlock()
}

// Config returns the current budget configuration.
func (m *Manager) Config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// SetConfig replaces the budget configuration and broadcasts the new
// snapshot.
func (m *Manager) SetConfig(config Config) {
	m.mu.Lock()
	m.config = config
	status := m.statusLocked()
	m.mu.Unlock()

	m.broadcast(status)
}

// CheckSpace performs the pre-ingest admission check.
//
// required = original + estimated output + optional temp headroom of
// max(original, estimated)/2. The check holds at check time only; the
// caller is expected to start ingesting promptly.
func (m *Manager) CheckSpace(originalSize, estimatedOutput int64, includeTemp bool) CheckResult {
	if estimatedOutput <= 0 {
		estimatedOutput = m.EstimateOutput(originalSize, "", "", "")
	}

	required := originalSize + estimatedOutput
	if includeTemp {
		required += max(originalSize, estimatedOutput) / 2
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.config.Enabled {
		return CheckResult{
			HasEnoughSpace: true,
			RequiredSpace:  required,
			AvailableSpace: m.availableLocked(),
			Details:        "disk budget disabled",
		}
	}

	available := m.availableLocked()
	if required > available {
		return CheckResult{
			HasEnoughSpace: false,
			RequiredSpace:  required,
			AvailableSpace: available,
			Details: fmt.Sprintf("need %d bytes but only %d available (%d reserved)",
				required, available, m.config.ReservedBytes),
		}
	}

	return CheckResult{
		HasEnoughSpace: true,
		RequiredSpace:  required,
		AvailableSpace: available,
		Details:        "sufficient space",
	}
}

// codecRatios approximates output/input size per video codec.
var codecRatios = map[string]float64{
	"h264": 0.7,
	"avc":  0.7,
	"hevc": 0.5,
	"h265": 0.5,
	"av1":  0.4,
	"vp9":  0.6,
}

// containerMultipliers captures container overhead.
var containerMultipliers = map[string]float64{
	"mp4":  1.0,
	"webm": 1.0,
	"mkv":  1.05,
	"mov":  1.05,
	"avi":  1.1,
}

// resolutionMultipliers scales by target resolution.
var resolutionMultipliers = map[string]float64{
	"480p":  0.5,
	"720p":  0.75,
	"1080p": 1.0,
	"1440p": 1.2,
	"2160p": 1.5,
	"4k":    1.5,
}

// resolutionMultiplier resolves a named tier or a WxH form like 1920x1080.
// Unknown values return 1 with ok=false.
func resolutionMultiplier(resolution string) (float64, bool) {
	res := strings.ToLower(resolution)
	if mult, ok := resolutionMultipliers[res]; ok {
		return mult, true
	}
	_, h, ok := ParseDimensions(res)
	if !ok {
		return 1, false
	}
	switch {
	case h <= 480:
		return 0.5, true
	case h <= 720:
		return 0.75, true
	case h <= 1080:
		return 1.0, true
	case h <= 1440:
		return 1.2, true
	default:
		return 1.5, true
	}
}

// ParseDimensions splits a WxH resolution string into positive width and
// height. ok is false for anything else.
func ParseDimensions(resolution string) (width, height int, ok bool) {
	ws, hs, found := strings.Cut(strings.ToLower(resolution), "x")
	if !found {
		return 0, 0, false
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, false
	}
	return w, h, true
}

// EstimateOutput predicts the transcoded output size from the conversion
// parameters. The estimate is deliberately conservative and clamped to
// [0.2, 1.5] of the original size.
func (m *Manager) EstimateOutput(originalSize int64, format, codec, resolution string) int64 {
	ratio := 0.8 // default codec compression
	if r, ok := codecRatios[strings.ToLower(codec)]; ok {
		ratio = r
	}
	if mult, ok := containerMultipliers[strings.ToLower(format)]; ok {
		ratio *= mult
	}
	if mult, ok := resolutionMultiplier(resolution); ok {
		ratio *= mult
	}

	estimate := int64(float64(originalSize) * ratio)

	lo := originalSize / 5
	hi := originalSize + originalSize/2
	if estimate < lo {
		estimate = lo
	}
	if estimate > hi {
		estimate = hi
	}
	return estimate
}

// UpdateUsage adjusts one category by delta bytes and broadcasts the new
// snapshot. Negative deltas clamp the category at zero.
func (m *Manager) UpdateUsage(delta int64, category Category) {
	m.mu.Lock()
	switch category {
	case CategoryUpload:
		m.usage.UploadedBytes = clampNonNegative(m.usage.UploadedBytes + delta)
	case CategoryOutput:
		m.usage.ConvertedBytes = clampNonNegative(m.usage.ConvertedBytes + delta)
	case CategoryTemp:
		m.usage.TempBytes = clampNonNegative(m.usage.TempBytes + delta)
	}
	status := m.statusLocked()
	m.mu.Unlock()

	m.broadcast(status)
}

// Refresh recomputes usage from the filesystem. Called on startup and when
// drift is suspected (e.g. after an external cleanup).
func (m *Manager) Refresh() error {
	uploaded, err := dirSize(m.paths.UploadDir)
	if err != nil {
		return fmt.Errorf("measure uploads: %w", err)
	}
	converted, err := dirSize(m.paths.OutputDir)
	if err != nil {
		return fmt.Errorf("measure outputs: %w", err)
	}
	temp, err := dirSize(m.paths.TempDir)
	if err != nil {
		return fmt.Errorf("measure temp: %w", err)
	}

	m.mu.Lock()
	m.usage = Usage{UploadedBytes: uploaded, ConvertedBytes: converted, TempBytes: temp}
	status := m.statusLocked()
	m.mu.Unlock()

	logger.Debug("disk usage refreshed",
		"uploaded", uploaded, "converted", converted, "temp", temp)
	m.broadcast(status)
	return nil
}

// GetStatus returns the current budget snapshot.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

// UsagePercent returns current usage as a percent of the budget.
func (m *Manager) UsagePercent() float64 {
	return m.GetStatus().UsagePercent
}

func (m *Manager) statusLocked() Status {
	used := m.usage.Total()
	available := m.availableLocked()

	var percent float64
	if m.config.MaxTotalBytes > 0 {
		percent = float64(used) / float64(m.config.MaxTotalBytes) * 100
	}

	return Status{
		TotalSpace:         m.config.MaxTotalBytes,
		UsedSpace:          used,
		AvailableSpace:     available,
		ReservedSpace:      m.config.ReservedBytes,
		UsagePercent:       percent,
		HasSufficientSpace: !m.config.Enabled || percent < DefaultWarningPercent,
		Enabled:            m.config.Enabled,
		Breakdown:          m.usage,
	}
}

// availableLocked returns max - used - reserved, clamped at zero.
func (m *Manager) availableLocked() int64 {
	return clampNonNegative(m.config.MaxTotalBytes - m.usage.Total() - m.config.ReservedBytes)
}

// broadcast publishes the snapshot to the space topic, plus a SpaceWarning
// on upward crossings of the warning threshold.
func (m *Manager) broadcast(status Status) {
	if m.bus == nil {
		return
	}

	m.bus.Publish(pushbus.TopicSpace, pushbus.DiskSpaceUpdate{
		TotalSpace:         status.TotalSpace,
		UsedSpace:          status.UsedSpace,
		AvailableSpace:     status.AvailableSpace,
		ReservedSpace:      status.ReservedSpace,
		UsagePercent:       status.UsagePercent,
		HasSufficientSpace: status.HasSufficientSpace,
	})

	m.mu.Lock()
	above := status.Enabled && status.UsagePercent >= DefaultWarningPercent
	crossedUp := above && !m.warnedAboveThreshold
	crossedDown := !above && m.warnedAboveThreshold
	m.warnedAboveThreshold = above
	batches := m.batches
	m.mu.Unlock()

	availableGB := float64(status.AvailableSpace) / (1 << 30)

	if crossedUp {
		m.bus.Publish(pushbus.TopicSpace, pushbus.SpaceWarning{
			Message:      fmt.Sprintf("disk usage at %.1f%%", status.UsagePercent),
			UsagePercent: status.UsagePercent,
			AvailableGB:  availableGB,
		})
		logger.Warn("disk usage above warning threshold",
			"usage_percent", status.UsagePercent, "available_gb", availableGB)
	}

	if batches == nil || (!crossedUp && !crossedDown) {
		return
	}
	for _, id := range batches.ActiveBatches() {
		if crossedUp {
			m.bus.Publish(pushbus.BatchTopic(id), pushbus.BatchTaskPaused{
				BatchID:     id,
				Reason:      fmt.Sprintf("disk usage at %.1f%%", status.UsagePercent),
				AvailableGB: availableGB,
			})
		} else {
			m.bus.Publish(pushbus.BatchTopic(id), pushbus.BatchTaskResumed{
				BatchID:     id,
				Reason:      "disk space recovered",
				AvailableGB: availableGB,
			})
		}
	}
}

func clampNonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// dirSize walks a directory tree summing regular file sizes. A missing
// directory counts as zero.
func dirSize(dir string) (int64, error) {
	if dir == "" {
		return 0, nil
	}

	var total int64
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}
