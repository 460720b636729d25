package diskspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/pkg/pushbus"
)

func newTestManager(budget int64) *Manager {
	return New(Config{MaxTotalBytes: budget, Enabled: true}, Paths{}, nil)
}

func TestCheckSpace_Admits(t *testing.T) {
	m := newTestManager(10 << 30)

	res := m.CheckSpace(1<<30, 1<<29, false)
	assert.True(t, res.HasEnoughSpace)
	assert.Equal(t, int64(1<<30+1<<29), res.RequiredSpace)
}

func TestCheckSpace_IncludesTempHeadroom(t *testing.T) {
	m := newTestManager(10 << 30)

	res := m.CheckSpace(1<<30, 1<<30, true)
	// original + output + max(original, output)/2
	assert.Equal(t, int64(1<<30+1<<30+1<<29), res.RequiredSpace)
}

func TestCheckSpace_Rejects(t *testing.T) {
	m := newTestManager(1 << 30)
	m.UpdateUsage(1<<29, CategoryUpload)

	res := m.CheckSpace(1<<30, 1<<29, false)
	assert.False(t, res.HasEnoughSpace)
	assert.NotEmpty(t, res.Details)
}

func TestCheckSpace_ReservedReducesAvailable(t *testing.T) {
	m := New(Config{MaxTotalBytes: 2 << 30, ReservedBytes: 1 << 30, Enabled: true}, Paths{}, nil)

	res := m.CheckSpace(1<<30, 1<<29, false)
	assert.False(t, res.HasEnoughSpace)
	assert.Equal(t, int64(1<<30), res.AvailableSpace)
}

func TestCheckSpace_DisabledAlwaysAdmits(t *testing.T) {
	m := New(Config{MaxTotalBytes: 1, Enabled: false}, Paths{}, nil)

	res := m.CheckSpace(1<<40, 0, true)
	assert.True(t, res.HasEnoughSpace)
}

func TestCheckSpace_EstimatesWhenOutputUnknown(t *testing.T) {
	m := newTestManager(10 << 30)

	res := m.CheckSpace(1<<30, 0, false)
	assert.Greater(t, res.RequiredSpace, int64(1<<30))
}

func TestEstimateOutput(t *testing.T) {
	m := newTestManager(0)
	const original = int64(1000)

	tests := []struct {
		name       string
		format     string
		codec      string
		resolution string
		want       int64
	}{
		{"default", "", "", "", 800},
		{"hevc halves", "", "hevc", "", 500},
		{"av1 smallest", "", "av1", "", 400},
		{"avi overhead", "avi", "h264", "", 770},
		{"downscale", "", "h264", "480p", 350},
		{"upscale clamps high", "", "", "4k", 1200},
		{"case insensitive", "MP4", "H264", "1080P", 700},
		{"dimensions map to tier", "", "h264", "1280x720", 525},
		{"dimensions full hd", "", "h264", "1920x1080", 700},
		{"dimensions above 1440", "", "hevc", "3840x2160", 750},
		{"unparseable dimensions ignored", "", "h264", "tallx1080", 700},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.EstimateOutput(original, tt.format, tt.codec, tt.resolution))
		})
	}
}

func TestEstimateOutput_ClampLow(t *testing.T) {
	m := newTestManager(0)
	// av1 at 480p would be 0.4*0.5 = 0.2, right at the floor
	assert.Equal(t, int64(200), m.EstimateOutput(1000, "", "av1", "480p"))
}

func TestUpdateUsage_ClampsAtZero(t *testing.T) {
	m := newTestManager(1 << 30)
	m.UpdateUsage(100, CategoryTemp)
	m.UpdateUsage(-500, CategoryTemp)

	assert.Equal(t, int64(0), m.GetStatus().Breakdown.TempBytes)
}

func TestRefresh_MeasuresDirectories(t *testing.T) {
	uploadDir := t.TempDir()
	outputDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "a.bin"), make([]byte, 100), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "b.bin"), make([]byte, 250), 0644))

	m := New(Config{MaxTotalBytes: 1 << 30, Enabled: true}, Paths{
		UploadDir: uploadDir,
		OutputDir: outputDir,
		TempDir:   filepath.Join(t.TempDir(), "missing"), // absent dir counts as zero
	}, nil)
	require.NoError(t, m.Refresh())

	status := m.GetStatus()
	assert.Equal(t, int64(100), status.Breakdown.UploadedBytes)
	assert.Equal(t, int64(250), status.Breakdown.ConvertedBytes)
	assert.Equal(t, int64(0), status.Breakdown.TempBytes)
	assert.Equal(t, int64(350), status.UsedSpace)
}

func TestBroadcast_WarningOnThresholdCrossing(t *testing.T) {
	bus := pushbus.NewHub()
	sub := bus.Subscribe(pushbus.TopicSpace)
	defer sub.Close()

	m := New(Config{MaxTotalBytes: 1000, Enabled: true}, Paths{}, bus)

	m.UpdateUsage(850, CategoryUpload) // crosses 80%

	var sawUpdate, sawWarning bool
	for i := 0; i < 2; i++ {
		switch (<-sub.C).(type) {
		case pushbus.DiskSpaceUpdate:
			sawUpdate = true
		case pushbus.SpaceWarning:
			sawWarning = true
		}
	}
	assert.True(t, sawUpdate)
	assert.True(t, sawWarning)

	// A second update above the threshold does not re-warn.
	m.UpdateUsage(10, CategoryUpload)
	ev := <-sub.C
	_, isUpdate := ev.(pushbus.DiskSpaceUpdate)
	assert.True(t, isUpdate)
	select {
	case ev := <-sub.C:
		_, isWarning := ev.(pushbus.SpaceWarning)
		assert.False(t, isWarning)
	default:
	}
}

func TestParseDimensions(t *testing.T) {
	w, h, ok := ParseDimensions("1920x1080")
	require.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)

	for _, bad := range []string{"", "720p", "x1080", "1920x", "0x1080", "-2x720", "axb"} {
		_, _, ok := ParseDimensions(bad)
		assert.False(t, ok, bad)
	}
}

// stubBatches is a canned BatchSource.
type stubBatches []string

func (s stubBatches) ActiveBatches() []string { return s }

func TestBroadcast_BatchPauseResumeOnCrossings(t *testing.T) {
	bus := pushbus.NewHub()
	sub := bus.Subscribe(pushbus.BatchTopic("b1"))
	defer sub.Close()

	m := New(Config{MaxTotalBytes: 1000, Enabled: true}, Paths{}, bus)
	m.SetBatchSource(stubBatches{"b1"})

	m.UpdateUsage(850, CategoryUpload) // crosses 80% upward

	paused, ok := (<-sub.C).(pushbus.BatchTaskPaused)
	require.True(t, ok)
	assert.Equal(t, "b1", paused.BatchID)
	assert.NotEmpty(t, paused.Reason)

	// Staying above the threshold does not repeat the pause.
	m.UpdateUsage(10, CategoryUpload)
	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected batch event while above threshold: %#v", ev)
	default:
	}

	m.UpdateUsage(-500, CategoryUpload) // back below 80%

	resumed, ok := (<-sub.C).(pushbus.BatchTaskResumed)
	require.True(t, ok)
	assert.Equal(t, "b1", resumed.BatchID)
}

func TestStatus_UsagePercent(t *testing.T) {
	m := newTestManager(1000)
	m.UpdateUsage(400, CategoryOutput)

	status := m.GetStatus()
	assert.InDelta(t, 40.0, status.UsagePercent, 0.01)
	assert.True(t, status.HasSufficientSpace)
}
