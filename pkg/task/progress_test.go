package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressLine_Block(t *testing.T) {
	lines := []string{
		"frame=240",
		"fps=48.50",
		"bitrate=1843.2kbits/s",
		"out_time_us=10000000",
		"out_time=00:00:10.000000",
		"speed=2.02x",
		"progress=continue",
	}

	var p Progress
	var complete bool
	for _, line := range lines {
		complete = ParseProgressLine(&p, line)
	}

	assert.True(t, complete)
	assert.Equal(t, int64(240), p.Frame)
	assert.InDelta(t, 48.5, p.FPS, 0.001)
	assert.InDelta(t, 1843.2, p.Bitrate, 0.001)
	assert.Equal(t, 10*time.Second, p.OutTime)
	assert.InDelta(t, 2.02, p.Speed, 0.001)
	assert.False(t, p.End)
}

func TestParseProgressLine_End(t *testing.T) {
	var p Progress
	assert.True(t, ParseProgressLine(&p, "progress=end"))
	assert.True(t, p.End)
}

func TestParseProgressLine_OutTimeMsIsMicroseconds(t *testing.T) {
	var p Progress
	ParseProgressLine(&p, "out_time_ms=5000000")
	assert.Equal(t, 5*time.Second, p.OutTime)
}

func TestParseProgressLine_MalformedValuesIgnored(t *testing.T) {
	p := Progress{Frame: 10, Speed: 1.5}
	ParseProgressLine(&p, "frame=abc")
	ParseProgressLine(&p, "speed=??")
	ParseProgressLine(&p, "out_time_us=-5")
	ParseProgressLine(&p, "not a key value line")

	assert.Equal(t, int64(10), p.Frame)
	assert.InDelta(t, 1.5, p.Speed, 0.001)
	assert.Equal(t, time.Duration(0), p.OutTime)
}

func TestParseProgressLine_NAValuesIgnored(t *testing.T) {
	var p Progress
	ParseProgressLine(&p, "bitrate=N/A")
	ParseProgressLine(&p, "speed=N/A")
	assert.Zero(t, p.Bitrate)
	assert.Zero(t, p.Speed)
}

func TestProgress_Percent(t *testing.T) {
	p := Progress{OutTime: 30 * time.Second}
	assert.Equal(t, 50, p.Percent(time.Minute))

	// Past the declared duration clamps to 100
	p.OutTime = 2 * time.Minute
	assert.Equal(t, 100, p.Percent(time.Minute))

	// Unknown duration reports zero
	assert.Equal(t, 0, p.Percent(0))
}

func TestProgress_Remaining(t *testing.T) {
	p := Progress{OutTime: 30 * time.Second, Speed: 2.0}
	assert.Equal(t, int64(15), p.Remaining(time.Minute))

	p.Speed = 0
	assert.Equal(t, int64(0), p.Remaining(time.Minute))

	p = Progress{OutTime: 2 * time.Minute, Speed: 1}
	assert.Equal(t, int64(0), p.Remaining(time.Minute))
}

func TestParseClock(t *testing.T) {
	d, ok := parseClock("01:02:03.500000")
	assert.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3*time.Second+500*time.Millisecond, d)

	_, ok = parseClock("99 seconds")
	assert.False(t, ok)
}

func TestBuildArgs(t *testing.T) {
	args := buildArgs(Job{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
		Params: map[string]string{
			"codec":      "hevc",
			"resolution": "720p",
			"crf":        "23",
			"audioCodec": "aac",
		},
	})

	joined := " " + joinArgs(args) + " "
	assert.Contains(t, joined, " -i /in/a.mkv ")
	assert.Contains(t, joined, " -progress pipe:1 ")
	assert.Contains(t, joined, " -c:v libx265 ")
	assert.Contains(t, joined, " -vf scale=-2:720 ")
	assert.Contains(t, joined, " -crf 23 ")
	assert.Contains(t, joined, " -c:a aac ")
	assert.Equal(t, "/out/a.mp4", args[len(args)-1])
}

func TestBuildArgs_ExplicitDimensions(t *testing.T) {
	args := buildArgs(Job{
		InputPath:  "/in/a.mkv",
		OutputPath: "/out/a.mp4",
		Params: map[string]string{
			"codec":      "h264",
			"resolution": "1920x1080",
		},
	})

	joined := " " + joinArgs(args) + " "
	assert.Contains(t, joined, " -vf scale=1920:1080 ")

	// Unparseable resolutions produce no filter rather than a broken one
	args = buildArgs(Job{Params: map[string]string{"resolution": "tallx1080"}})
	assert.NotContains(t, joinArgs(args), "-vf")
}

func TestBuildArgs_BitrateAlias(t *testing.T) {
	args := buildArgs(Job{Params: map[string]string{"bitrate": "2M"}})
	assert.Contains(t, " "+joinArgs(args)+" ", " -b:v 2M ")

	// The long form wins when both are present
	args = buildArgs(Job{Params: map[string]string{"bitrate": "2M", "videoBitrate": "4M"}})
	assert.Contains(t, " "+joinArgs(args)+" ", " -b:v 4M ")
}

func joinArgs(args []string) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += a
	}
	return out
}

func TestOutputExtension(t *testing.T) {
	assert.Equal(t, "mkv", OutputExtension("MKV"))
	assert.Equal(t, "mp4", OutputExtension(""))
	assert.Equal(t, "mp4", OutputExtension("exotic"))
}
