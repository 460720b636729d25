package task

import (
	"strconv"
	"strings"
	"time"
)

// Progress is the decoded state of an encoder progress stream.
type Progress struct {
	// Frame is the last encoded frame number.
	Frame int64

	// FPS is the current encoding frame rate.
	FPS float64

	// OutTime is how much of the media timeline has been encoded.
	OutTime time.Duration

	// Speed is the encode rate relative to realtime (1.0 = realtime).
	Speed float64

	// Bitrate is the current output bitrate in kbit/s.
	Bitrate float64

	// End marks the final progress block of a run.
	End bool
}

// Percent converts the timeline position into a 0-100 percentage of the
// given media duration. Unknown durations report zero.
func (p Progress) Percent(duration time.Duration) int {
	if duration <= 0 {
		return 0
	}
	pct := int(p.OutTime * 100 / duration)
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// Remaining estimates seconds of encoding left at the current speed.
// Returns zero when the estimate is not computable.
func (p Progress) Remaining(duration time.Duration) int64 {
	if duration <= 0 || p.Speed <= 0 || p.OutTime >= duration {
		return 0
	}
	left := duration - p.OutTime
	return int64(left.Seconds() / p.Speed)
}

// ParseProgressLine folds one "key=value" line of ffmpeg's -progress stream
// into p. Unknown keys are ignored; malformed values leave the previous
// state untouched. Returns true when the line completes a progress block
// (the "progress=" key), which is the natural sampling point.
func ParseProgressLine(p *Progress, line string) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "frame":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			p.Frame = n
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			p.FPS = f
		}
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds; out_time_ms is misnamed upstream.
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			p.OutTime = time.Duration(n) * time.Microsecond
		}
	case "out_time":
		if d, ok := parseClock(value); ok {
			p.OutTime = d
		}
	case "speed":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
			p.Speed = f
		}
	case "bitrate":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64); err == nil {
			p.Bitrate = f
		}
	case "progress":
		p.End = value == "end"
		return true
	}
	return false
}

// parseClock decodes ffmpeg's HH:MM:SS.micro timestamps.
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}

	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	seconds, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || hours < 0 {
		return 0, false
	}

	total := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	return total, true
}
