// Package scan classifies raw output lines of the renderer into structured
// events. It holds no state and does no I/O.
package scan

import (
	"strconv"
	"strings"

	"github.com/CZERTAINLY/renderq/internal/model"
)

const (
	// FrameRangeMarker is printed by the probe expression, followed by start-end.
	FrameRangeMarker = "FRAMERANGE:"
	// FrameMarker prefixes the current frame in renderer progress lines,
	// e.g. "Fra:12 Mem:120.4M (Peak 130M) | Time:00:03.12 | Rendering 1 / 64 samples"
	FrameMarker = "Fra:"
)

type Kind int

const (
	RawLog Kind = iota
	FrameRangeDetected
	FrameProgress
)

func (k Kind) String() string {
	switch k {
	case FrameRangeDetected:
		return "frame_range"
	case FrameProgress:
		return "frame_progress"
	default:
		return "raw_log"
	}
}

// Event is a classified line. Range is set for FrameRangeDetected, Frame for
// FrameProgress. Percent is the job percentage for FrameProgress when a frame
// range was given to Classify, otherwise -1.
type Event struct {
	Kind    Kind
	Line    string
	Range   model.FrameRange
	Frame   int
	Percent float64
}

// Classify recognizes frame range declarations and frame progress lines.
// Anything else, including lines with a marker followed by a malformed
// number, is returned as RawLog.
func Classify(line string, frameRange *model.FrameRange) Event {
	raw := Event{Kind: RawLog, Line: line, Percent: -1}

	if _, after, ok := strings.Cut(line, FrameRangeMarker); ok {
		r, ok := parseRange(after)
		if !ok {
			return raw
		}
		return Event{Kind: FrameRangeDetected, Line: line, Range: r, Percent: -1}
	}

	if _, after, ok := strings.Cut(line, FrameMarker); ok {
		frame, _, ok := leadingInt(strings.TrimLeft(after, " \t"))
		if !ok {
			return raw
		}
		percent := -1.0
		if frameRange != nil {
			percent = frameRange.Percent(frame)
		}
		return Event{Kind: FrameProgress, Line: line, Frame: frame, Percent: percent}
	}

	return raw
}

// parseRange parses "<start>-<end>", allowing spaces around the numbers.
// A range ending before it starts is rejected.
func parseRange(s string) (model.FrameRange, bool) {
	s = strings.TrimLeft(s, " \t")
	start, rest, ok := leadingInt(s)
	if !ok {
		return model.FrameRange{}, false
	}
	rest = strings.TrimLeft(rest, " \t")
	rest, ok = strings.CutPrefix(rest, "-")
	if !ok {
		return model.FrameRange{}, false
	}
	end, _, ok := leadingInt(strings.TrimLeft(rest, " \t"))
	if !ok || end < start {
		return model.FrameRange{}, false
	}
	return model.FrameRange{Start: start, End: end}, true
}

// leadingInt parses an optionally signed decimal integer at the start of s
// and returns the remainder. Any non digit terminates the number.
func leadingInt(s string) (int, string, bool) {
	i := 0
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		i++
	}
	digits := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == digits {
		return 0, s, false
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, s, false
	}
	return n, s[i:], true
}
