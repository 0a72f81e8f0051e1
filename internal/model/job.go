package model

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// Status is a state of a single render job.
type Status int

const (
	StatusPending Status = iota
	StatusRendering
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRendering:
		return "rendering"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Job is a single document to be rendered by the external renderer.
// ID and Path never change, the status is safe for concurrent use.
type Job struct {
	ID   string
	Path string

	mx     sync.RWMutex
	status Status
}

func NewJob(path string) *Job {
	return &Job{
		ID:     uuid.NewString(),
		Path:   path,
		status: StatusPending,
	}
}

// Name returns the base name of a job path, used in labels and log messages.
func (j *Job) Name() string {
	return filepath.Base(j.Path)
}

func (j *Job) Status() Status {
	j.mx.RLock()
	defer j.mx.RUnlock()
	return j.status
}

// SetStatus moves the job forward. Allowed transitions are
// pending -> rendering -> done|failed and pending -> failed.
// Anything else returns ErrInvalidTransition and keeps the status unchanged.
func (j *Job) SetStatus(to Status) error {
	j.mx.Lock()
	defer j.mx.Unlock()
	if !canTransition(j.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.status, to)
	}
	j.status = to
	return nil
}

func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRendering || to == StatusFailed
	case StatusRendering:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}

// Ref returns an immutable snapshot of the job identity for events.
func (j *Job) Ref(index int) JobRef {
	return JobRef{
		ID:    j.ID,
		Index: index,
		Path:  j.Path,
	}
}

// JobRef identifies a job inside an Event. Index is the queue position at the
// time the event was emitted.
type JobRef struct {
	ID    string
	Index int
	Path  string
}

func (r JobRef) Name() string {
	return filepath.Base(r.Path)
}

// FrameRange is an inclusive range of frames reported by the probe phase.
type FrameRange struct {
	Start int
	End   int
}

// Percent converts a current frame to the job percentage, clamped to [0, 100].
// A single frame range is always complete.
func (r FrameRange) Percent(frame int) float64 {
	if r.End == r.Start {
		return 100
	}
	p := float64(frame-r.Start) / float64(r.End-r.Start) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// Frames returns the number of frames in the range.
func (r FrameRange) Frames() int {
	return r.End - r.Start + 1
}
