package model

import (
	"errors"
)

var (
	// ErrConfig is returned before the run starts, e.g. for an empty executable path.
	ErrConfig = errors.New("invalid configuration")
	// ErrSpawn means the renderer could not be started.
	ErrSpawn = errors.New("renderer can't be started")
	// ErrProcessCrash means the renderer ended abnormally before it finished the job.
	ErrProcessCrash = errors.New("renderer crashed")
	// ErrCancelled is reported for a run stopped by the caller.
	ErrCancelled = errors.New("run cancelled")

	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoJob             = errors.New("no such job")
)
