package model

import (
	"fmt"
	"log/slog"
)

// Severity of a log event. Sinks map it to colors or slog levels.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityNotice
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityNotice:
		return "notice"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

func (s Severity) Level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RunState is a state of a single queue run.
type RunState int

const (
	RunIdle RunState = iota
	RunRunning
	RunCompleted
	RunCancelled
)

func (s RunState) String() string {
	switch s {
	case RunIdle:
		return "idle"
	case RunRunning:
		return "running"
	case RunCompleted:
		return "completed"
	case RunCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventKind int

const (
	EventLog EventKind = iota
	EventJobStatus
	EventProgress
	// EventFinished is emitted exactly once as the last event of a run.
	EventFinished
)

func (k EventKind) String() string {
	switch k {
	case EventLog:
		return "log"
	case EventJobStatus:
		return "job_status"
	case EventProgress:
		return "progress"
	case EventFinished:
		return "finished"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is a single item of the executor event stream. Only fields relevant
// to Kind are set:
//   - EventLog: Text, Severity, Job (nil for run level messages)
//   - EventJobStatus: Job, Status
//   - EventProgress: Job, JobPercent, QueuePercent, Label
//   - EventFinished: State, QueuePercent
//
// Percentages are in [0, 100]. JobPercent is -1 when the frame range of the
// job is unknown and only the frame number in Label is available.
type Event struct {
	Kind         EventKind
	Job          *JobRef
	Text         string
	Severity     Severity
	Status       Status
	JobPercent   float64
	QueuePercent float64
	Label        string
	State        RunState
}

func LogEvent(job *JobRef, severity Severity, text string) Event {
	return Event{Kind: EventLog, Job: job, Severity: severity, Text: text}
}

func StatusEvent(job JobRef, status Status) Event {
	return Event{Kind: EventJobStatus, Job: &job, Status: status}
}

func ProgressEvent(job JobRef, jobPercent, queuePercent float64, label string) Event {
	return Event{
		Kind:         EventProgress,
		Job:          &job,
		JobPercent:   jobPercent,
		QueuePercent: queuePercent,
		Label:        label,
	}
}

func FinishedEvent(state RunState, queuePercent float64) Event {
	return Event{Kind: EventFinished, State: state, QueuePercent: queuePercent}
}

// LogAttrs converts an event to slog attributes.
func (e Event) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{slog.String("kind", e.Kind.String())}
	if e.Job != nil {
		attrs = append(attrs, slog.Group("job",
			slog.String("id", e.Job.ID),
			slog.Int("index", e.Job.Index),
			slog.String("path", e.Job.Path),
		))
	}
	switch e.Kind {
	case EventJobStatus:
		attrs = append(attrs, slog.String("status", e.Status.String()))
	case EventProgress:
		attrs = append(attrs,
			slog.Float64("job_percent", e.JobPercent),
			slog.Float64("queue_percent", e.QueuePercent),
			slog.String("label", e.Label),
		)
	case EventFinished:
		attrs = append(attrs,
			slog.String("state", e.State.String()),
			slog.Float64("queue_percent", e.QueuePercent),
		)
	}
	return attrs
}
