package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/renderq/internal/model"

	"github.com/gosimple/slug"
)

// Sink observes the executor event stream.
type Sink interface {
	Consume(ctx context.Context, ev model.Event) error
}

type SinkFunc func(ctx context.Context, ev model.Event) error

func (f SinkFunc) Consume(ctx context.Context, ev model.Event) error {
	return f(ctx, ev)
}

// Drain passes every event to all sinks until the channel is closed.
// Sink errors are logged and do not stop the draining. It returns the final
// run state carried by EventFinished.
func Drain(ctx context.Context, events <-chan model.Event, sinks ...Sink) model.RunState {
	state := model.RunIdle
	for ev := range events {
		if ev.Kind == model.EventFinished {
			state = ev.State
		}
		for _, s := range sinks {
			if err := s.Consume(ctx, ev); err != nil {
				slog.ErrorContext(ctx, "sink failed", "kind", ev.Kind.String(), "error", err)
			}
		}
	}
	return state
}

// SlogSink writes events to the default slog logger.
type SlogSink struct{}

func (SlogSink) Consume(ctx context.Context, ev model.Event) error {
	level := slog.LevelDebug
	msg := ev.Kind.String()
	switch ev.Kind {
	case model.EventLog:
		level = ev.Severity.Level()
		msg = ev.Text
	case model.EventJobStatus, model.EventFinished:
		level = slog.LevelInfo
	}
	slog.LogAttrs(ctx, level, msg, ev.LogAttrs()...)
	return nil
}

const timestampLayout = "06-01-02 - 15:04:05"

// WriteSink renders events as human readable lines.
type WriteSink struct {
	w        io.Writer
	now      func() time.Time
	progress bool
}

func NewWriteSink(w io.Writer) WriteSink {
	if w == nil {
		w = os.Stdout
	}
	return WriteSink{w: w, now: time.Now}
}

// WithNow sets the clock used for timestamps.
func (s WriteSink) WithNow(now func() time.Time) WriteSink {
	s.now = now
	return s
}

// WithProgress enables printing of every progress event.
func (s WriteSink) WithProgress(progress bool) WriteSink {
	s.progress = progress
	return s
}

func (s WriteSink) Consume(_ context.Context, ev model.Event) error {
	var line string
	switch ev.Kind {
	case model.EventLog:
		if ev.Severity == model.SeverityDebug {
			return nil
		}
		line = strings.TrimRight(ev.Text, "\r\n")
	case model.EventJobStatus:
		line = fmt.Sprintf("%s (%s)", ev.Job.Name(), statusTitle(ev.Status))
	case model.EventProgress:
		if !s.progress || strings.TrimSpace(ev.Label) == "" {
			return nil
		}
		line = fmt.Sprintf("%s %s | queue %3.0f%%", ev.Label, jobPercent(ev.JobPercent), ev.QueuePercent)
	case model.EventFinished:
		line = fmt.Sprintf("Queue %s (%.0f%%)", ev.State, ev.QueuePercent)
	default:
		return nil
	}
	_, err := fmt.Fprintf(s.w, "[%s] : %s\n", s.now().Format(timestampLayout), line)
	return err
}

func statusTitle(s model.Status) string {
	str := s.String()
	return strings.ToUpper(str[:1]) + str[1:]
}

func jobPercent(p float64) string {
	if p < 0 {
		return "?%"
	}
	return fmt.Sprintf("%.0f%%", p)
}

// BellSink rings the terminal bell once the whole queue is completed.
// A cancelled run stays silent.
type BellSink struct {
	w io.Writer
}

func NewBellSink(w io.Writer) BellSink {
	return BellSink{w: w}
}

func (s BellSink) Consume(_ context.Context, ev model.Event) error {
	if ev.Kind != model.EventFinished || ev.State != model.RunCompleted {
		return nil
	}
	_, err := io.WriteString(s.w, "\a")
	return err
}

// JobLogSink stores the log events of every job in its own file inside the
// directory. File names are built from the job name and its start time.
type JobLogSink struct {
	mx    sync.Mutex
	root  *os.Root
	now   func() time.Time
	files map[string]*os.File
	paths map[string]string
}

func NewJobLogSink(dir string) (*JobLogSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, err
	}
	return &JobLogSink{
		root:  root,
		now:   time.Now,
		files: make(map[string]*os.File),
		paths: make(map[string]string),
	}, nil
}

func (s *JobLogSink) Consume(ctx context.Context, ev model.Event) error {
	if ev.Job == nil {
		return nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.root == nil {
		return errors.New("sink already closed")
	}

	switch ev.Kind {
	case model.EventLog:
		f, err := s.open(ctx, *ev.Job)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(f, "%s %-7s %s\n", s.now().Format(time.RFC3339), ev.Severity, strings.TrimRight(ev.Text, "\r\n"))
		return err
	case model.EventJobStatus:
		if ev.Status == model.StatusDone || ev.Status == model.StatusFailed {
			return s.closeJob(ev.Job.ID)
		}
	}
	return nil
}

// Path returns a file name inside the log directory used for a job.
func (s *JobLogSink) Path(jobID string) string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.paths[jobID]
}

func (s *JobLogSink) open(ctx context.Context, ref model.JobRef) (*os.File, error) {
	if f, ok := s.files[ref.ID]; ok {
		return f, nil
	}
	path, ok := s.paths[ref.ID]
	if !ok {
		id := ref.ID
		if len(id) > 8 {
			id = id[:8]
		}
		path = slug.Make(ref.Name()) + "-" + s.now().Format("2006-01-02-15-04-05") + "-" + id + ".log"
		s.paths[ref.ID] = path
	}
	f, err := s.root.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating job log: %w", err)
	}
	slog.DebugContext(ctx, "job log created", "path", path, "job", ref.Path)
	s.files[ref.ID] = f
	return f, nil
}

func (s *JobLogSink) closeJob(id string) error {
	f, ok := s.files[id]
	if !ok {
		return nil
	}
	delete(s.files, id)
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing job log: %w", err)
	}
	return nil
}

func (s *JobLogSink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.root == nil {
		return errors.New("sink already closed")
	}
	var errs []error
	for id := range s.files {
		errs = append(errs, s.closeJob(id))
	}
	errs = append(errs, s.root.Close())
	s.root = nil
	return errors.Join(errs...)
}
