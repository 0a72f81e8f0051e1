package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/renderq/internal/log"
	"github.com/CZERTAINLY/renderq/internal/model"
	"github.com/CZERTAINLY/renderq/internal/scan"

	"github.com/google/uuid"
)

const defaultEventBuffer = 64

// Queue is the live view of the job queue the executor iterates over.
// *queue.Queue implements it.
type Queue interface {
	Len() int
	At(index int) *model.Job
}

// Executor renders the jobs of a queue one after another. Each job is
// executed in two phases, a probe reading the frame range and the render
// itself. Executor is a value type, the With methods return a modified copy.
type Executor struct {
	invocation  Invocation
	killGrace   time.Duration
	env         []string
	eventBuffer int
}

func NewExecutor() Executor {
	return Executor{
		invocation:  Blender{},
		eventBuffer: defaultEventBuffer,
	}
}

func (e Executor) WithInvocation(invocation Invocation) Executor {
	e.invocation = invocation
	return e
}

// WithKillGrace makes a cancelled renderer to be killed after d. Zero, the
// default, only sends the stop signal.
func (e Executor) WithKillGrace(d time.Duration) Executor {
	e.killGrace = d
	return e
}

func (e Executor) WithEnv(env []string) Executor {
	e.env = append([]string(nil), env...)
	return e
}

func (e Executor) WithEventBuffer(n int) Executor {
	if n < 0 {
		n = 0
	}
	e.eventBuffer = n
	return e
}

// StartRun validates the arguments and starts rendering the queue in a
// new goroutine. The returned Run must be drained via Events until the
// channel is closed.
func (e Executor) StartRun(ctx context.Context, executable string, q Queue) (*Run, error) {
	if strings.TrimSpace(executable) == "" {
		return nil, fmt.Errorf("%w: empty executable path", model.ErrConfig)
	}
	if q == nil {
		return nil, fmt.Errorf("%w: no job queue", model.ErrConfig)
	}

	ctx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:     uuid.NewString(),
		events: make(chan model.Event, e.eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  model.RunRunning,
	}
	ctx = log.ContextAttrs(ctx, slog.String("run", run.ID))

	st := &runState{
		exe:     executable,
		queue:   q,
		visited: make(map[*model.Job]struct{}),
	}
	go e.loop(ctx, run, st)
	return run, nil
}

// Run is a handle of a single queue run.
type Run struct {
	ID string

	events chan model.Event
	cancel context.CancelFunc
	done   chan struct{}
	spawns atomic.Int64

	mx    sync.RWMutex
	state model.RunState
}

// Events returns the event stream. The last event is always EventFinished,
// the channel is closed after it.
func (r *Run) Events() <-chan model.Event {
	return r.events
}

// Cancel stops the run. The renderer in flight is asked to terminate and its
// job stays in StatusRendering.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once the run has finished and the event stream is closed.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) State() model.RunState {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.state
}

// Spawns returns how many renderer processes this run has started.
func (r *Run) Spawns() int {
	return int(r.spawns.Load())
}

// emit drops events once the run is cancelled.
func (r *Run) emit(ctx context.Context, ev model.Event) {
	if ctx.Err() != nil {
		return
	}
	select {
	case r.events <- ev:
	case <-ctx.Done():
	}
}

func (r *Run) finish(state model.RunState, queuePercent float64) {
	r.mx.Lock()
	r.state = state
	r.mx.Unlock()
	r.events <- model.FinishedEvent(state, queuePercent)
	close(r.events)
	close(r.done)
}

// runState is local to one run.
type runState struct {
	exe     string
	queue   Queue
	visited map[*model.Job]struct{}
}

// next returns the first job of the live queue not yet handled in this run.
// Jobs which are not pending are marked as handled and skipped.
func (s *runState) next(ctx context.Context) (*model.Job, int) {
	for i := 0; i < s.queue.Len(); i++ {
		job := s.queue.At(i)
		if job == nil {
			break // removed meanwhile
		}
		if _, ok := s.visited[job]; ok {
			continue
		}
		if status := job.Status(); status != model.StatusPending {
			s.visited[job] = struct{}{}
			if status != model.StatusDone {
				slog.DebugContext(ctx, "skipping job", "path", job.Path, "status", status.String())
			}
			continue
		}
		return job, i
	}
	return nil, -1
}

// queuePercent is the share of the live queue handled in this run.
func (s *runState) queuePercent() float64 {
	total := s.queue.Len()
	if total == 0 {
		return 100
	}
	var finished int
	for i := range total {
		if _, ok := s.visited[s.queue.At(i)]; ok {
			finished++
		}
	}
	return float64(finished) / float64(total) * 100
}

func (e Executor) loop(ctx context.Context, run *Run, st *runState) {
	defer run.cancel()
	slog.DebugContext(ctx, "run started", "executable", st.exe, "jobs", st.queue.Len())

	if st.queue.Len() == 0 {
		run.emit(ctx, model.LogEvent(nil, model.SeverityInfo, "Queue is empty"))
	}

	for {
		if ctx.Err() != nil {
			break
		}
		job, index := st.next(ctx)
		if job == nil {
			break
		}
		e.runJob(ctx, run, st, job, index)
	}

	if ctx.Err() != nil {
		slog.InfoContext(ctx, "run cancelled", "spawns", run.Spawns())
		run.finish(model.RunCancelled, st.queuePercent())
		return
	}
	slog.InfoContext(ctx, "run completed", "spawns", run.Spawns())
	run.finish(model.RunCompleted, st.queuePercent())
}

// runJob executes both phases of a job. The job is marked as handled unless
// the run gets cancelled, which leaves it rendering.
func (e Executor) runJob(ctx context.Context, run *Run, st *runState, job *model.Job, index int) {
	ref := job.Ref(index)
	ctx = log.ContextAttrs(ctx, slog.Group("job", "id", job.ID, "path", job.Path))

	run.emit(ctx, model.LogEvent(&ref, model.SeverityInfo, "Starting render for: "+job.Path))
	if err := job.SetStatus(model.StatusRendering); err != nil {
		// changed by the caller since next() has seen it
		slog.WarnContext(ctx, "job can't be rendered", "error", err)
		st.visited[job] = struct{}{}
		return
	}
	run.emit(ctx, model.StatusEvent(ref, model.StatusRendering))

	frameRange, err := e.probe(ctx, run, st, ref)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.fail(ctx, run, st, job, ref, err)
		return
	}

	err = e.render(ctx, run, st, ref, frameRange)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.fail(ctx, run, st, job, ref, err)
		return
	}

	if err := job.SetStatus(model.StatusDone); err != nil {
		slog.ErrorContext(ctx, "can't mark job done", "error", err)
	}
	st.visited[job] = struct{}{}
	run.emit(ctx, model.LogEvent(&ref, model.SeveritySuccess, "Render completed for: "+job.Path))
	run.emit(ctx, model.StatusEvent(ref, model.StatusDone))
	run.emit(ctx, model.ProgressEvent(ref, 100, st.queuePercent(), " "))
}

func (e Executor) fail(ctx context.Context, run *Run, st *runState, job *model.Job, ref model.JobRef, cause error) {
	slog.ErrorContext(ctx, "render failed", "error", cause)
	if err := job.SetStatus(model.StatusFailed); err != nil {
		slog.ErrorContext(ctx, "can't mark job failed", "error", err)
	}
	st.visited[job] = struct{}{}
	run.emit(ctx, model.LogEvent(&ref, model.SeverityError, "Render failed for: "+job.Path+": "+cause.Error()))
	run.emit(ctx, model.StatusEvent(ref, model.StatusFailed))
}

// probe returns nil frame range when the renderer did not declare one.
// Only a spawn failure is returned as an error.
func (e Executor) probe(ctx context.Context, run *Run, st *runState, ref model.JobRef) (*model.FrameRange, error) {
	var frameRange *model.FrameRange
	handle := func(line Line) {
		if frameRange != nil {
			return
		}
		if line.Stream == Stderr {
			run.emit(ctx, model.LogEvent(&ref, model.SeverityDebug, line.Text))
			return
		}
		ev := scan.Classify(line.Text, nil)
		if ev.Kind == scan.FrameRangeDetected {
			r := ev.Range
			frameRange = &r
			run.emit(ctx, model.LogEvent(&ref, model.SeverityNotice,
				fmt.Sprintf("Detected frame range: %d to %d", r.Start, r.End)))
			return
		}
		run.emit(ctx, model.LogEvent(&ref, model.SeverityDebug, line.Text))
	}

	res, err := e.execute(ctx, run, st.exe, e.invocation.Probe(ref.Path), handle)
	if err != nil || ctx.Err() != nil {
		return nil, err
	}
	if frameRange == nil {
		slog.WarnContext(ctx, "probe did not report a frame range", "exit_code", res.ExitCode())
		run.emit(ctx, model.LogEvent(&ref, model.SeverityWarning,
			"Frame range not detected, frame progress is not available"))
	}
	return frameRange, nil
}

// render returns a model.ErrProcessCrash error when the renderer ended
// abnormally before it reported the last frame.
func (e Executor) render(ctx context.Context, run *Run, st *runState, ref model.JobRef, frameRange *model.FrameRange) error {
	name := ref.Name()
	run.emit(ctx, model.ProgressEvent(ref, 0, st.queuePercent(), "Rendering "+name))

	var frames, lastFrame int
	handle := func(line Line) {
		if line.Stream == Stderr {
			run.emit(ctx, model.LogEvent(&ref, model.SeverityWarning, line.Text))
			return
		}
		ev := scan.Classify(line.Text, frameRange)
		switch ev.Kind {
		case scan.FrameProgress:
			frames++
			lastFrame = ev.Frame
			var label string
			if frameRange != nil {
				label = fmt.Sprintf("Rendering frame %d out of %d for %s", ev.Frame, frameRange.Frames(), name)
			} else {
				label = fmt.Sprintf("Rendering frame %d for %s", ev.Frame, name)
			}
			run.emit(ctx, model.ProgressEvent(ref, ev.Percent, st.queuePercent(), label))
		default:
			run.emit(ctx, model.LogEvent(&ref, model.SeverityInfo, line.Text))
		}
	}

	res, err := e.execute(ctx, run, st.exe, e.invocation.Render(ref.Path), handle)
	if err != nil || ctx.Err() != nil {
		return err
	}
	if res.Success() {
		return nil
	}

	incomplete := frames == 0 || (frameRange != nil && lastFrame < frameRange.End)
	if incomplete {
		return fmt.Errorf("%w: exit code %d after %d frames: %w", model.ErrProcessCrash, res.ExitCode(), frames, res.Err)
	}
	slog.WarnContext(ctx, "renderer exited abnormally after the last frame", "exit_code", res.ExitCode(), "error", res.Err)
	return nil
}

// execute runs one renderer process with a fresh Runner and feeds its lines
// to handle. It checks for cancellation before every line, on cancellation
// the process is stopped and not waited for.
func (e Executor) execute(ctx context.Context, run *Run, exe string, args []string, handle func(Line)) (Result, error) {
	runner := NewRunner()
	lines, err := runner.Start(ctx, Command{
		Path:      exe,
		Args:      args,
		Env:       e.env,
		KillGrace: e.killGrace,
	})
	if err != nil {
		return Result{}, err
	}
	run.spawns.Add(1)

	for {
		select {
		case <-ctx.Done():
			runner.Stop()
			return runner.Result(), nil
		case line, ok := <-lines:
			if !ok {
				<-runner.Done()
				return runner.Result(), nil
			}
			if ctx.Err() != nil {
				runner.Stop()
				return runner.Result(), nil
			}
			handle(line)
		}
	}
}
