package service

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/CZERTAINLY/renderq/internal/model"
)

var (
	ErrProcessNotStarted = errors.New("process not started")
	ErrProcessInProgress = errors.New("process in progress")
)

const (
	lineBuffer  = 256
	maxLineSize = 1024 * 1024
)

type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is a single line of process output without the line terminator.
type Line struct {
	Stream Stream
	Text   string
}

type Command struct {
	Path string
	Args []string
	Env  []string // nil inherits the environment of the current process
	// KillGrace is the time between the stop signal and a hard kill.
	// Zero means the process is only asked to stop.
	KillGrace time.Duration
}

type Result struct {
	Path    string
	Args    []string
	Started time.Time
	Stopped time.Time
	State   *os.ProcessState
	Err     error
}

// ExitCode returns the process exit code or -1 if the process did not exit
// (yet) or was terminated by a signal.
func (r Result) ExitCode() int {
	if r.State == nil {
		return -1
	}
	return r.State.ExitCode()
}

// Success reports a clean exit with zero status.
func (r Result) Success() bool {
	return r.Err == nil && r.State != nil && r.State.Success()
}

type process struct {
	cancel context.CancelFunc
	lines  chan Line
	done   chan struct{}
}

// Runner is a thin wrapper around os/exec streaming the output of a single
// process line by line. It runs at most one process at a time, a Runner can
// be reused once the previous process is done.
type Runner struct {
	mx     sync.RWMutex
	proc   *process
	result Result
}

func NewRunner() *Runner {
	return &Runner{
		result: Result{Err: ErrProcessNotStarted},
	}
}

// Start spawns the process and returns a channel of its stdout and stderr
// lines. The channel is closed once both streams reach EOF and the process
// has exited. A spawn failure is returned as an error wrapping model.ErrSpawn
// and no channel is created.
//
// Canceling ctx or calling Stop sends the stop signal to the process; lines
// not yet consumed are discarded from that moment.
func (r *Runner) Start(ctx context.Context, proto Command) (<-chan Line, error) {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.proc != nil {
		return nil, ErrProcessInProgress
	}

	r.result = Result{
		Path: proto.Path,
		Args: append([]string(nil), proto.Args...),
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Env = proto.Env
	cmd.Cancel = func() error {
		return interrupt(cmd.Process)
	}
	cmd.WaitDelay = proto.KillGrace
	configure(cmd)

	fail := func(err error) (<-chan Line, error) {
		cancel()
		r.result.Stopped = time.Now().UTC()
		r.result.Err = fmt.Errorf("%w: %w", model.ErrSpawn, err)
		return nil, r.result.Err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fail(err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fail(err)
	}

	r.result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		return fail(err)
	}
	slog.DebugContext(ctx, "process started", "path", proto.Path, "args", proto.Args, "pid", cmd.Process.Pid)

	proc := &process{
		cancel: cancel,
		lines:  make(chan Line, lineBuffer),
		done:   make(chan struct{}),
	}
	r.proc = proc

	var readers sync.WaitGroup
	readers.Add(2)
	go proc.read(ctx, &readers, stdout, Stdout)
	go proc.read(ctx, &readers, stderr, Stderr)
	go r.wait(ctx, cmd, proc, &readers)
	return proc.lines, nil
}

// read forwards lines to the consumer until ctx is done, then drains the pipe
// so the process never blocks on a full output buffer. Lines longer than
// maxLineSize are dropped, reading goes on with the next line.
func (p *process) read(ctx context.Context, wg *sync.WaitGroup, pipe io.Reader, stream Stream) {
	defer wg.Done()
	reader := bufio.NewReaderSize(pipe, 64*1024)
	var line []byte
	var dropped int
	for {
		chunk, err := reader.ReadSlice('\n')
		switch {
		case dropped > 0:
			dropped += len(chunk)
		case len(line)+len(chunk) > maxLineSize:
			dropped = len(line) + len(chunk)
			line = line[:0]
		default:
			line = append(line, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if dropped > 0 {
			slog.WarnContext(ctx, "dropping oversized output line", "stream", stream.String(), "size", dropped)
			dropped = 0
		} else if len(line) > 0 {
			p.send(ctx, Line{Stream: stream, Text: string(trimEOL(line))})
		}
		line = line[:0]

		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.ErrorContext(ctx, "processing output", "stream", stream.String(), "error", err)
			}
			return
		}
	}
}

func (p *process) send(ctx context.Context, line Line) {
	if ctx.Err() != nil {
		return
	}
	select {
	case p.lines <- line:
	case <-ctx.Done():
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}

// wait must not call cmd.Wait before all reads from the pipes are done.
func (r *Runner) wait(ctx context.Context, cmd *exec.Cmd, proc *process, readers *sync.WaitGroup) {
	readers.Wait()
	err := cmd.Wait()
	stopped := time.Now().UTC()
	proc.cancel()

	r.mx.Lock()
	r.result.Stopped = stopped
	r.result.State = cmd.ProcessState
	r.result.Err = err
	r.proc = nil
	r.mx.Unlock()

	slog.DebugContext(ctx, "process finished", "path", cmd.Path, "exit_code", r.Result().ExitCode(), "error", err)
	close(proc.lines)
	close(proc.done)
}

// Stop asks the running process to terminate. It does not wait for the exit,
// use Done for that.
func (r *Runner) Stop() {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.proc != nil {
		r.proc.cancel()
	}
}

// Done returns a channel closed once the current process has exited and its
// output was consumed or discarded. If nothing runs, the channel is closed.
func (r *Runner) Done() <-chan struct{} {
	r.mx.RLock()
	defer r.mx.RUnlock()
	if r.proc == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.proc.done
}

// Result returns the last process result
// or result with ErrProcessNotStarted if nothing has been executed yet.
func (r *Runner) Result() Result {
	r.mx.RLock()
	defer r.mx.RUnlock()
	return r.result
}
