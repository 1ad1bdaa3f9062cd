//go:build unix

package proctest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/seantiz/procscript/internal/stream"
)

const (
	// defaultEOFGrace is how long Tick waits for the process to exit after
	// one of its streams has ended.
	defaultEOFGrace = 100 * time.Millisecond

	// defaultKillTimeout bounds how long Quit waits for a killed process to
	// be reaped.
	defaultKillTimeout = time.Second
)

var (
	// ErrEmptyCommand is returned by Start when no argv is given.
	ErrEmptyCommand = errors.New("empty command")

	// ErrExited is returned by Signal when the process has already exited.
	ErrExited = errors.New("process has already exited")
)

// Options configures how a process is launched and polled.
type Options struct {
	// Dir is the working directory of the process.
	// If empty, the process inherits the caller's working directory.
	Dir string

	// Env holds additional KEY=value entries appended to the caller's
	// environment.
	Env []string

	// LineTimeout is how long each individual line read may wait during
	// Tick. Zero makes Tick fully non-blocking.
	LineTimeout time.Duration

	// EOFGrace is how long Tick waits for the process to exit once a stream
	// has ended before reporting the end as unexpected.
	EOFGrace time.Duration

	// KillTimeout bounds how long Quit waits for the killed process to be
	// reaped.
	KillTimeout time.Duration

	// Logger receives debug output. If nil, logging is discarded.
	Logger *slog.Logger
}

// Result is the outcome of one Tick.
type Result struct {
	// ExitCode is nil while the process is still running. A process killed
	// by a signal reports the negated signal number.
	ExitCode *int

	// Err and Out hold the lines drained from stderr and stdout during this
	// tick, in emission order.
	Err []string
	Out []string

	// StreamErr is set when a stream ended while the process kept running.
	// It matches stream.ErrUnexpectedEndOfStream.
	StreamErr error
}

// Tester owns a running child process and its output readers.
type Tester struct {
	argv   []string
	opts   Options
	logger *slog.Logger

	cmd    *exec.Cmd
	stdout *stream.Reader
	stderr *stream.Reader

	// exitCode is written by wait before exited is closed.
	exitCode int
	exited   chan struct{}

	// settled is set once output has been collected after exit.
	settled bool

	mu       sync.Mutex
	quit     bool
	quitOnce sync.Once
}

// Start launches argv and begins draining its output.
func Start(argv []string, opts Options) (*Tester, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}
	if opts.EOFGrace == 0 {
		opts.EOFGrace = defaultEOFGrace
	}
	if opts.KillTimeout == 0 {
		opts.KillTimeout = defaultKillTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv comes from the test script being executed

	// Own process group so Quit can take down descendants as well.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}

	// Plain pipes rather than StdoutPipe: Wait must not close the read ends
	// while lines are still buffered in the kernel.
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		outR.Close()
		outW.Close()
		errR.Close()
		errW.Close()
		return nil, fmt.Errorf("starting %s: %w", argv[0], err)
	}

	// The child holds its own copies of the write ends.
	outW.Close()
	errW.Close()

	t := &Tester{
		argv:   argv,
		opts:   opts,
		logger: logger,
		cmd:    cmd,
		stdout: stream.NewReader(outR),
		stderr: stream.NewReader(errR),
		exited: make(chan struct{}),
	}
	go t.wait()

	logger.Debug("process started", "argv", argv, "pid", cmd.Process.Pid, "dir", opts.Dir)

	return t, nil
}

// wait reaps the process and records its exit code.
func (t *Tester) wait() {
	err := t.cmd.Wait()
	t.exitCode = exitCodeOf(t.cmd.ProcessState, err)
	close(t.exited)

	t.logger.Debug("process exited", "pid", t.cmd.Process.Pid, "exit_code", t.exitCode)
}

// exitCodeOf converts a process state into an exit code, negating the
// signal number for signal-terminated processes.
func exitCodeOf(state *os.ProcessState, err error) int {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		return -1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return state.ExitCode()
}

// exitStatus reports the exit code without blocking.
func (t *Tester) exitStatus() (int, bool) {
	select {
	case <-t.exited:
		return t.exitCode, true
	default:
		return 0, false
	}
}

// Tick drains the lines currently available on stderr and stdout and polls
// whether the process has exited. It never waits for new output beyond
// Options.LineTimeout per read.
func (t *Tester) Tick() Result {
	var res Result

	t.mu.Lock()
	quit := t.quit
	t.mu.Unlock()
	if quit {
		if code, ok := t.exitStatus(); ok {
			res.ExitCode = &code
		}
		return res
	}

	errLines, errEnd := t.stderr.Drain(t.opts.LineTimeout)
	outLines, outEnd := t.stdout.Drain(t.opts.LineTimeout)
	res.Err = errLines
	res.Out = outLines

	code, exited := t.exitStatus()
	if !exited && (errEnd != nil || outEnd != nil) {
		// A stream normally ends just before the process is reaped.
		select {
		case <-t.exited:
			code, exited = t.exitCode, true
		case <-time.After(t.opts.EOFGrace):
		}
	}

	if exited {
		if !t.settled {
			// Lines written just before exit can still be in flight.
			t.settled = true
			res.Err = append(res.Err, t.settle(t.stderr, errEnd)...)
			res.Out = append(res.Out, t.settle(t.stdout, outEnd)...)
		}
		res.ExitCode = &code
		return res
	}

	switch {
	case errEnd != nil:
		res.StreamErr = fmt.Errorf("stderr of pid %d: %w", t.cmd.Process.Pid, errEnd)
	case outEnd != nil:
		res.StreamErr = fmt.Errorf("stdout of pid %d: %w", t.cmd.Process.Pid, outEnd)
	}
	if res.StreamErr != nil {
		t.logger.Warn("output stream closed while process is running",
			"pid", t.cmd.Process.Pid,
			"error", res.StreamErr,
		)
	}

	return res
}

// settle waits up to EOFGrace for r to reach the end of its stream and
// returns whatever it buffered meanwhile.
func (t *Tester) settle(r *stream.Reader, end error) []string {
	if end != nil {
		return nil
	}
	select {
	case <-r.Done():
	case <-time.After(t.opts.EOFGrace):
	}
	lines, _ := r.Drain(0)
	return lines
}

// Signal delivers sig to the process.
func (t *Tester) Signal(sig os.Signal) error {
	if _, exited := t.exitStatus(); exited {
		return ErrExited
	}

	t.logger.Debug("sending signal", "pid", t.cmd.Process.Pid, "signal", sig.String())

	if err := t.cmd.Process.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return ErrExited
		}
		return fmt.Errorf("signalling pid %d: %w", t.cmd.Process.Pid, err)
	}
	return nil
}

// Quit closes both readers and kills the process group. It is safe to call
// repeatedly and after the process has exited.
func (t *Tester) Quit() {
	t.quitOnce.Do(func() {
		t.mu.Lock()
		t.quit = true
		t.mu.Unlock()

		t.stdout.Close()
		t.stderr.Close()

		pid := t.cmd.Process.Pid
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			t.logger.Warn("failed to kill process group", "pid", pid, "error", err)
		}

		select {
		case <-t.exited:
		case <-time.After(t.opts.KillTimeout):
			t.logger.Warn("process not reaped after kill", "pid", pid, "timeout", t.opts.KillTimeout)
		}
	})
}

// PID returns the process ID.
func (t *Tester) PID() int {
	return t.cmd.Process.Pid
}

// Argv returns the command line the process was started with.
func (t *Tester) Argv() []string {
	return t.argv
}

// ExitCode returns the exit code once the process has exited.
func (t *Tester) ExitCode() (int, bool) {
	return t.exitStatus()
}

// Done returns a channel that is closed once the process has been reaped.
func (t *Tester) Done() <-chan struct{} {
	return t.exited
}
