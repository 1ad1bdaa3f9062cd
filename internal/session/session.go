//go:build unix

package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/procscript/internal/expect"
	"github.com/seantiz/procscript/internal/proctest"
	"github.com/seantiz/procscript/internal/script"
	"github.com/seantiz/procscript/internal/typedmap"
)

// LineFunc receives the lines drained from one stream of a channel during a
// tick, tagged with the step that channel was on.
type LineFunc func(channel, step int, stream string, lines []string)

// StepFunc is called whenever the session enters a step.
type StepFunc func(index int, step script.Step)

// Options configures a Session.
type Options struct {
	// Dir is the working directory for every spawned process.
	Dir string

	// Env holds extra KEY=value entries for every spawned process.
	Env []string

	// LineTimeout and EOFGrace are passed to each proctest.Tester.
	LineTimeout time.Duration
	EOFGrace    time.Duration

	// Logger receives progress output. If nil, logging is discarded.
	Logger *slog.Logger

	OnLines LineFunc
	OnStep  StepFunc
}

// TestLog accumulates what one channel produced while one step targeted it.
type TestLog struct {
	Err      []string
	Out      []string
	ExitCode *int
}

type channel struct {
	index   int
	tester  *proctest.Tester
	matcher *expect.Matcher

	// step is the last step that targeted this channel.
	step int

	// testers holds every process started on the channel so Quit can reach
	// the ones replaced by later cmd steps.
	testers []*proctest.Tester
}

// Session executes a script step by step. It is not safe for concurrent use.
type Session struct {
	script script.Script
	dones  []script.Done
	opts   Options
	logger *slog.Logger

	step     int
	finished bool
	aborted  error
	quit     bool

	channels *typedmap.Map[int, *channel]
	logs     *typedmap.Map[int, *typedmap.Map[int, *TestLog]]
	failures []channelError
}

// New validates sc and starts its first step.
func New(sc script.Script, opts Options) (*Session, error) {
	if err := sc.Validate(); err != nil {
		if errors.Is(err, script.ErrSignalBeforeCmd) {
			return nil, fmt.Errorf("%w: %w", ErrNoProcess, err)
		}
		return nil, err
	}

	dones := make([]script.Done, len(sc.Steps))
	for i, st := range sc.Steps {
		d, err := script.ParseDone(st.Done)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		dones[i] = d
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Session{
		script: sc,
		dones:  dones,
		opts:   opts,
		logger: logger,
		step:   -1,
		channels: typedmap.New(func(idx int) *channel {
			return &channel{index: idx, step: -1, matcher: expect.New(nil, nil)}
		}),
		logs: typedmap.New(func(int) *typedmap.Map[int, *TestLog] {
			return typedmap.New(func(int) *TestLog { return &TestLog{} })
		}),
	}

	if err := s.NextStep(); err != nil {
		s.Quit()
		return nil, err
	}
	return s, nil
}

// Step returns the index of the current step.
func (s *Session) Step() int {
	return s.step
}

// Len returns the number of steps in the script.
func (s *Session) Len() int {
	return len(s.script.Steps)
}

// Finished reports whether the last step's done condition has been met.
func (s *Session) Finished() bool {
	return s.finished
}

// Err returns the error that aborted the session, if any.
func (s *Session) Err() error {
	return s.aborted
}

// Log returns the TestLog for a channel and step, or nil if that channel
// was never targeted by the step.
func (s *Session) Log(channel, step int) *TestLog {
	steps, ok := s.logs.Lookup(channel)
	if !ok {
		return nil
	}
	log, ok := steps.Lookup(step)
	if !ok {
		return nil
	}
	return log
}

// NextStep enters the step after the current one. At the last step it does
// nothing.
func (s *Session) NextStep() error {
	if s.aborted != nil {
		return s.aborted
	}
	if s.quit {
		return nil
	}
	if s.step+1 >= len(s.script.Steps) {
		s.logger.Debug("no more steps", "step", s.step)
		return nil
	}

	s.step++
	st := s.script.Steps[s.step]
	ch := s.channels.Get(st.Channel)
	ch.step = s.step
	ch.matcher = expect.New(st.Err, st.Out)
	s.logs.Get(st.Channel).Get(s.step)

	s.logger.Info("step started",
		"step", s.step,
		"type", st.Type,
		"channel", st.Channel,
		"done", st.Done,
	)
	if s.opts.OnStep != nil {
		s.opts.OnStep(s.step, st)
	}

	switch st.Type {
	case script.TypeCmd:
		s.spawn(ch, st)
	case script.TypeSignal:
		if ch.tester == nil {
			s.aborted = fmt.Errorf("channel %d step %d: signal %s: %w", st.Channel, s.step, st.Signal, ErrNoProcess)
			s.logger.Error("session aborted", "error", s.aborted)
			return s.aborted
		}
		if err := ch.tester.Signal(st.Signal.Unix()); err != nil {
			s.fail(st.Channel, fmt.Errorf("step %d: signal %s: %w", s.step, st.Signal, err))
		}
	}
	return nil
}

func (s *Session) spawn(ch *channel, st script.Step) {
	tester, err := proctest.Start(st.Cmd, proctest.Options{
		Dir:         s.opts.Dir,
		Env:         s.opts.Env,
		LineTimeout: s.opts.LineTimeout,
		EOFGrace:    s.opts.EOFGrace,
		Logger:      s.logger.With("channel", ch.index),
	})
	if err != nil {
		ch.tester = nil
		s.fail(ch.index, fmt.Errorf("step %d: start %q: %w", s.step, st.Cmd, err))
		return
	}
	ch.tester = tester
	ch.testers = append(ch.testers, tester)
}

// fail records a non-fatal failure on a channel.
func (s *Session) fail(channel int, err error) {
	s.logger.Warn("channel failure", "channel", channel, "error", err)
	s.failures = append(s.failures, channelError{channel: channel, err: err})
}

// Tick polls every live channel once, then checks the done condition of
// the current step. At most one step completes per tick.
func (s *Session) Tick() error {
	if s.aborted != nil {
		return s.aborted
	}
	for _, idx := range s.channels.Keys() {
		ch, _ := s.channels.Lookup(idx)
		if ch.tester == nil {
			continue
		}

		res := ch.tester.Tick()
		log := s.logs.Get(idx).Get(ch.step)
		log.Err = append(log.Err, res.Err...)
		log.Out = append(log.Out, res.Out...)
		if res.ExitCode != nil {
			code := *res.ExitCode
			log.ExitCode = &code
		}
		ch.matcher.Feed(res.Err, res.Out)
		s.emit(ch, expect.StreamStderr, res.Err)
		s.emit(ch, expect.StreamStdout, res.Out)

		if res.StreamErr != nil {
			s.fail(idx, fmt.Errorf("step %d: %w", ch.step, res.StreamErr))
			ch.tester.Quit()
			ch.tester = nil
		}
	}

	if s.finished || s.quit {
		return nil
	}
	cur := s.script.Steps[s.step].Channel
	ch := s.channels.Get(cur)
	return s.evaluate(ch, s.logs.Get(cur).Get(s.step))
}

func (s *Session) emit(ch *channel, stream string, lines []string) {
	if len(lines) == 0 {
		return
	}
	s.logger.Debug("lines", "channel", ch.index, "step", ch.step, "stream", stream, "count", len(lines))
	if s.opts.OnLines != nil {
		s.opts.OnLines(ch.index, ch.step, stream, lines)
	}
}

// evaluate checks the current step's done condition against ch.
func (s *Session) evaluate(ch *channel, log *TestLog) error {
	done := s.dones[s.step]
	switch done.Kind {
	case script.DoneErr:
		if !ch.matcher.ErrSatisfied() {
			return nil
		}
		s.logger.Info("expected stderr matched", "channel", ch.index, "step", s.step)
	case script.DoneOut:
		if !ch.matcher.OutSatisfied() {
			return nil
		}
		s.logger.Info("expected stdout matched", "channel", ch.index, "step", s.step)
	case script.DoneExit:
		if log.ExitCode == nil {
			return nil
		}
		code := *log.ExitCode
		if !done.MatchesExit(code) {
			s.fail(ch.index, &ExitMismatchError{Channel: ch.index, Step: s.step, Want: done.ExitCode, Got: code})
		} else {
			s.logger.Info("process exited", "channel", ch.index, "step", s.step, "code", code)
		}
	}
	return s.advance()
}

func (s *Session) advance() error {
	if s.step == len(s.script.Steps)-1 {
		s.finished = true
		s.logger.Info("script finished", "steps", len(s.script.Steps))
		return nil
	}
	return s.NextStep()
}

// Quit terminates every process the session started. It is safe to call
// more than once.
func (s *Session) Quit() {
	if s.quit {
		return
	}
	s.quit = true
	for _, idx := range s.channels.Keys() {
		ch, _ := s.channels.Lookup(idx)
		for _, t := range ch.testers {
			t.Quit()
		}
		ch.tester = nil
	}
}
