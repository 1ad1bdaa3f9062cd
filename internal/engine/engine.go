package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/procscript/internal/model"
	"github.com/seantiz/procscript/internal/script"
	"github.com/seantiz/procscript/internal/session"
	"github.com/seantiz/procscript/internal/store"
	"github.com/seantiz/procscript/internal/typedmap"
)

// DefaultTimeoutS is the default run timeout in seconds when none is specified.
const DefaultTimeoutS = 30

// ErrNotActive is returned by Cancel for runs that are no longer executing.
var ErrNotActive = errors.New("run is not active")

// Options tunes how runs are executed.
type Options struct {
	// WorkDir is the working directory for runs that do not name one.
	WorkDir string

	// TickInterval is how often each session is polled.
	TickInterval time.Duration

	// LineTimeout bounds each line read during a tick.
	LineTimeout time.Duration

	// DefaultTimeout applies to runs without TimeoutS. Zero means
	// DefaultTimeoutS seconds.
	DefaultTimeout time.Duration
}

// Engine orchestrates asynchronous run execution.
type Engine struct {
	store  store.Store
	logger *slog.Logger
	opts   Options
	wg     sync.WaitGroup
	broker *LineBroker

	mu      sync.Mutex
	cancels *typedmap.Map[string, context.CancelFunc]
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, logger *slog.Logger, opts Options) *Engine {
	if opts.TickInterval <= 0 {
		opts.TickInterval = session.DefaultTickInterval
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeoutS * time.Second
	}
	return &Engine{
		store:  s,
		logger: logger,
		opts:   opts,
		broker: NewLineBroker(),
		cancels: typedmap.New(func(string) context.CancelFunc {
			return func() {}
		}),
	}
}

// Broker returns the engine's line broker for SSE subscription.
func (e *Engine) Broker() *LineBroker {
	return e.broker
}

// Submit validates sc, stores run with status "pending" and starts executing
// it in a goroutine. Fields of run that describe the script are filled in
// from sc. The goroutine works on a copy of run.
func (e *Engine) Submit(ctx context.Context, run *model.Run, sc script.Script) error {
	if err := sc.Validate(); err != nil {
		return err
	}

	if run.ID == "" {
		run.ID = model.NewID()
	}
	if run.Name == "" {
		run.Name = sc.Name
	}
	if run.Dir == "" {
		run.Dir = e.opts.WorkDir
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.Status = model.StatusPending
	run.Steps = sc.Len()

	encoded, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode script: %w", err)
	}
	run.Script = encoded

	if err := e.store.CreateRun(ctx, run); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels.Set(run.ID, cancel)
	e.mu.Unlock()

	runCopy := *run
	e.wg.Go(func() {
		defer e.forget(runCopy.ID)
		e.execute(runCtx, &runCopy, sc)
	})

	return nil
}

// Cancel stops an active run. The run ends with status "cancelled".
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	cancel, ok := e.cancels.Lookup(id)
	e.mu.Unlock()
	if ok {
		cancel()
		return nil
	}

	r, err := e.store.GetRun(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: run %s is %s", ErrNotActive, id, r.Status)
}

// CancelAll stops every active run.
func (e *Engine) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.cancels.Keys() {
		e.cancels.Get(id)()
	}
}

// Active returns the number of runs that have been submitted and not yet
// finished.
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels.Len()
}

// Wait blocks until all in-flight runs complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.cancels.Lookup(id); ok {
		cancel()
		e.cancels.Delete(id)
	}
}

func (e *Engine) timeout(run *model.Run) time.Duration {
	if run.TimeoutS != nil && *run.TimeoutS > 0 {
		return time.Duration(*run.TimeoutS) * time.Second
	}
	return e.opts.DefaultTimeout
}

// execute runs the lifecycle pending→running→passed/failed/error/cancelled.
func (e *Engine) execute(ctx context.Context, run *model.Run, sc script.Script) {
	defer e.broker.Close(run.ID)
	logger := e.logger.With("run_id", run.ID)

	// Cancelled before it started.
	if ctx.Err() != nil {
		if err := e.store.UpdateRunStatus(context.Background(), run.ID, model.StatusCancelled); err != nil {
			logger.Error("failed to cancel pending run", "error", err)
		}
		runsTotal.WithLabelValues(model.StatusCancelled).Inc()
		return
	}

	if err := e.store.UpdateRunStatus(context.Background(), run.ID, model.StatusRunning); err != nil {
		logger.Error("failed to transition to running", "error", err)
		e.finish(run, nil, model.StatusError, fmt.Sprintf("failed to start: %v", err), nil)
		return
	}

	start := time.Now().UTC()
	activeRuns.Inc()
	defer activeRuns.Dec()

	// Lines are persisted even after cancellation so history stays complete.
	persistCtx := context.WithoutCancel(ctx)
	seq := 0
	stepsDone := 0

	sess, err := session.New(sc, session.Options{
		Dir:         run.Dir,
		LineTimeout: e.opts.LineTimeout,
		Logger:      logger,
		OnLines: func(channel, step int, stream string, lines []string) {
			linesTotal.WithLabelValues(stream).Add(float64(len(lines)))
			for _, text := range lines {
				l := model.RunLine{
					RunID:   run.ID,
					Seq:     seq,
					Channel: channel,
					Step:    step,
					Stream:  stream,
					Line:    text,
				}
				seq++
				if err := e.store.InsertLine(persistCtx, &l); err != nil {
					logger.Error("failed to persist line", "seq", l.Seq, "error", err)
				}
				e.broker.Publish(l)
			}
		},
		OnStep: func(index int, st script.Step) {
			stepsTotal.WithLabelValues(st.Type).Inc()
			stepsDone = index
		},
	})
	if err != nil {
		e.finish(run, &start, model.StatusError, err.Error(), nil)
		return
	}
	defer sess.Quit()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout(run))
	defer cancel()

	runErr := sess.Run(runCtx, e.opts.TickInterval)
	reports, reportErr := sess.Report()
	sess.Quit()

	if sess.Finished() {
		stepsDone = sess.Len()
	}
	run.StepsDone = stepsDone

	status, msg := classify(runErr, reportErr)
	results, err := json.Marshal(reports)
	if err != nil {
		logger.Error("failed to encode results", "error", err)
	}
	logger.Info("run finished", "status", status, "steps_done", stepsDone, "error", msg)
	e.finish(run, &start, status, msg, results)
}

// classify maps the session outcome to a final run status.
func classify(runErr, reportErr error) (status, msg string) {
	switch {
	case errors.Is(runErr, context.Canceled):
		return model.StatusCancelled, "run cancelled"
	case errors.Is(runErr, session.ErrNoProcess):
		if reportErr == nil {
			return model.StatusError, runErr.Error()
		}
		return model.StatusError, reportErr.Error()
	case reportErr != nil:
		return model.StatusFailed, reportErr.Error()
	case runErr != nil:
		return model.StatusFailed, runErr.Error()
	}
	return model.StatusPassed, ""
}

// finish stores the final state of run. startedAt may be nil if execution
// never started.
func (e *Engine) finish(run *model.Run, startedAt *time.Time, status, errMsg string, results json.RawMessage) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		d := now.Sub(*startedAt)
		durationMS = int(d.Milliseconds())
		runDuration.Observe(d.Seconds())
	}

	run.Status = status
	run.Error = errMsg
	run.Results = results
	run.DurationMS = &durationMS
	run.StartedAt = startedAt
	run.FinishedAt = &now

	if err := e.store.UpdateRun(context.Background(), run); err != nil {
		e.logger.Error("failed to store finished run", "run_id", run.ID, "status", status, "error", err)
	}
	runsTotal.WithLabelValues(status).Inc()
}
