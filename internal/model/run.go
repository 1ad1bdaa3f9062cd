package model

import (
	"encoding/json"
	"time"
)

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusPassed    = "passed"
	StatusFailed    = "failed"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// Stream names carried by RunLine.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:   true,
		StatusError:     true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusPassed:    true,
		StatusFailed:    true,
		StatusError:     true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a run in status will never change again.
func IsTerminal(status string) bool {
	switch status {
	case StatusPassed, StatusFailed, StatusError, StatusCancelled:
		return true
	}
	return false
}

// RunLine is a single captured output line of a run.
type RunLine struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Channel   int       `json:"channel"`
	Step      int       `json:"step"`
	Stream    string    `json:"stream"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one execution of a script.
type Run struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Status     string          `json:"status"`
	Dir        string          `json:"dir,omitempty"`
	TimeoutS   *int            `json:"timeout_s,omitempty"`
	Script     json.RawMessage `json:"script,omitempty"`
	Steps      int             `json:"steps"`
	StepsDone  int             `json:"steps_done"`
	Results    json.RawMessage `json:"results,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMS *int            `json:"duration_ms,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
