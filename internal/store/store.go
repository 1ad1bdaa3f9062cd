package store

import (
	"context"
	"errors"

	"github.com/seantiz/procscript/internal/model"
)

// ErrInvalidTransition is returned when a run status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// RunStats holds aggregate run statistics.
type RunStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Lines         int            `json:"lines"`
}

// Store defines the persistence operations for runs and their output.
type Store interface {
	CreateRun(ctx context.Context, r *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*model.Run, int, error)
	UpdateRunStatus(ctx context.Context, id, status string) error
	UpdateRun(ctx context.Context, r *model.Run) error
	GetRunStats(ctx context.Context) (*RunStats, error)
	InsertLine(ctx context.Context, l *model.RunLine) error
	GetLines(ctx context.Context, runID string) ([]model.RunLine, error)
	Ping(ctx context.Context) error
	Close() error
}
