//go:build unix

package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTickInterval is the polling period used by Run when none is given.
const DefaultTickInterval = 10 * time.Millisecond

// Run ticks the session every interval until the script finishes, the
// session aborts or ctx ends. A passed deadline is reported as ErrDeadline.
// Run does not call Quit.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := s.Tick(); err != nil {
			return err
		}
		if s.finished {
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w at step %d of %d", ErrDeadline, s.step, len(s.script.Steps))
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
