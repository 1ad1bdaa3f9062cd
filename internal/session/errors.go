//go:build unix

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProcess is returned when a signal step targets a channel that has
	// no process to signal. It aborts the session.
	ErrNoProcess = errors.New("no process on channel")

	// ErrDeadline is returned by Run when the context deadline passes before
	// the script finishes.
	ErrDeadline = errors.New("session deadline exceeded")

	// ErrIncomplete is reported when the script stopped before its last step
	// completed.
	ErrIncomplete = errors.New("script did not complete")
)

// ExitMismatchError records a process whose exit code differed from the
// code its step expected. It never blocks the step from completing.
type ExitMismatchError struct {
	Channel int
	Step    int
	Want    int
	Got     int
}

func (e *ExitMismatchError) Error() string {
	return fmt.Sprintf("channel %d step %d: exit code %d, want %d", e.Channel, e.Step, e.Got, e.Want)
}

// channelError ties a recorded failure to the channel it happened on.
type channelError struct {
	channel int
	err     error
}
