package script

import (
	"fmt"
	"strconv"
	"strings"
)

// DoneKind selects what completes a step.
type DoneKind int

const (
	// DoneErr completes the step once all expected stderr lines are matched.
	DoneErr DoneKind = iota + 1
	// DoneOut completes the step once all expected stdout lines are matched.
	DoneOut
	// DoneExit completes the step once the process has exited.
	DoneExit
)

// Done is a parsed done condition.
type Done struct {
	Kind DoneKind

	// CheckCode is set when an exit condition names an expected code.
	CheckCode bool
	ExitCode  int
}

// ParseDone parses "err", "out", "exit" or "exit:<code>". The separators
// "=" and " " are accepted in place of ":".
func ParseDone(s string) (Done, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "err":
		return Done{Kind: DoneErr}, nil
	case "out":
		return Done{Kind: DoneOut}, nil
	case "exit":
		return Done{Kind: DoneExit}, nil
	}

	rest, ok := strings.CutPrefix(s, "exit")
	if !ok || rest == "" || !strings.ContainsAny(rest[:1], ": =") {
		return Done{}, fmt.Errorf("%w: unknown done condition %q", ErrInvalidScript, s)
	}
	code, err := strconv.Atoi(strings.TrimSpace(rest[1:]))
	if err != nil {
		return Done{}, fmt.Errorf("%w: bad exit code in done condition %q", ErrInvalidScript, s)
	}
	return Done{Kind: DoneExit, CheckCode: true, ExitCode: code}, nil
}

// MatchesExit reports whether an observed exit code satisfies the expected
// one. Conditions without an expected code accept any exit.
func (d Done) MatchesExit(code int) bool {
	return !d.CheckCode || d.ExitCode == code
}

func (d Done) String() string {
	switch d.Kind {
	case DoneErr:
		return "err"
	case DoneOut:
		return "out"
	case DoneExit:
		if d.CheckCode {
			return "exit:" + strconv.Itoa(d.ExitCode)
		}
		return "exit"
	}
	return "unknown"
}
