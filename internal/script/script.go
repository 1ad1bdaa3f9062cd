package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// Step types.
const (
	TypeCmd    = "cmd"
	TypeSignal = "signal"
)

var (
	// ErrInvalidScript is wrapped by every validation and decoding error.
	ErrInvalidScript = errors.New("invalid script")

	// ErrSignalBeforeCmd is returned when a signal step targets a channel
	// that no earlier cmd step has started.
	ErrSignalBeforeCmd = errors.New("signal step before any cmd step on its channel")
)

// Signal is a signal number. In scripts it may be written as an integer or
// as a name such as "SIGTERM" or "TERM".
type Signal int

// ParseSignal converts a signal name or number into a Signal.
func ParseSignal(s string) (Signal, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return Signal(sig), nil
	}
	return 0, fmt.Errorf("%w: unknown signal %q", ErrInvalidScript, s)
}

// Unix returns the signal as a unix.Signal.
func (s Signal) Unix() unix.Signal {
	return unix.Signal(s)
}

func (s Signal) String() string {
	if name := unix.SignalName(unix.Signal(s)); name != "" {
		return name
	}
	return strconv.Itoa(int(s))
}

// UnmarshalYAML accepts an integer or a signal name.
func (s *Signal) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseSignal(node.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts an integer or a signal name.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*s = Signal(n)
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("%w: signal must be a number or a name", ErrInvalidScript)
	}
	parsed, err := ParseSignal(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Step is one scripted action plus the output it expects and the condition
// that completes it.
type Step struct {
	Type    string   `yaml:"type" json:"type"`
	Channel int      `yaml:"channel,omitempty" json:"channel,omitempty"`
	Cmd     []string `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Signal  Signal   `yaml:"signal,omitempty" json:"signal,omitempty"`
	Err     []string `yaml:"err,omitempty" json:"err,omitempty"`
	Out     []string `yaml:"out,omitempty" json:"out,omitempty"`
	Done    string   `yaml:"done" json:"done"`
}

// Script is an ordered list of steps.
type Script struct {
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Len returns the number of steps.
func (s Script) Len() int {
	return len(s.Steps)
}

// Validate checks every step and the channel ordering constraints.
func (s Script) Validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: no steps", ErrInvalidScript)
	}

	started := make(map[int]bool)
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		switch step.Type {
		case TypeCmd:
			started[step.Channel] = true
		case TypeSignal:
			if !started[step.Channel] {
				return fmt.Errorf("step %d: channel %d: %w: %w", i, step.Channel, ErrInvalidScript, ErrSignalBeforeCmd)
			}
		}
	}
	return nil
}

func (st Step) validate() error {
	if st.Channel < 0 {
		return fmt.Errorf("%w: negative channel %d", ErrInvalidScript, st.Channel)
	}
	switch st.Type {
	case TypeCmd:
		if len(st.Cmd) == 0 || st.Cmd[0] == "" {
			return fmt.Errorf("%w: cmd step without a command", ErrInvalidScript)
		}
	case TypeSignal:
		if st.Signal <= 0 {
			return fmt.Errorf("%w: signal step without a signal", ErrInvalidScript)
		}
	default:
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidScript, st.Type)
	}
	if _, err := ParseDone(st.Done); err != nil {
		return err
	}
	return nil
}
