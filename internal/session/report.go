//go:build unix

package session

import (
	"errors"
	"fmt"
	"slices"

	"github.com/seantiz/procscript/internal/expect"
)

// ChannelReport summarises one channel at the step that last targeted it.
type ChannelReport struct {
	Channel    int             `json:"channel"`
	Step       int             `json:"step"`
	Satisfied  bool            `json:"satisfied"`
	Progress   expect.Progress `json:"progress"`
	MissingErr []string        `json:"missing_err,omitempty"`
	MissingOut []string        `json:"missing_out,omitempty"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Err        []string        `json:"err,omitempty"`
	Out        []string        `json:"out,omitempty"`
	Failures   []string        `json:"failures,omitempty"`
}

// Report checks every channel's matcher and collects the recorded failures.
// The returned error is nil only when every expected line was seen, no
// failure was recorded and the script ran to completion.
func (s *Session) Report() ([]ChannelReport, error) {
	var errs []error
	reports := make([]ChannelReport, 0, s.channels.Len())

	for _, idx := range s.channels.Keys() {
		ch, _ := s.channels.Lookup(idx)
		rep := ChannelReport{
			Channel:   idx,
			Step:      ch.step,
			Satisfied: ch.matcher.Satisfied(),
			Progress:  ch.matcher.Progress(),
		}
		rep.MissingErr, rep.MissingOut = ch.matcher.Missing()
		if log := s.Log(idx, ch.step); log != nil {
			rep.Err = slices.Clone(log.Err)
			rep.Out = slices.Clone(log.Out)
			if log.ExitCode != nil {
				code := *log.ExitCode
				rep.ExitCode = &code
			}
		}
		if err := ch.matcher.Report(); err != nil {
			errs = append(errs, fmt.Errorf("channel %d step %d: %w", idx, ch.step, err))
		}
		for _, f := range s.failures {
			if f.channel == idx {
				rep.Failures = append(rep.Failures, f.err.Error())
			}
		}
		reports = append(reports, rep)
	}

	for _, f := range s.failures {
		errs = append(errs, fmt.Errorf("channel %d: %w", f.channel, f.err))
	}
	switch {
	case s.aborted != nil:
		errs = append(errs, s.aborted)
	case !s.finished:
		errs = append(errs, fmt.Errorf("%w: stopped at step %d of %d", ErrIncomplete, s.step, len(s.script.Steps)))
	}
	return reports, errors.Join(errs...)
}
