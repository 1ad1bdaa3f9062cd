// Package expect matches observed output lines against expected ordered
// subsequences.
package expect

import (
	"errors"
	"fmt"
	"strings"
)

// Stream names used in reports.
const (
	StreamStderr = "stderr"
	StreamStdout = "stdout"
)

// UnsatisfiedError lists the expected lines of one stream that were never
// observed.
type UnsatisfiedError struct {
	Stream  string
	Matched int
	Missing []string
}

func (e *UnsatisfiedError) Error() string {
	quoted := make([]string, len(e.Missing))
	for i, l := range e.Missing {
		quoted[i] = fmt.Sprintf("%q", l)
	}
	return fmt.Sprintf("%s: %d expected line(s) not found after %d matched: %s",
		e.Stream, len(e.Missing), e.Matched, strings.Join(quoted, ", "))
}

// Progress reports how far matching has advanced on both streams.
type Progress struct {
	ErrMatched  int `json:"err_matched"`
	ErrExpected int `json:"err_expected"`
	OutMatched  int `json:"out_matched"`
	OutExpected int `json:"out_expected"`
}

// sequence tracks the next pending expected line of one stream.
type sequence struct {
	expected []string
	matched  int
}

// feed compares each observed line, in order, with the next pending
// expected line. Non-matching lines are skipped.
func (s *sequence) feed(observed []string) {
	for _, line := range observed {
		if s.done() {
			return
		}
		if line == s.expected[s.matched] {
			s.matched++
		}
	}
}

func (s *sequence) done() bool {
	return s.matched == len(s.expected)
}

func (s *sequence) check(stream string) error {
	if s.done() {
		return nil
	}
	return &UnsatisfiedError{
		Stream:  stream,
		Matched: s.matched,
		Missing: append([]string(nil), s.expected[s.matched:]...),
	}
}

// Matcher holds the expectations for one step and the match progress made
// against them. It is not safe for concurrent use.
type Matcher struct {
	err sequence
	out sequence
}

// New returns a Matcher expecting errLines on stderr and outLines on stdout,
// each as an ordered subsequence.
func New(errLines, outLines []string) *Matcher {
	return &Matcher{
		err: sequence{expected: append([]string(nil), errLines...)},
		out: sequence{expected: append([]string(nil), outLines...)},
	}
}

// Feed scans newly observed lines in arrival order. Each stream advances
// independently; extra interleaved output is tolerated.
func (m *Matcher) Feed(newErr, newOut []string) {
	m.err.feed(newErr)
	m.out.feed(newOut)
}

// ErrSatisfied reports whether every expected stderr line has been matched.
func (m *Matcher) ErrSatisfied() bool {
	return m.err.done()
}

// OutSatisfied reports whether every expected stdout line has been matched.
func (m *Matcher) OutSatisfied() bool {
	return m.out.done()
}

// Satisfied reports whether both streams are fully matched.
func (m *Matcher) Satisfied() bool {
	return m.ErrSatisfied() && m.OutSatisfied()
}

// Progress returns the current match counters.
func (m *Matcher) Progress() Progress {
	return Progress{
		ErrMatched:  m.err.matched,
		ErrExpected: len(m.err.expected),
		OutMatched:  m.out.matched,
		OutExpected: len(m.out.expected),
	}
}

// Missing returns the expected lines not yet observed on each stream.
func (m *Matcher) Missing() (errLines, outLines []string) {
	return append([]string(nil), m.err.expected[m.err.matched:]...),
		append([]string(nil), m.out.expected[m.out.matched:]...)
}

// Report returns nil if all expectations are met. Otherwise it returns one
// *UnsatisfiedError per incomplete stream, stdout first, joined together.
// The result depends only on the match state.
func (m *Matcher) Report() error {
	return errors.Join(m.out.check(StreamStdout), m.err.check(StreamStderr))
}
