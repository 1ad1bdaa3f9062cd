package expect

import (
	"errors"
	"slices"
	"testing"
)

func TestFeedSubsequence(t *testing.T) {
	tests := []struct {
		name     string
		expected []string
		observed [][]string
		want     bool
		matched  int
	}{
		{
			name:     "exact",
			expected: []string{"A", "B"},
			observed: [][]string{{"A", "B"}},
			want:     true,
			matched:  2,
		},
		{
			name:     "interleaved noise",
			expected: []string{"A", "B"},
			observed: [][]string{{"X", "A", "Y", "B"}},
			want:     true,
			matched:  2,
		},
		{
			name:     "split across feeds",
			expected: []string{"A", "B", "C"},
			observed: [][]string{{"A"}, {}, {"noise", "B"}, {"C", "trailing"}},
			want:     true,
			matched:  3,
		},
		{
			name:     "wrong order",
			expected: []string{"A", "B"},
			observed: [][]string{{"B", "A"}},
			want:     false,
			matched:  1,
		},
		{
			name:     "repeated expected line",
			expected: []string{"A", "A"},
			observed: [][]string{{"A", "X", "A"}},
			want:     true,
			matched:  2,
		},
		{
			name:     "nothing expected",
			expected: nil,
			observed: [][]string{{"anything"}},
			want:     true,
			matched:  0,
		},
		{
			name:     "prefix must match exactly",
			expected: []string{"hello"},
			observed: [][]string{{"hello world", "hell"}},
			want:     false,
			matched:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(nil, tt.expected)
			for _, batch := range tt.observed {
				m.Feed(nil, batch)
			}
			if got := m.OutSatisfied(); got != tt.want {
				t.Errorf("OutSatisfied() = %v, want %v", got, tt.want)
			}
			if got := m.Progress().OutMatched; got != tt.matched {
				t.Errorf("OutMatched = %d, want %d", got, tt.matched)
			}
		})
	}
}

func TestStreamsAreIndependent(t *testing.T) {
	m := New([]string{"E1", "E2"}, []string{"O1"})

	m.Feed([]string{"O1", "E1"}, []string{"E1", "E2"})

	p := m.Progress()
	if p.ErrMatched != 1 || p.ErrExpected != 2 {
		t.Errorf("err progress = %d/%d, want 1/2", p.ErrMatched, p.ErrExpected)
	}
	if p.OutMatched != 0 || p.OutExpected != 1 {
		t.Errorf("out progress = %d/%d, want 0/1", p.OutMatched, p.OutExpected)
	}
	if m.ErrSatisfied() || m.OutSatisfied() || m.Satisfied() {
		t.Error("matcher reports satisfaction with lines on the wrong stream")
	}

	m.Feed([]string{"E2"}, []string{"O1"})
	if !m.Satisfied() {
		t.Error("Satisfied() = false after all lines arrived")
	}
}

func TestCountersNeverExceedExpected(t *testing.T) {
	m := New([]string{"x"}, []string{"y"})
	for range 3 {
		m.Feed([]string{"x", "x"}, []string{"y", "y"})
	}
	p := m.Progress()
	if p.ErrMatched != 1 || p.OutMatched != 1 {
		t.Errorf("progress = %+v, want counters capped at 1", p)
	}
}

func TestExpectationsAreCopied(t *testing.T) {
	out := []string{"A"}
	m := New(nil, out)
	out[0] = "changed"

	m.Feed(nil, []string{"A"})
	if !m.OutSatisfied() {
		t.Error("matcher observed a mutation of the caller's slice")
	}
}

func TestReportSatisfied(t *testing.T) {
	m := New([]string{"e"}, []string{"o"})
	m.Feed([]string{"e"}, []string{"o"})

	for range 2 {
		if err := m.Report(); err != nil {
			t.Errorf("Report() = %v, want nil", err)
		}
	}
}

func TestReportUnsatisfied(t *testing.T) {
	m := New([]string{"e1", "e2"}, []string{"hello", "world"})
	m.Feed([]string{"e1"}, []string{"hello"})

	err := m.Report()
	if err == nil {
		t.Fatal("Report() = nil, want error")
	}

	var unsat *UnsatisfiedError
	if !errors.As(err, &unsat) {
		t.Fatalf("Report() error %T does not contain *UnsatisfiedError", err)
	}
	if unsat.Stream != StreamStdout {
		t.Errorf("first unsatisfied stream = %q, want %q", unsat.Stream, StreamStdout)
	}
	if !slices.Equal(unsat.Missing, []string{"world"}) {
		t.Errorf("Missing = %v, want [world]", unsat.Missing)
	}
	if unsat.Matched != 1 {
		t.Errorf("Matched = %d, want 1", unsat.Matched)
	}

	// Deterministic for the same state.
	if again := m.Report(); again == nil || again.Error() != err.Error() {
		t.Errorf("second Report() = %v, want %v", again, err)
	}

	errMissing, outMissing := m.Missing()
	if !slices.Equal(errMissing, []string{"e2"}) || !slices.Equal(outMissing, []string{"world"}) {
		t.Errorf("Missing() = %v, %v; want [e2], [world]", errMissing, outMissing)
	}
}

func TestUnsatisfiedErrorMessage(t *testing.T) {
	err := &UnsatisfiedError{Stream: StreamStderr, Matched: 2, Missing: []string{"a b", "c"}}
	want := `stderr: 2 expected line(s) not found after 2 matched: "a b", "c"`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
