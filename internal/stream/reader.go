package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var (
	// ErrNoData is returned when no line became available in time.
	ErrNoData = errors.New("no data available")

	// ErrUnexpectedEndOfStream is returned once the stream has ended and every
	// buffered line has been read.
	ErrUnexpectedEndOfStream = errors.New("unexpected end of stream")

	// ErrClosed is returned by reads after Close.
	ErrClosed = errors.New("stream reader closed")
)

// Reader buffers lines read from a stream on a background goroutine.
// A single consumer may call ReadLine and Drain while the goroutine
// produces; Close may be called from any goroutine.
type Reader struct {
	src io.ReadCloser

	mu      sync.Mutex
	lines   []string
	ended   bool
	readErr error
	stopped bool

	// ready holds at most one pending wake-up for the consumer.
	ready chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// NewReader starts consuming src in the background.
func NewReader(src io.ReadCloser) *Reader {
	r := &Reader{
		src:   src,
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	go r.populate()
	return r
}

// populate reads src line by line until it ends or the reader is closed.
func (r *Reader) populate() {
	defer close(r.done)

	br := bufio.NewReader(r.src)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			r.push(cleanLine(line))
		}
		if err != nil {
			r.finish(err)
			return
		}
	}
}

func (r *Reader) push(line string) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.lines = append(r.lines, line)
	r.mu.Unlock()
	r.wake()
}

func (r *Reader) finish(err error) {
	r.mu.Lock()
	r.ended = true
	if !r.stopped && !errors.Is(err, io.EOF) {
		r.readErr = err
	}
	r.mu.Unlock()
	r.wake()
}

func (r *Reader) wake() {
	select {
	case r.ready <- struct{}{}:
	default:
	}
}

// ReadLine returns the next buffered line. With timeout <= 0 it never
// waits and returns ErrNoData if the queue is empty; otherwise it waits up
// to timeout for a line. After the stream has ended and the queue is empty
// it returns an error matching ErrUnexpectedEndOfStream.
func (r *Reader) ReadLine(timeout time.Duration) (string, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		line, ok, err := r.pop()
		if ok {
			return line, err
		}
		if expired == nil {
			return "", ErrNoData
		}

		select {
		case <-r.ready:
		case <-expired:
			line, ok, err := r.pop()
			if ok {
				return line, err
			}
			return "", ErrNoData
		}
	}
}

// pop takes the next line from the queue. ok is false when the caller
// should keep waiting.
func (r *Reader) pop() (line string, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case r.stopped:
		return "", true, ErrClosed
	case len(r.lines) > 0:
		line = r.lines[0]
		r.lines[0] = ""
		r.lines = r.lines[1:]
		return line, true, nil
	case r.ended:
		return "", true, r.endErr()
	}
	return "", false, nil
}

// endErr must be called with mu held.
func (r *Reader) endErr() error {
	if r.readErr != nil {
		return fmt.Errorf("%w: %w", ErrUnexpectedEndOfStream, r.readErr)
	}
	return ErrUnexpectedEndOfStream
}

// Drain reads every line that is currently available, using timeout for
// each individual read. It returns the lines read so far together with a
// non-nil error if the stream has ended or the reader was closed.
func (r *Reader) Drain(timeout time.Duration) ([]string, error) {
	var lines []string
	for {
		line, err := r.ReadLine(timeout)
		if errors.Is(err, ErrNoData) {
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
}

// Buffered reports the number of lines waiting to be read.
func (r *Reader) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

// Close stops the reader and closes the underlying stream. Buffered lines
// are discarded. It does not wait for the background goroutine; use Done
// for that. Calling Close more than once is a no-op.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.stopped = true
		r.lines = nil
		r.mu.Unlock()
		r.wake()

		err = r.src.Close()
	})
	return err
}

// Done returns a channel that is closed when the background goroutine has
// returned.
func (r *Reader) Done() <-chan struct{} {
	return r.done
}

// cleanLine strips the line terminator and surrounding whitespace.
func cleanLine(line string) string {
	return strings.TrimSpace(line)
}
