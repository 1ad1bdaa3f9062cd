// Package stream provides non-blocking line retrieval from a blocking byte
// stream such as a child process's stdout or stderr.
//
// A Reader consumes its stream on a dedicated goroutine and buffers whole
// lines in an unbounded queue, so the goroutine only ever blocks on the
// stream itself. Callers poll the queue with ReadLine or Drain, either
// returning immediately or waiting for a bounded time.
//
// The end of a stream is reported as ErrUnexpectedEndOfStream once all
// buffered lines have been consumed. Close stops the reader without waiting
// for the goroutine: it closes the underlying stream, which unblocks a
// parked read, and discards anything still buffered.
package stream
