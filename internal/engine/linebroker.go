package engine

import (
	"sync"

	"github.com/seantiz/procscript/internal/model"
)

// subscriberBufferSize is the channel buffer for each line subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// LineBroker fans captured run output out to live subscribers.
// It is safe for concurrent use.
//
// Finished runs keep a closed marker so that subscribers arriving after the
// run ended get a closed channel instead of blocking forever.
type LineBroker struct {
	mu     sync.Mutex
	topics map[string]*lineTopic
}

type lineTopic struct {
	subs   map[int]chan model.RunLine
	nextID int
	closed bool
}

// NewLineBroker creates an empty broker.
func NewLineBroker() *LineBroker {
	return &LineBroker{
		topics: make(map[string]*lineTopic),
	}
}

// Subscribe returns a channel receiving the lines of runID published from now
// on, plus an unsubscribe function. If the run has already finished the
// channel is closed.
func (b *LineBroker) Subscribe(runID string) (<-chan model.RunLine, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		t = &lineTopic{subs: make(map[int]chan model.RunLine)}
		b.topics[runID] = t
	}

	ch := make(chan model.RunLine, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := t.nextID
	t.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// Publish sends line to every subscriber of line.RunID. Subscribers with a
// full buffer miss the line.
func (b *LineBroker) Publish(line model.RunLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[line.RunID]
	if !ok || t.closed {
		return
	}

	for _, ch := range t.subs {
		select {
		case ch <- line:
		default:
		}
	}
}

// Close ends the stream for runID: every subscriber channel is closed and
// later subscriptions get a closed channel.
func (b *LineBroker) Close(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[runID]
	if !ok {
		b.topics[runID] = &lineTopic{subs: make(map[int]chan model.RunLine), closed: true}
		return
	}

	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}
}
