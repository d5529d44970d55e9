// Package events implements the per-run Event Bus: a non-blocking
// broadcast channel with bounded per-subscriber buffers and a small
// replay cache for subscribers that attach late. Grounded directly on
// the nil-safe broadcast bus found in the retrieval pack's standalone
// event-bus file, adapted from a generic payload type to domain.Event
// and extended with the terminal-event replay cache spec §4.6 requires.
package events

import (
	"sync"

	"github.com/zaugust4891/ad-image-generator/domain"
)

// DefaultBufferSize is the per-subscriber channel capacity used when a
// caller does not override it.
const DefaultBufferSize = 256

// Bus fans a single producer's events out to zero or more subscribers.
// Publish never blocks: a subscriber whose buffer is full is dropped
// (its channel is closed) rather than backpressuring the producer.
type Bus struct {
	mu         sync.Mutex
	bufferSize int
	subs       map[chan domain.Event]struct{}

	// replay holds enough history for a subscriber that attaches after
	// the run has already started, or after it has already finished, to
	// observe the events it needs: at minimum the terminal event, and a
	// Started event while the run is still bootstrapping.
	replay []domain.Event
	closed bool
}

// New builds a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[chan domain.Event]struct{}),
	}
}

// Publish sends event to every current subscriber without blocking. A
// subscriber whose buffer is already full is dropped. Publish also
// updates the replay cache: it retains the most recent Started event
// (if the terminal event has not yet been seen) and always retains the
// most recent event, so a late subscriber's replay always ends with
// whatever a timely subscriber would see next.
func (b *Bus) Publish(event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.updateReplay(event)

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			delete(b.subs, ch)
			close(ch)
		}
	}

	if event.IsTerminal() {
		b.closed = true
		for ch := range b.subs {
			close(ch)
		}
		b.subs = make(map[chan domain.Event]struct{})
	}
}

func (b *Bus) updateReplay(event domain.Event) {
	switch {
	case event.IsTerminal():
		b.replay = []domain.Event{event}
	case event.Type == domain.EventStarted:
		b.replay = []domain.Event{event}
	default:
		if len(b.replay) > 0 && b.replay[0].Type == domain.EventStarted {
			b.replay = []domain.Event{b.replay[0], event}
		} else {
			b.replay = []domain.Event{event}
		}
	}
}

// Subscribe returns a channel that receives future events. If the bus
// already holds replay history (the run has started or finished), the
// channel is pre-seeded with it before Subscribe returns, so a reader
// that attaches after Finished|Failed still observes the terminal
// event. The returned unsubscribe function must be called when the
// caller is done reading, to release the channel's slot; it is a no-op
// if the bus already closed the channel itself.
func (b *Bus) Subscribe() (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, b.bufferSize+len(b.replay))
	for _, e := range b.replay {
		ch <- e
	}

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.subs[ch] = struct{}{}
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}
}

// SubscriberCount reports the number of currently attached subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
