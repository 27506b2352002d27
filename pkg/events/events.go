package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies a pin lifecycle event.
type Type string

const (
	PinResolved        Type = "pin.resolved"
	PinLookupFailed    Type = "pin.lookup_failed"
	WorkflowRehydrated Type = "workflow.rehydrated"
	WorkflowTerminal   Type = "workflow.terminal"
)

// Event is one pin lifecycle notification.
type Event struct {
	ID         string
	Type       Type
	Timestamp  time.Time
	WorkflowID string
	Image      string
	Digest     string
	Message    string
}

// Resolved reports a tag pinned to a digest.
func Resolved(workflowID, image, digest string) Event {
	return Event{Type: PinResolved, WorkflowID: workflowID, Image: image, Digest: digest}
}

// LookupFailed reports a transient lookup failure.
func LookupFailed(workflowID, image string, cause error) Event {
	return Event{Type: PinLookupFailed, WorkflowID: workflowID, Image: image, Message: cause.Error()}
}

// Rehydrated reports a restarted workflow reloading its pins.
func Rehydrated(workflowID string, pins int) Event {
	return Event{Type: WorkflowRehydrated, WorkflowID: workflowID, Message: fmt.Sprintf("rehydrated %d pins", pins)}
}

// Terminal reports a workflow entering its absorbing failure state.
func Terminal(workflowID string, cause error) Event {
	return Event{Type: WorkflowTerminal, WorkflowID: workflowID, Message: cause.Error()}
}

// DefaultBuffer is the per-subscriber channel capacity when none is given.
const DefaultBuffer = 64

// Broker fans pin lifecycle events out to subscribers. Publish never
// blocks: a subscriber that falls behind loses events rather than stalling
// the coordinator that published them.
type Broker struct {
	buffer int

	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBroker creates a broker whose subscribers receive on channels of the
// given capacity (DefaultBuffer if non-positive).
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broker{
		buffer: buffer,
		subs:   make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel; it is safe to call
// more than once.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish stamps the event and delivers it to every subscriber with
// buffer room.
func (b *Broker) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			// Subscriber lagging, drop.
		}
	}
}

// SubscriberCount returns the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
