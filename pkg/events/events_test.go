package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker(4)

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Resolved("wf-1", "docker.io/library/ubuntu:latest", "sha256:aaaa"))

	// Delivery is synchronous; the event is already buffered.
	got := <-ch
	assert.Equal(t, PinResolved, got.Type)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "sha256:aaaa", got.Digest)
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
}

func TestBrokerCancelClosesChannel(t *testing.T) {
	b := NewBroker(0)

	ch, cancel := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	cancel()
	require.Equal(t, 0, b.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is a no-op.
	cancel()
}

func TestBrokerDropsWhenSubscriberLags(t *testing.T) {
	b := NewBroker(1)

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(Rehydrated("wf-1", 2))
	b.Publish(Terminal("wf-1", errors.New("load failed"))) // buffer full, dropped

	got := <-ch
	assert.Equal(t, WorkflowRehydrated, got.Type)
	assert.Empty(t, ch)
}

func TestEventConstructors(t *testing.T) {
	ev := LookupFailed("wf-1", "docker.io/library/ubuntu:latest", errors.New("timeout"))
	assert.Equal(t, PinLookupFailed, ev.Type)
	assert.Equal(t, "timeout", ev.Message)

	ev = Rehydrated("wf-1", 7)
	assert.Contains(t, ev.Message, "7")
}
