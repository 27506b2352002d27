package lookup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMailboxOrdering(t *testing.T) {
	m := newMailbox()
	for i := 0; i < 100; i++ {
		require.True(t, m.put(i))
	}

	for i := 0; i < 100; i++ {
		msg, ok := m.take()
		require.True(t, ok)
		assert.Equal(t, i, msg)
	}
}

func TestMailboxDrainsAfterClose(t *testing.T) {
	m := newMailbox()
	require.True(t, m.put("a"))
	require.True(t, m.put("b"))
	m.close()

	// Queued messages survive close; new ones are refused.
	assert.False(t, m.put("c"))

	msg, ok := m.take()
	require.True(t, ok)
	assert.Equal(t, "a", msg)

	msg, ok = m.take()
	require.True(t, ok)
	assert.Equal(t, "b", msg)

	_, ok = m.take()
	assert.False(t, ok)
}

func TestMailboxTakeBlocksUntilPut(t *testing.T) {
	m := newMailbox()

	got := make(chan message, 1)
	go func() {
		msg, ok := m.take()
		if ok {
			got <- msg
		}
	}()

	require.True(t, m.put("wake"))
	assert.Equal(t, "wake", <-got)
}

func TestMailboxDepth(t *testing.T) {
	m := newMailbox()
	assert.Equal(t, 0, m.depth())
	m.put("a")
	m.put("b")
	assert.Equal(t, 2, m.depth())
}
