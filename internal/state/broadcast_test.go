package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversLatest(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish([]SessionSnapshot{{ID: "old"}})
	b.Publish([]SessionSnapshot{{ID: "new"}})

	got := <-ch
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID, "slow consumer sees the newest frame")
}

func TestBroadcasterUnsubscribeCloses(t *testing.T) {
	b := NewBroadcaster()
	ch := b.Subscribe()
	b.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	b.Publish([]SessionSnapshot{{ID: "x"}})
}
