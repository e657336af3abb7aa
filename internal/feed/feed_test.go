package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeed_LatestValueWins(t *testing.T) {
	f := New[int]()
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Publish(1)
	f.Publish(2)
	f.Publish(3)

	require.Len(t, ch, 1)
	assert.Equal(t, 3, <-ch)
}

func TestFeed_HoldAndRelease(t *testing.T) {
	f := New[string]()
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Hold()
	f.Publish("a")
	f.Publish("b")
	assert.Empty(t, ch)

	f.Release()
	require.Len(t, ch, 1)
	assert.Equal(t, "b", <-ch)
}

func TestFeed_ReleaseWithoutPendingSendsNothing(t *testing.T) {
	f := New[int]()
	ch, cancel := f.Subscribe()
	defer cancel()

	f.Hold()
	f.Release()
	assert.Empty(t, ch)
}

func TestFeed_CancelClosesChannel(t *testing.T) {
	f := New[int]()
	ch, cancel := f.Subscribe()
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after cancel must not panic.
	f.Publish(1)
}

func TestFeed_Close(t *testing.T) {
	f := New[int]()
	ch, _ := f.Subscribe()
	f.Close()

	_, ok := <-ch
	assert.False(t, ok)

	late, _ := f.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
}
