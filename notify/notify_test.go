package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSubscribePublish(t *testing.T) {
	n := New()
	ch, cancel := n.Subscribe()
	defer cancel()

	n.Publish(Event{Kind: Updated, Name: "db1"})

	select {
	case ev := <-ch:
		require.Equal(t, Updated, ev.Kind)
		require.Equal(t, "db1", ev.Name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	n := New()
	ch, cancel := n.Subscribe()
	cancel()
	n.Publish(Event{Kind: Compacted, Name: "db1"})

	_, ok := <-ch
	require.False(t, ok)
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	n := New()
	_, cancel := n.Subscribe()
	defer cancel()
	for i := 0; i < 1000; i++ {
		n.Publish(Event{Kind: Updated})
	}
}
