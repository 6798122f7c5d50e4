package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToSubscribers(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()

	hub.EmitLine("PROGRESS: Processed 1 / 2 (50%)")

	select {
	case line := <-a:
		assert.Equal(t, "PROGRESS: Processed 1 / 2 (50%)", line)
	case <-time.After(time.Second):
		t.Fatal("subscriber a got nothing")
	}
	select {
	case line := <-b:
		assert.Equal(t, "PROGRESS: Processed 1 / 2 (50%)", line)
	case <-time.After(time.Second):
		t.Fatal("subscriber b got nothing")
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	// Double cancel is a no-op
	cancel()

	// Emitting after unsubscribe must not panic
	hub.EmitLine("STATUS: 0 successful, 0 failed, 0 errors")
}

func TestHubDropsWhenSubscriberLagsBehind(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer; the emitter must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.EmitLine("SPEED: 1.00 per second, ETA: 0s")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("emitter blocked on a slow subscriber")
	}

	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			require.LessOrEqual(t, received, 256)
			return
		}
	}
}
