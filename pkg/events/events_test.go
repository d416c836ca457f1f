package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{
		Type:       EventInstanceSubmitted,
		InstanceID: "inst-1",
		Message:    "submitted to scheduler",
	})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, EventInstanceSubmitted, ev.Type)
			assert.Equal(t, "inst-1", ev.InstanceID)
			assert.False(t, ev.Timestamp.IsZero(), "timestamp should be stamped on publish")
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	// Never drained; its buffer will fill and further events are dropped
	// for it rather than stalling the broker.
	b.Subscribe()
	live := b.Subscribe()

	for i := 0; i < 80; i++ {
		b.Publish(&Event{Type: EventTickCompleted})
		select {
		case <-live:
		case <-time.After(time.Second):
			t.Fatal("live subscriber starved by a slow one")
		}
	}
}

func TestPublishAfterStopDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventCompositionUpdated})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Stop")
	}
}

func TestExplicitTimestampPreserved(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(&Event{Type: EventInstanceFailed, Timestamp: ts})

	select {
	case ev := <-sub:
		require.Equal(t, ts, ev.Timestamp)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}
