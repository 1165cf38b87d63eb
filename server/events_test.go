package main

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusScopedToForum(t *testing.T) {
	bus := NewEventBus()
	ch1, cancel1 := bus.Subscribe(1)
	defer cancel1()
	ch2, cancel2 := bus.Subscribe(2)
	defer cancel2()

	bus.Publish(Event{Type: "comment.created", Entity: "comment", ForumID: 1})

	select {
	case msg := <-ch1:
		var ev Event
		require.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, "comment.created", ev.Type)
		assert.Equal(t, int64(1), ev.ForumID)
	case <-time.After(time.Second):
		t.Fatal("subscriber on forum 1 got nothing")
	}

	select {
	case <-ch2:
		t.Fatal("subscriber on forum 2 must not receive forum 1 events")
	default:
	}
}

func TestEventBusDropsWhenSlow(t *testing.T) {
	bus := NewEventBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	// channel buffer is 16; extra publishes must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: "comment.created", ForumID: 1})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	assert.Len(t, ch, 16)
}
