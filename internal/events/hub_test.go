package events

import (
	"testing"

	"RampTracker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_RoutesByOrder(t *testing.T) {
	h := NewHub(4)
	mine, unsubMine := h.Subscribe("a")
	defer unsubMine()
	all, unsubAll := h.Subscribe("")
	defer unsubAll()

	h.Publish(Event{Kind: KindStatus, OrderID: "b", Status: models.OrderFulfilling})
	h.Publish(Event{Kind: KindStatus, OrderID: "a", Status: models.OrderValidated})

	ev := <-mine
	assert.Equal(t, models.OrderValidated, ev.Status)
	assert.False(t, ev.At.IsZero())
	assert.Len(t, mine, 0)
	assert.Len(t, all, 2)
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	h := NewHub(1)
	ch, unsub := h.Subscribe("a")
	h.Publish(Event{OrderID: "a", Status: models.OrderFulfilling})
	h.Publish(Event{OrderID: "a", Status: models.OrderValidated})

	ev := <-ch
	assert.Equal(t, models.OrderFulfilling, ev.Status)

	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
}
