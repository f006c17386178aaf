package events

import (
	"sync"
	"time"

	"RampTracker/internal/models"
)

type Kind string

const (
	KindStatus    Kind = "status"
	KindSubmitted Kind = "submitted"
	KindCelebrate Kind = "celebrate"
	KindBalance   Kind = "balance"
	KindError     Kind = "error"
)

// Event is a lifecycle notification for one order.
type Event struct {
	Kind    Kind               `json:"kind"`
	OrderID string             `json:"id"`
	Status  models.OrderStatus `json:"status,omitempty"`
	Detail  string             `json:"detail,omitempty"`
	At      time.Time          `json:"at"`
}

// Hub fans events out to subscribers. Slow subscribers lose events rather
// than blocking publishers.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	all    map[chan Event]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   map[string]map[chan Event]struct{}{},
		all:    map[chan Event]struct{}{},
		buffer: buffer,
	}
}

// Subscribe returns a channel of events for orderID, or for every order when
// orderID is empty, and a function that unsubscribes and closes it.
func (h *Hub) Subscribe(orderID string) (<-chan Event, func()) {
	ch := make(chan Event, h.buffer)
	h.mu.Lock()
	if orderID == "" {
		h.all[ch] = struct{}{}
	} else {
		if h.subs[orderID] == nil {
			h.subs[orderID] = map[chan Event]struct{}{}
		}
		h.subs[orderID][ch] = struct{}{}
	}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if orderID == "" {
				delete(h.all, ch)
			} else {
				delete(h.subs[orderID], ch)
				if len(h.subs[orderID]) == 0 {
					delete(h.subs, orderID)
				}
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.OrderID] {
		select {
		case ch <- ev:
		default:
		}
	}
	for ch := range h.all {
		select {
		case ch <- ev:
		default:
		}
	}
}
