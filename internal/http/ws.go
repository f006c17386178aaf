package http

import (
	"net/http"
	"time"

	"RampTracker/internal/events"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamOrder sends the current order state and then every lifecycle event
// for it until the client disconnects.
func (h *Handler) StreamOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := h.lookup(w, r)
	if !ok {
		return
	}
	// Subscribe before the upgrade so no event between lookup and stream is lost.
	stream, unsubscribe := h.Events.Subscribe(order.ID)
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	first := events.Event{Kind: events.KindStatus, OrderID: order.ID, Status: order.Status, Detail: order.Error, At: order.UpdatedAt}
	if err := write(conn, first); err != nil {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			if err := write(conn, ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func write(conn *websocket.Conn, ev events.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}
