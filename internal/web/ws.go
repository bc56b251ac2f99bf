package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	socketBufferSize = 1024
	wsWriteWait      = 2 * time.Second
	wsPingPeriod     = 15 * time.Second
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

// serveWebSocket pushes every attitude update to the client as a JSON text
// message until either side goes away. Client messages are discarded.
func serveWebSocket(w http.ResponseWriter, r *http.Request, att *AttitudeBroadcaster) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		return
	}
	defer conn.Close()

	id, ch := att.Subscribe(8)
	defer att.Unsubscribe(id)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(wsWriteWait))
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case a, ok := <-ch:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(a); err != nil {
				return
			}
		}
	}
}
