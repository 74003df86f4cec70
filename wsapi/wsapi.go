// Package wsapi is the downstream /ws viewer endpoint: clients connect,
// send a subscribe frame, and receive forwarded tick JSON for the
// codes they asked for. It only ever relays what broadcast.Bus hands
// it - no order placement lives on this socket.
package wsapi

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/koorukuroo/contest-engine/broadcast"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Handler upgrades /ws connections and wires each one to bus.
type Handler struct {
	bus *broadcast.Bus
}

func New(bus *broadcast.Bus) *Handler {
	return &Handler{bus: bus}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[wsapi] upgrade failed: %v", err)
		return
	}

	viewer := h.bus.Register()
	defer h.bus.Unregister(viewer)

	go h.writePump(conn, viewer)
	h.readPump(conn, viewer)
}

// subscribeFrame is the client's inbound {"subscribe": [...]} or
// {"subscribe": "all"} message.
type subscribeFrame struct {
	Subscribe interface{} `json:"subscribe"`
}

type subscribedAck struct {
	Status string   `json:"status"`
	Codes  []string `json:"codes"`
}

// readPump decodes subscribe frames until the client disconnects.
// This socket carries no other inbound message type.
func (h *Handler) readPump(conn *websocket.Conn, viewer *broadcast.Viewer) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame subscribeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}

		codes, ok := decodeSubscribe(frame)
		if !ok {
			continue
		}

		viewer.SetCodes(codes)
		ack := subscribedAck{Status: "subscribed", Codes: codes}
		data, err := json.Marshal(ack)
		if err != nil {
			continue
		}
		select {
		case viewer.Send <- data:
		default:
		}
	}
}

// decodeSubscribe extracts the requested code list from a subscribe
// frame. ok is false for anything that isn't "all" or a list of
// codes - a malformed frame is ignored rather than closing the
// connection, since a client retrying with a corrected frame should
// still work.
func decodeSubscribe(frame subscribeFrame) (codes []string, ok bool) {
	switch v := frame.Subscribe.(type) {
	case string:
		if v != "all" {
			return nil, false
		}
		// Empty code set means "subscribe to everything".
		return nil, true
	case []interface{}:
		for _, c := range v {
			if s, ok := c.(string); ok {
				codes = append(codes, s)
			}
		}
		return codes, true
	default:
		return nil, false
	}
}

// writePump drains viewer.Send to the socket and keeps the connection
// alive with periodic pings; it exits once Send is closed by
// Bus.Unregister or a write fails.
func (h *Handler) writePump(conn *websocket.Conn, viewer *broadcast.Viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-viewer.Send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
