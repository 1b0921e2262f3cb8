package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/opsbridge/msigbridge/internal/coordinator"
	"github.com/opsbridge/msigbridge/pkg/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEvent is the JSON line delivered over /ws/operations (§4.4a).
type wsEvent struct {
	Event        string `json:"event"`
	OperationIdx int64  `json:"operation_idx"`
	Status       string `json:"status,omitempty"`
}

// wsClient is one connected feed subscriber. The feed is purely
// observational: a client never sends anything but ping/pong, so there is
// no subscription filtering to track, unlike a general-purpose event hub.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *wsHub
}

// wsHub fans operation events out to every connected /ws/operations client.
// A slow or disconnected reader is dropped from the broadcast set without
// affecting any HTTP request, per §4.4a.
type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	log        *logging.Logger
}

func newWSHub(log *logging.Logger) *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		log:        log.Component("ws"),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.log.Debug("ws client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.log.Debug("ws client disconnected", "clients", len(h.clients))

		case data := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// onCoordinatorEvent adapts a coordinator.Event into the wire shape and
// queues it for broadcast; it never blocks the coordinator's caller.
func (h *wsHub) onCoordinatorEvent(ev coordinator.Event) {
	wire := wsEvent{Event: string(ev.Type), OperationIdx: ev.OperationIdx}
	if ev.Status != nil {
		wire.Status = statusName(*ev.Status)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		h.log.Error("marshal ws event failed", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("ws broadcast channel full, dropping event")
	}
}

func (h *wsHub) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "error", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, 64), hub: h}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump only exists to detect disconnects and answer pings; the feed
// accepts no client-to-server request frames.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
