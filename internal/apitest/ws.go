package apitest

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Action is a group membership frame sent by a client.
type Action struct {
	Action  string `json:"action"` // joinEvent | leaveEvent
	EventID string `json:"eventId"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

type hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*wsClient]bool
	clients map[*wsClient]bool
	log     []Action
}

func newHub() *hub {
	return &hub{
		rooms:   map[string]map[*wsClient]bool{},
		clients: map[*wsClient]bool{},
	}
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &wsClient{conn: conn, send: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

func (h *hub) writePump(c *wsClient) {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (h *hub) readPump(c *wsClient) {
	defer h.drop(c)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		h.mu.Lock()
		h.log = append(h.log, a)
		switch a.Action {
		case "joinEvent":
			if h.rooms[a.EventID] == nil {
				h.rooms[a.EventID] = map[*wsClient]bool{}
			}
			h.rooms[a.EventID][c] = true
		case "leaveEvent":
			delete(h.rooms[a.EventID], c)
		}
		h.mu.Unlock()
	}
}

func (h *hub) drop(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for _, members := range h.rooms {
		delete(members, c)
	}
	close(c.send)
}

func (h *hub) broadcast(kind, eventID string, payload any) {
	data, err := json.Marshal(outbound{Type: kind, Payload: payload})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[eventID] {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *hub) groupSize(eventID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[eventID])
}

func (h *hub) actions() []Action {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Action(nil), h.log...)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}
