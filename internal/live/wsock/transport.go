// Package wsock is the WebSocket push transport.
package wsock

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/baechuer/real-time-ressys/services/event-client/internal/domain"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/live"
	"github.com/baechuer/real-time-ressys/services/event-client/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	actionJoin  = "joinEvent"
	actionLeave = "leaveEvent"

	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

type actionFrame struct {
	Action  string `json:"action"`
	EventID string `json:"eventId"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Transport struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	in      chan live.Notification
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the push endpoint, e.g. ws://localhost:5000/ws.
func Dial(ctx context.Context, url string, header http.Header) (*Transport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxMessageSize)

	t := &Transport{
		conn: conn,
		in:   make(chan live.Notification, 64),
		done: make(chan struct{}),
	}
	go t.readPump()
	return t, nil
}

func (t *Transport) JoinGroup(_ context.Context, eventID string) error {
	return t.write(actionFrame{Action: actionJoin, EventID: eventID})
}

func (t *Transport) LeaveGroup(_ context.Context, eventID string) error {
	return t.write(actionFrame{Action: actionLeave, EventID: eventID})
}

func (t *Transport) Inbound() <-chan live.Notification { return t.in }

func (t *Transport) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		t.writeMu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = t.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
	})
	return err
}

func (t *Transport) write(v any) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return t.conn.WriteJSON(v)
}

func (t *Transport) readPump() {
	defer close(t.in)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
			default:
				logger.Component("wsock").Warn().Err(err).Msg("push_connection_lost")
			}
			return
		}
		n, ok := decode(raw)
		if !ok {
			continue
		}
		select {
		case t.in <- n:
		case <-t.done:
			return
		}
	}
}

// decode turns a frame into a Notification. eventDeleted carries the bare id
// as its payload; eventUpdated carries the full detail.
func decode(raw []byte) (live.Notification, bool) {
	var f inboundFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		logger.Component("wsock").Warn().Err(err).Msg("push_frame_invalid")
		return live.Notification{}, false
	}
	switch live.Kind(f.Type) {
	case live.KindUpdated:
		var d domain.EventDetail
		if err := json.Unmarshal(f.Payload, &d); err != nil || d.ID == "" {
			logger.Component("wsock").Warn().Str("type", f.Type).Msg("push_payload_invalid")
			return live.Notification{}, false
		}
		return live.Notification{Kind: live.KindUpdated, EventID: d.ID, Detail: &d}, true
	case live.KindDeleted:
		var id string
		if err := json.Unmarshal(f.Payload, &id); err != nil || id == "" {
			logger.Component("wsock").Warn().Str("type", f.Type).Msg("push_payload_invalid")
			return live.Notification{}, false
		}
		return live.Notification{Kind: live.KindDeleted, EventID: id}, true
	default:
		logger.Component("wsock").Debug().Str("type", f.Type).Msg("push_frame_ignored")
		return live.Notification{}, false
	}
}
