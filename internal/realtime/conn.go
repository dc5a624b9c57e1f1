// Package realtime is the websocket transport for live participants.
package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"consult-platform/internal/events"
	"consult-platform/internal/participant"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 << 10
	sendBuffer     = 256

	// Inbound events per second per connection, with burst.
	inboundRate  = 20
	inboundBurst = 40
)

var (
	ErrConnClosed   = errors.New("realtime: connection closed")
	ErrSlowConsumer = errors.New("realtime: send buffer full")
)

// Conn is one participant's websocket. It satisfies presence.Conn.
type Conn struct {
	id   string
	kind participant.Kind
	pid  string

	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	limit *rate.Limiter
	log   *slog.Logger
}

func newConn(ws *websocket.Conn, kind participant.Kind, participantID string, limit *rate.Limiter, log *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:    id,
		kind:  kind,
		pid:   participantID,
		ws:    ws,
		send:  make(chan []byte, sendBuffer),
		done:  make(chan struct{}),
		limit: limit,
		log:   log.With("conn_id", id, "participant_id", participantID, "kind", kind),
	}
}

func (c *Conn) ID() string { return c.id }

// Send queues ev for the write pump. It never blocks; a full buffer drops the event.
func (c *Conn) Send(ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSlowConsumer
	}
}

// Close stops both pumps. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", "err", err)
				return
			}

		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// readPump blocks until the peer goes away, handing every frame to handle.
func (c *Conn) readPump(handle func(in events.Inbound)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Info("unexpected close", "err", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if c.limit != nil && !c.limit.Allow() {
			_ = c.Send(events.Event{Type: events.Error, Payload: events.ErrorPayload{
				Code:    "rate_limited",
				Message: "too many events",
			}})
			continue
		}

		var in events.Inbound
		if err := json.Unmarshal(data, &in); err != nil || in.Type == "" {
			_ = c.Send(events.Event{Type: events.Error, Payload: events.ErrorPayload{
				Code:    "validation",
				Message: "malformed event envelope",
			}})
			continue
		}
		handle(in)
	}
}
