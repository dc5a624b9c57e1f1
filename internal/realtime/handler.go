package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"consult-platform/internal/auth"
	"consult-platform/internal/events"
	"consult-platform/internal/participant"
	"consult-platform/internal/presence"
	"consult-platform/pkg/logger"
)

const eventTimeout = 10 * time.Second

// Registry is the presence surface a connection lifecycle touches.
type Registry interface {
	Register(ctx context.Context, kind participant.Kind, id string, conn presence.Conn) error
	Unregister(ctx context.Context, conn presence.Conn)
}

type Handler struct {
	upgrader   websocket.Upgrader
	registry   Registry
	dispatcher *Dispatcher
	log        *slog.Logger

	// Per-connection inbound limiter settings.
	eventRate  rate.Limit
	eventBurst int
}

// NewHandler builds the websocket endpoint. An empty allowedOrigins accepts any origin.
func NewHandler(registry Registry, dispatcher *Dispatcher, allowedOrigins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		registry:   registry,
		dispatcher: dispatcher,
		log:        log.With("component", "realtime"),
		eventRate:  inboundRate,
		eventBurst: inboundBurst,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Serve upgrades the request. Must run behind auth.RequireAccessToken.
func (h *Handler) Serve(c *gin.Context) {
	id, err := auth.ParticipantID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	kind, err := auth.Kind(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "participant_id", id, "err", err)
		return
	}

	conn := newConn(ws, kind, id, rate.NewLimiter(h.eventRate, h.eventBurst), h.log)
	base := logger.With(context.Background(), conn.log)

	if err := h.registry.Register(base, kind, id, conn); err != nil {
		conn.log.Warn("register failed", "err", err)
		_ = conn.Close()
		return
	}
	conn.log.Info("connected")

	go conn.writePump()

	who := Identity{Kind: kind, ID: id}
	reply := func(ev events.Event) {
		if err := conn.Send(ev); err != nil {
			conn.log.Debug("reply dropped", "event", ev.Type, "err", err)
		}
	}
	conn.readPump(func(in events.Inbound) {
		ctx, cancel := context.WithTimeout(base, eventTimeout)
		defer cancel()
		h.dispatcher.Dispatch(ctx, who, in, reply)
	})

	h.registry.Unregister(base, conn)
	_ = conn.Close()
	conn.log.Info("disconnected")
}
