package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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

func newServer(t *testing.T, reg *presence.Registry, origins []string) *httptest.Server {
	t.Helper()
	return newServerWith(t, reg, origins, nil)
}

func newServerWith(t *testing.T, reg *presence.Registry, origins []string, tweak func(*Handler)) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	h := newHarness()
	handler := NewHandler(reg, h.d, origins, logger.Discard())
	if tweak != nil {
		tweak(handler)
	}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), c.Query("id"), participant.Kind(c.Query("kind")))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}, handler.Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return out
}

func eventType(t *testing.T, ev map[string]json.RawMessage) string {
	t.Helper()
	var s string
	if err := json.Unmarshal(ev["type"], &s); err != nil {
		t.Fatalf("type: %v", err)
	}
	return s
}

func TestServe_RegistersAndAnswersPing(t *testing.T) {
	reg := presence.NewRegistry(nil, logger.Discard())
	srv := newServer(t, reg, nil)

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "id=r1&kind=requester"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if typ := eventType(t, readEvent(t, c)); typ != events.Pong {
		t.Fatalf("expected pong, got %s", typ)
	}
	if _, ok := reg.Lookup(participant.KindRequester, "r1"); !ok {
		t.Fatalf("expected requester registered")
	}

	if err := c.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if typ := eventType(t, readEvent(t, c)); typ != events.Error {
		t.Fatalf("expected error event, got %s", typ)
	}

	_ = c.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := reg.Lookup(participant.KindRequester, "r1"); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected requester unregistered after close")
}

func TestServe_RateLimitsInboundEvents(t *testing.T) {
	reg := presence.NewRegistry(nil, logger.Discard())
	srv := newServerWith(t, reg, nil, func(h *Handler) {
		h.eventRate = rate.Limit(0.001)
		h.eventBurst = 1
	})

	c, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "id=r1&kind=requester"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	for i := 0; i < 2; i++ {
		if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if typ := eventType(t, readEvent(t, c)); typ != events.Pong {
		t.Fatalf("expected pong first, got %s", typ)
	}
	ev := readEvent(t, c)
	if typ := eventType(t, ev); typ != events.Error {
		t.Fatalf("expected error for second ping, got %s", typ)
	}
	var p events.ErrorPayload
	if err := json.Unmarshal(ev["payload"], &p); err != nil || p.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %s", ev["payload"])
	}
}

func TestServe_RejectsUnknownOrigin(t *testing.T) {
	reg := presence.NewRegistry(nil, logger.Discard())
	srv := newServer(t, reg, []string{"https://app.example.com"})

	hdr := http.Header{}
	hdr.Set("Origin", "https://evil.example.com")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "id=r1&kind=requester"), hdr)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestServe_RequiresIdentity(t *testing.T) {
	reg := presence.NewRegistry(nil, logger.Discard())
	srv := newServer(t, reg, nil)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "kind=requester"), nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/"})
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if !check(req) {
		t.Fatalf("expected allowed origin")
	}
	req.Header.Set("Origin", "https://other.example.com")
	if check(req) {
		t.Fatalf("expected rejected origin")
	}
}
