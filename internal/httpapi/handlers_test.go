package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/config"
	"consult-platform/internal/consult"
	"consult-platform/internal/events"
	"consult-platform/internal/messaging"
	"consult-platform/internal/participant"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

type apiFixture struct {
	h        Handlers
	sessions *consult.MemoryStore
	wallets  *wallet.MemoryRepo
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	people := participant.NewMemoryRepo()
	people.Put(participant.Participant{ID: "r1", Kind: participant.KindRequester, Name: "Riya"})
	people.Put(participant.Participant{ID: "p1", Kind: participant.KindProvider, Name: "Dr. Paul"})

	wallets := wallet.NewMemoryRepo()
	wallets.Seed(wallet.Owner{Kind: participant.KindRequester, ID: "r1"}, "INR", 100, 20)

	sessions := consult.NewMemoryStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := sessions.CreateSession(context.Background(), consult.Session{
		ID: "s1", RequestID: "q1", RequesterID: "r1", ProviderID: "p1",
		Modality: participant.ModalityChat, Status: consult.SessionStatusActive, StartedAt: now,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	reports := reporting.NewMemoryRepo(
		consult.Transaction{ID: "t0", SessionID: "s0", RequesterID: "r1", ProviderID: "p1", Modality: participant.ModalityChat, DurationMinutes: 4, AmountMinor: 40, CreatedAt: now.Add(-24 * time.Hour)},
		consult.Transaction{ID: "t9", SessionID: "s9", RequesterID: "r1", ProviderID: "p1", Modality: participant.ModalityChat, DurationMinutes: 1, AmountMinor: 10, CreatedAt: now.Add(-90 * 24 * time.Hour)},
	)
	msgs := messaging.NewService(messaging.NewMemoryStore(), sessions, people, nopNotifier{}, func() time.Time { return now }, nil)

	return &apiFixture{
		h: Handlers{
			Auth:         m,
			Participants: people,
			Wallet:       wallet.NewService(wallets),
			Sessions:     sessions,
			Messages:     msgs,
			Reports:      reporting.NewService(reports),
			Clock:        func() time.Time { return now },
		},
		sessions: sessions,
		wallets:  wallets,
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(participant.Kind, string, events.Event) bool { return false }

func (f *apiFixture) router(kind participant.Kind, id string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := r.Group("/v1", auth.RequireServiceKey(testServiceKey))
	svc.POST("/auth/token", f.h.IssueToken)
	svc.POST("/requesters/:id/wallet/credit", f.h.CreditWallet)

	g := r.Group("/v1", func(c *gin.Context) {
		if id != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id, kind))
		}
		c.Next()
	})
	g.GET("/me", f.h.Me)
	g.GET("/me/wallet", f.h.MyWallet)
	g.GET("/me/summary", f.h.MySummary)
	g.GET("/sessions/:id", f.h.GetSession)
	g.GET("/sessions/:id/messages", f.h.ListMessages)
	g.GET("/sessions/:id/transaction", f.h.GetTransaction)
	return r
}

const testServiceKey = "svc-key"

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	return doWithKey(r, method, path, body, "")
}

// doService calls a route as the trusted upstream service.
func doService(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	return doWithKey(r, method, path, body, testServiceKey)
}

func doWithKey(r *gin.Engine, method, path, body, key string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set(auth.ServiceKeyHeader, key)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestIssueToken(t *testing.T) {
	f := newAPIFixture(t)
	r := f.router("", "")

	w := doService(r, http.MethodPost, "/v1/auth/token", `{"participant_id":"p1","kind":"provider"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	if err := json.Unmarshal(w.Body.Bytes(), &pair); err != nil || pair.AccessToken == "" {
		t.Fatalf("expected token pair, got %s", w.Body.String())
	}

	if w := doService(r, http.MethodPost, "/v1/auth/token", `{"participant_id":"nobody","kind":"provider"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown participant, got %d", w.Code)
	}
	if w := doService(r, http.MethodPost, "/v1/auth/token", `{"participant_id":"p1","kind":"admin"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad kind, got %d", w.Code)
	}
}

func TestIssueToken_AnonymousCallerRejected(t *testing.T) {
	f := newAPIFixture(t)
	r := f.router("", "")
	body := `{"participant_id":"p1","kind":"provider"}`

	if w := do(r, http.MethodPost, "/v1/auth/token", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without service key, got %d", w.Code)
	}
	w := doWithKey(r, http.MethodPost, "/v1/auth/token", body, "guess")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong service key, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "access_token") {
		t.Fatalf("expected no token in a rejected response, got %s", w.Body.String())
	}
}

func TestMyWallet(t *testing.T) {
	f := newAPIFixture(t)
	r := f.router(participant.KindRequester, "r1")

	w := do(r, http.MethodGet, "/v1/me/wallet", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap wallet.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Balance != 100 || snap.LockedBalance != 20 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestCreditWallet_ServiceOnly(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	r := f.router(participant.KindRequester, "r1")
	body := `{"amount_minor":50,"idempotency_key":"topup-1"}`
	owner := wallet.Owner{Kind: participant.KindRequester, ID: "r1"}

	// A signed-in requester cannot credit itself.
	if w := do(r, http.MethodPost, "/v1/me/wallet/credit", body); w.Code != http.StatusNotFound {
		t.Fatalf("expected self-credit route absent, got %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/v1/requesters/r1/wallet/credit", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without service key, got %d", w.Code)
	}

	// Mid-session the wallet belongs to the meter.
	if w := doService(r, http.MethodPost, "/v1/requesters/r1/wallet/credit", body); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 during a session, got %d: %s", w.Code, w.Body.String())
	}
	got, _ := f.wallets.Get(ctx, owner)
	if got.BalanceMinor != 100 {
		t.Fatalf("expected balance untouched, got %d", got.BalanceMinor)
	}

	if _, _, err := f.sessions.EndSession(ctx, "s1", time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), consult.ReasonEndedByRequester); err != nil {
		t.Fatalf("end session: %v", err)
	}
	for i := 0; i < 2; i++ {
		if w := doService(r, http.MethodPost, "/v1/requesters/r1/wallet/credit", body); w.Code != http.StatusOK {
			t.Fatalf("credit %d: expected 200, got %d: %s", i, w.Code, w.Body.String())
		}
	}
	got, err := f.wallets.Get(ctx, owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.BalanceMinor != 150 {
		t.Fatalf("expected idempotent credit to 150, got %d", got.BalanceMinor)
	}

	if w := doService(r, http.MethodPost, "/v1/requesters/nobody/wallet/credit", body); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown requester, got %d", w.Code)
	}
}

func TestSessionEndpoints_PartyOnly(t *testing.T) {
	f := newAPIFixture(t)

	if w := do(f.router(participant.KindProvider, "p1"), http.MethodGet, "/v1/sessions/s1", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for party, got %d", w.Code)
	}
	if w := do(f.router(participant.KindProvider, "p2"), http.MethodGet, "/v1/sessions/s1", ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for outsider, got %d", w.Code)
	}
	if w := do(f.router(participant.KindProvider, "p1"), http.MethodGet, "/v1/sessions/nope", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(f.router(participant.KindProvider, "p1"), http.MethodGet, "/v1/sessions/s1/transaction", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before settlement, got %d", w.Code)
	}
	if w := do(f.router(participant.KindRequester, "r1"), http.MethodGet, "/v1/sessions/s1/messages", ""); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for messages, got %d", w.Code)
	}
}

func TestMe_RequiresIdentity(t *testing.T) {
	f := newAPIFixture(t)
	if w := do(f.router("", ""), http.MethodGet, "/v1/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMySummary(t *testing.T) {
	f := newAPIFixture(t)

	w := do(f.router(participant.KindProvider, "p1"), http.MethodGet, "/v1/me/summary", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out reporting.Summary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Sessions != 1 || out.TotalMinor != 40 {
		t.Fatalf("expected only the recent session in the default window, got %+v", out)
	}

	path := "/v1/me/summary?from=2025-01-01T00:00:00Z&to=2026-03-02T00:00:00Z"
	w = do(f.router(participant.KindRequester, "r1"), http.MethodGet, path, "")
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Sessions != 2 {
		t.Fatalf("expected both sessions in wide window, got %d %s", w.Code, w.Body.String())
	}

	if w := do(f.router(participant.KindRequester, "r1"), http.MethodGet, "/v1/me/summary?from=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad from, got %d", w.Code)
	}
	if w := do(f.router(participant.KindRequester, "r1"), http.MethodGet, "/v1/me/summary?modality=fax", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad modality, got %d", w.Code)
	}
}
