package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"consult-platform/internal/auth"
	"consult-platform/internal/consult"
	"consult-platform/internal/messaging"
	"consult-platform/internal/participant"
	"consult-platform/internal/reporting"
	"consult-platform/internal/wallet"

	"github.com/gin-gonic/gin"
)

// SessionReader is the read side of the consult store.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (consult.Session, error)
	GetTransactionBySession(ctx context.Context, sessionID string) (consult.Transaction, error)
	FindActiveSessions(ctx context.Context, kind participant.Kind, participantID string) ([]consult.Session, error)
}

type MessageLister interface {
	List(ctx context.Context, sessionID string, viewer messaging.Party) ([]messaging.Message, error)
}

type Summarizer interface {
	Summary(ctx context.Context, req reporting.SummaryRequest) (reporting.Summary, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth         *auth.Manager
	Participants participant.Repository
	Wallet       *wallet.Service
	Sessions     SessionReader
	Messages     MessageLister
	Reports      Summarizer
	Clock        func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// identity reads the caller set by auth.RequireAccessToken.
func identity(c *gin.Context) (messaging.Party, bool) {
	id, err := auth.ParticipantID(c.Request.Context())
	if err != nil {
		return messaging.Party{}, false
	}
	kind, err := auth.Kind(c.Request.Context())
	if err != nil {
		return messaging.Party{}, false
	}
	return messaging.Party{Kind: kind, ID: id}, true
}

// writeError maps the error taxonomy onto HTTP status codes.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch consult.Code(err) {
	case "validation":
		status = http.StatusBadRequest
	case "not_found":
		status = http.StatusNotFound
	case "forbidden":
		status = http.StatusForbidden
	case "conflict", "invalid_session", "expired":
		status = http.StatusConflict
	case "unavailable":
		status = http.StatusServiceUnavailable
	case "insufficient_funds":
		status = http.StatusPaymentRequired
	}
	if errors.Is(err, wallet.ErrInvalidArgument) {
		status = http.StatusBadRequest
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "code": consult.Code(err)})
}

// --- Auth ---

type tokenRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
	Kind          string `json:"kind" binding:"required,oneof=requester provider"`
}

// IssueToken issues a JWT token pair for an existing participant. The identity
// provider calls it after verifying the user; routes guard it with
// auth.RequireServiceKey.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "participant_id and kind required"})
		return
	}
	kind := participant.Kind(req.Kind)
	if _, err := h.Participants.Get(c.Request.Context(), kind, req.ParticipantID); err != nil {
		writeError(c, err)
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.ParticipantID, kind)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Me ---

func (h Handlers) Me(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	p, err := h.Participants.Get(c.Request.Context(), who.Kind, who.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) MyWallet(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	w, err := h.Wallet.Get(c.Request.Context(), wallet.Owner{Kind: who.Kind, ID: who.ID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Snapshot())
}

type creditRequest struct {
	AmountMinor    int64  `json:"amount_minor" binding:"required,gt=0"`
	IdempotencyKey string `json:"idempotency_key" binding:"required"`
	ExternalRef    string `json:"external_ref"`
}

// CreditWallet records a top-up confirmed by the payment service for the
// requester in :id. Routes guard it with auth.RequireServiceKey. Wallets in a
// live session belong to the meter, so the credit is refused until it ends.
func (h Handlers) CreditWallet(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "amount_minor and idempotency_key required"})
		return
	}
	if _, err := h.Participants.Get(ctx, participant.KindRequester, id); err != nil {
		writeError(c, err)
		return
	}
	active, err := h.Sessions.FindActiveSessions(ctx, participant.KindRequester, id)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(active) > 0 {
		writeError(c, fmt.Errorf("%w: wallet is in use by session %s", consult.ErrConflict, active[0].ID))
		return
	}

	w, err := h.Wallet.Credit(ctx, wallet.Owner{Kind: participant.KindRequester, ID: id}, wallet.CreditRequest{
		AmountMinor:    req.AmountMinor,
		IdempotencyKey: req.IdempotencyKey,
		ExternalRef:    req.ExternalRef,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w.Snapshot())
}

// --- Sessions ---

// session loads :id and checks the caller is a party to it.
func (h Handlers) session(c *gin.Context) (consult.Session, messaging.Party, bool) {
	who, ok := identity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return consult.Session{}, messaging.Party{}, false
	}
	sess, err := h.Sessions.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return consult.Session{}, messaging.Party{}, false
	}
	if !sess.HasParty(who.Kind, who.ID) {
		writeError(c, consult.ErrForbidden)
		return consult.Session{}, messaging.Party{}, false
	}
	return sess, who, true
}

func (h Handlers) GetSession(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (h Handlers) ListMessages(c *gin.Context) {
	sess, who, ok := h.session(c)
	if !ok {
		return
	}
	msgs, err := h.Messages.List(c.Request.Context(), sess.ID, who)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (h Handlers) GetTransaction(c *gin.Context) {
	sess, _, ok := h.session(c)
	if !ok {
		return
	}
	tx, err := h.Sessions.GetTransactionBySession(c.Request.Context(), sess.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

// --- Reports ---

const defaultSummaryWindow = 30 * 24 * time.Hour

// MySummary aggregates the caller's settled sessions. from/to are RFC3339 and
// default to the last 30 days.
func (h Handlers) MySummary(c *gin.Context) {
	who, ok := identity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	to := h.now()
	from := to.Add(-defaultSummaryWindow)
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
		to = t
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
		from = t
	}

	out, err := h.Reports.Summary(c.Request.Context(), reporting.SummaryRequest{
		Kind:          who.Kind,
		ParticipantID: who.ID,
		Range:         reporting.TimeRange{From: from, To: to},
		Modality:      participant.Modality(c.Query("modality")),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
