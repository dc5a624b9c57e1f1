package telephony

import (
	"context"
	"net/http"
	"time"

	"consult-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// StatusRecorder persists outbound call progress. audit.Service satisfies it.
type StatusRecorder interface {
	LogCallStatus(ctx context.Context, sessionID, providerCallID, status, metadata string) error
}

// TwilioStatusHandler converts the Twilio status callback to internal types and
// records it. No business logic here; call progress never changes a session.
type TwilioStatusHandler struct {
	Recorder StatusRecorder

	// AuthToken enables signature validation. Empty skips it (local/dev).
	AuthToken string
	// PublicURL is the callback URL as Twilio sees it, used for signature checks.
	PublicURL string

	Now func() time.Time
}

func (h TwilioStatusHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Recorder == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status recorder not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		full := h.PublicURL
		if c.Request.URL.RawQuery != "" {
			full += "?" + c.Request.URL.RawQuery
		}
		if !ValidateTwilioSignature(h.AuthToken, full, c.Request.PostForm, c.GetHeader("X-Twilio-Signature")) {
			log.Warn("twilio signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev := form.ToCallStatusEvent(h.Now().UTC())
	if err := h.Recorder.LogCallStatus(c.Request.Context(), ev.SessionID, ev.ProviderCallID, ev.Status, ev.RawPayload); err != nil {
		// Best-effort; Twilio retries on non-2xx and the data is diagnostic only.
		log.Warn("call status not recorded", "call_sid", ev.ProviderCallID, "err", err)
	}
	log.Info("call status", "session_id", ev.SessionID, "call_sid", ev.ProviderCallID, "status", ev.Status)
	c.Status(http.StatusNoContent)
}
