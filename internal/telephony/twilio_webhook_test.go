package telephony

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=%2B15551234567&To=%2B15557654321&CallStatus=completed&CallDuration=42")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status?session_id=s1", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" || form.SessionID != "s1" {
		t.Fatalf("unexpected form: %+v", form)
	}

	ev := form.ToCallStatusEvent(time.Unix(1700000000, 0).UTC())
	if ev.Status != "completed" || ev.DurationSec != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.RawPayload == "" {
		t.Fatalf("expected raw payload")
	}
}

func sign(token, fullURL string, params url.Values) string {
	// Params here have a single value each and are written in sorted order.
	s := fullURL + "CallSid" + params.Get("CallSid") + "CallStatus" + params.Get("CallStatus")
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(s))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestValidateTwilioSignature(t *testing.T) {
	params := url.Values{"CallStatus": {"ringing"}, "CallSid": {"CA1"}}
	u := "https://api.example.com/webhooks/twilio/status?session_id=s1"
	sig := sign("tok", u, params)

	if !ValidateTwilioSignature("tok", u, params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidateTwilioSignature("other", u, params, sig) {
		t.Fatalf("expected signature mismatch for wrong token")
	}
	if ValidateTwilioSignature("tok", u, params, "") {
		t.Fatalf("expected empty signature rejected")
	}
}

type statusRec struct {
	sessionID, callID, status string
}

func (r *statusRec) LogCallStatus(ctx context.Context, sessionID, providerCallID, status, metadata string) error {
	r.sessionID, r.callID, r.status = sessionID, providerCallID, status
	return nil
}

func TestTwilioStatusHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &statusRec{}
	h := TwilioStatusHandler{Recorder: rec}

	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatus)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status?session_id=s9", strings.NewReader("CallSid=CA9&CallStatus=answered"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if rec.sessionID != "s9" || rec.callID != "CA9" || rec.status != "answered" {
		t.Fatalf("unexpected recorded status: %+v", rec)
	}
}

func TestTwilioStatusHandler_RejectsBadSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := &statusRec{}
	h := TwilioStatusHandler{Recorder: rec, AuthToken: "tok", PublicURL: "https://api.example.com/webhooks/twilio/status"}

	r := gin.New()
	r.POST("/webhooks/twilio/status", h.HandleStatus)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA9&CallStatus=answered"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if rec.callID != "" {
		t.Fatalf("expected nothing recorded")
	}
}
