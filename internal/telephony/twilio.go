package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig carries REST credentials. BaseURL is overridable for tests.
type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	FromNumber        string
	BaseURL           string
	StatusCallbackURL string
}

// TwilioProvider places calls through the Twilio REST API. The first leg rings
// the caller; the TwiML on that leg dials the callee.
type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, client *http.Client) *TwilioProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &TwilioProvider{cfg: cfg, http: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource, the cheapest authenticated call.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.accountURL()+".json", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: twilio health status %d", resp.StatusCode)
	}
	return nil
}

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) PlaceOutboundCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if req.CallerNumber == "" || req.CalleeNumber == "" {
		return OutboundCallResult{}, errors.New("telephony: caller and callee numbers required")
	}
	twiml, err := RenderBridge(req.CalleeNumber, p.cfg.FromNumber, "Connecting your consultation")
	if err != nil {
		return OutboundCallResult{}, err
	}

	form := url.Values{}
	form.Set("To", req.CallerNumber)
	form.Set("From", p.cfg.FromNumber)
	form.Set("Twiml", twiml)
	if cb := p.statusCallback(req.SessionID); cb != "" {
		form.Set("StatusCallback", cb)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.accountURL()+"/Calls.json", strings.NewReader(form.Encode()))
	if err != nil {
		return OutboundCallResult{}, err
	}
	httpReq.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("telephony: twilio request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return OutboundCallResult{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e twilioErrorResponse
		_ = json.Unmarshal(body, &e)
		return OutboundCallResult{}, fmt.Errorf("telephony: twilio status %d code %d: %s", resp.StatusCode, e.Code, e.Message)
	}

	var out twilioCallResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return OutboundCallResult{}, fmt.Errorf("telephony: decode twilio response: %w", err)
	}
	return OutboundCallResult{ProviderCallID: out.Sid, Status: out.Status}, nil
}

func (p *TwilioProvider) accountURL() string {
	return p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID)
}

func (p *TwilioProvider) statusCallback(sessionID string) string {
	if p.cfg.StatusCallbackURL == "" {
		return ""
	}
	u, err := url.Parse(p.cfg.StatusCallbackURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("session_id", sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}
