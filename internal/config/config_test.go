package config

import (
	"strings"
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "consult", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.App.AllowedOrigins = []string{"https://app.example.com"}
	c.Invoice.BaseURL = "https://files.example.com/invoices"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_ProductionRequiresServiceKey(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.DB.SSLMode = "require"
	c.Auth.JWTIssuer = "iss"
	c.Auth.JWTAudience = "aud"
	c.App.AllowedOrigins = []string{"https://app.example.com"}
	c.Invoice.BaseURL = "https://files.example.com/invoices"

	c.Auth.ServiceKey = "short"
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "AUTH_SERVICE_KEY") {
		t.Fatalf("expected service key error, got %v", err)
	}
	c.Auth.ServiceKey = strings.Repeat("k", 32)
	if err := c.Validate(); err != nil && strings.Contains(err.Error(), "AUTH_SERVICE_KEY") {
		t.Fatalf("expected a 32 character key accepted, got %v", err)
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Meter.TickInterval != time.Minute {
		t.Fatalf("expected 1m tick default, got %s", c.Meter.TickInterval)
	}
	if c.Meter.DisconnectGrace != 0 {
		t.Fatalf("expected zero grace to stay disabled, got %s", c.Meter.DisconnectGrace)
	}
	if c.Invoice.Workers != 2 || c.Invoice.MaxAttempts != 3 {
		t.Fatalf("unexpected invoice defaults: %+v", c.Invoice)
	}
	if c.Twilio.APIBaseURL == "" {
		t.Fatalf("expected twilio base url default")
	}
}

func TestValidate_NegativeGraceGetsDefault(t *testing.T) {
	c := validLocal()
	c.Meter.DisconnectGrace = -1
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Meter.DisconnectGrace != 2*time.Minute {
		t.Fatalf("expected 2m grace default, got %s", c.Meter.DisconnectGrace)
	}
}

func TestValidate_TwilioRequiresCredentials(t *testing.T) {
	c := validLocal()
	c.Twilio.AccountSID = "AC123"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for twilio sid without token and from number")
	}
}

func TestValidate_SlotTTLMustExceedTick(t *testing.T) {
	c := validLocal()
	c.Meter.TickInterval = 10 * time.Minute
	c.Meter.ProviderSlotTTL = time.Minute
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for slot ttl below tick interval")
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example.com, ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected list: %v", got)
	}
}

func TestValidate_RedisDBRange(t *testing.T) {
	c := validLocal()
	c.Redis.DB = 16
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for redis db out of range")
	}
}
