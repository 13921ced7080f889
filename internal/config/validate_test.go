package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0", Port: 8080,
			ReadTimeout: 60 * time.Second, WriteTimeout: 150 * time.Second, ShutdownTimeout: 30 * time.Second,
		},
		DB: DBConfig{
			Host: "localhost", Port: 5432, User: "sentilytics",
			Password: "secret", Name: "sentilytics", SSLMode: "disable", MaxConns: 25,
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		JWT: JWTConfig{
			AccessSecret: "access-secret-that-is-at-least-32-chars!",
			AccessExpiry: 15 * time.Minute,
		},
		Ledger: LedgerConfig{
			Backend:        BackendPostgres,
			DefaultCredits: 10,
			RefundTimeout:  5 * time.Second,
		},
		Inference: InferenceConfig{
			SentimentURL:    "http://sentiment.internal/invocations",
			PDFServiceURL:   "http://127.0.0.1:8001",
			HealthTimeout:   5 * time.Second,
			AnalysisTimeout: 2 * time.Minute,
		},
		Billing:   BillingConfig{InternalToken: "billing-token-0123456789"},
		RateLimit: RateLimitConfig{Requests: 30, WindowSeconds: 60},
		Log:       LogConfig{Level: "info", Format: "text"},
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestValidate_JWTAccessSecretTooShort(t *testing.T) {
	cfg := validConfig()
	cfg.JWT.AccessSecret = "short"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "JWT_ACCESS_SECRET") {
		t.Fatalf("expected JWT_ACCESS_SECRET error, got: %v", err)
	}
}

func TestValidate_DBPasswordRequired(t *testing.T) {
	cfg := validConfig()
	cfg.DB.Password = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "DB_PASSWORD") {
		t.Fatalf("expected DB_PASSWORD error, got: %v", err)
	}
}

func TestValidate_LedgerBackend(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Backend = BackendRedis
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected redis backend to be accepted, got: %v", err)
	}

	cfg.Ledger.Backend = "mongo"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "LEDGER_BACKEND") {
		t.Fatalf("expected LEDGER_BACKEND error, got: %v", err)
	}
}

func TestValidate_SentimentURL(t *testing.T) {
	cfg := validConfig()
	cfg.Inference.SentimentURL = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "INFERENCE_SENTIMENT_URL is required") {
		t.Fatalf("expected INFERENCE_SENTIMENT_URL error, got: %v", err)
	}

	cfg.Inference.SentimentURL = "sentiment.internal"
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "absolute http(s) URL") {
		t.Fatalf("expected URL shape error, got: %v", err)
	}
}

func TestValidate_BillingToken(t *testing.T) {
	cfg := validConfig()
	cfg.Billing.InternalToken = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty billing token should only warn, got: %v", err)
	}

	cfg.Billing.InternalToken = "tiny"
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "BILLING_INTERNAL_TOKEN") {
		t.Fatalf("expected BILLING_INTERNAL_TOKEN error, got: %v", err)
	}
}

func TestValidate_WriteTimeoutCoversAnalysis(t *testing.T) {
	cfg := validConfig()
	cfg.Server.WriteTimeout = time.Minute
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "SERVER_WRITE_TIMEOUT") {
		t.Fatalf("expected SERVER_WRITE_TIMEOUT error, got: %v", err)
	}
}

func TestValidate_InvalidPorts(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.DB.Port = 99999
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected port validation errors")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("expected SERVER_PORT error in: %v", err)
	}
	if !strings.Contains(err.Error(), "DB_PORT") {
		t.Errorf("expected DB_PORT error in: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{Port: 0},
		DB:     DBConfig{Port: 5432},
		Redis:  RedisConfig{Port: 6379},
		Ledger: LedgerConfig{Backend: BackendPostgres},
		Log:    LogConfig{Level: "info"},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected multiple validation errors")
	}
	errStr := err.Error()
	for _, substr := range []string{"JWT_ACCESS_SECRET", "DB_PASSWORD", "SERVER_PORT", "LEDGER_REFUND_TIMEOUT", "INFERENCE_SENTIMENT_URL", "RATELIMIT_REQUESTS"} {
		if !strings.Contains(errStr, substr) {
			t.Errorf("expected %q in error: %s", substr, errStr)
		}
	}
}
