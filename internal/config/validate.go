package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks Config for production-critical problems.
// It collects all errors into a single joined error.
func (c *Config) Validate() error {
	var errs []string

	// JWT secret
	if len(c.JWT.AccessSecret) < 32 {
		errs = append(errs, "JWT_ACCESS_SECRET must be at least 32 characters")
	}

	// DB password
	if c.DB.Password == "" {
		errs = append(errs, "DB_PASSWORD is required")
	}

	// Port ranges
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT must be 1–65535, got %d", c.Server.Port))
	}
	if c.DB.Port < 1 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB_PORT must be 1–65535, got %d", c.DB.Port))
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Sprintf("REDIS_PORT must be 1–65535, got %d", c.Redis.Port))
	}

	// Ledger
	if c.Ledger.Backend != BackendPostgres && c.Ledger.Backend != BackendRedis {
		errs = append(errs, fmt.Sprintf("LEDGER_BACKEND must be %q or %q, got %q", BackendPostgres, BackendRedis, c.Ledger.Backend))
	}
	if c.Ledger.DefaultCredits < 0 {
		errs = append(errs, fmt.Sprintf("LEDGER_DEFAULT_CREDITS must not be negative, got %d", c.Ledger.DefaultCredits))
	}
	if c.Ledger.RefundTimeout <= 0 {
		errs = append(errs, "LEDGER_REFUND_TIMEOUT must be positive")
	}

	// Inference collaborators
	if c.Inference.SentimentURL == "" {
		errs = append(errs, "INFERENCE_SENTIMENT_URL is required")
	} else if !validURL(c.Inference.SentimentURL) {
		errs = append(errs, "INFERENCE_SENTIMENT_URL must be an absolute http(s) URL")
	}
	if !validURL(c.Inference.PDFServiceURL) {
		errs = append(errs, "INFERENCE_PDF_URL must be an absolute http(s) URL")
	}
	if c.Inference.AnalysisTimeout <= 0 {
		errs = append(errs, "INFERENCE_ANALYSIS_TIMEOUT must be positive")
	}
	if c.Inference.HealthTimeout <= 0 {
		errs = append(errs, "INFERENCE_HEALTH_TIMEOUT must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Server.WriteTimeout <= c.Inference.AnalysisTimeout {
		errs = append(errs, "SERVER_WRITE_TIMEOUT must exceed INFERENCE_ANALYSIS_TIMEOUT")
	}

	// Rate limit
	if c.RateLimit.Requests < 1 || c.RateLimit.WindowSeconds < 1 {
		errs = append(errs, "RATELIMIT_REQUESTS and RATELIMIT_WINDOW_SECONDS must be positive")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("LOG_LEVEL must be debug, info, warn or error, got %q", c.Log.Level))
	}

	// Billing token: warn only
	if c.Billing.InternalToken == "" {
		slog.Warn("BILLING_INTERNAL_TOKEN is empty, credit grants are disabled")
	} else if len(c.Billing.InternalToken) < 16 {
		errs = append(errs, "BILLING_INTERNAL_TOKEN must be at least 16 characters")
	}

	if len(errs) > 0 {
		return errors.New("config validation failed:\n  " + strings.Join(errs, "\n  "))
	}
	return nil
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
