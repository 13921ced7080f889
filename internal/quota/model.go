package quota

import (
	"time"

	"github.com/sentilytics/sentilytics/internal/ledger"
)

// StatusResponse is the dashboard view of a quota record.
type StatusResponse struct {
	*ledger.Status
	UsagePercentage int               `json:"usage_percentage"`
	Level           string            `json:"level"`
	Recommendations map[string]string `json:"recommendations"`
}

type APIKeyResponse struct {
	APIKey string `json:"api_key"`
}

// GrantRequest is sent by the billing integration after a verified payment.
// Exactly one of Credits or Plan must be set.
type GrantRequest struct {
	UserID    string `json:"user_id" validate:"required,max=255"`
	Credits   int    `json:"credits" validate:"omitempty,min=1,max=1000000"`
	Plan      string `json:"plan" validate:"omitempty,max=32"`
	Mode      string `json:"mode" validate:"omitempty,oneof=stack replace"`
	Reference string `json:"reference" validate:"omitempty,max=255"`
	Amount    int64  `json:"amount" validate:"omitempty,min=0"`
	Currency  string `json:"currency" validate:"omitempty,len=3,alpha"`
}

type GrantResponse struct {
	UserID       string    `json:"user_id"`
	Credited     int       `json:"credited"`
	Mode         string    `json:"mode"`
	MaxRequests  int       `json:"max_requests"`
	RequestsUsed int       `json:"requests_used"`
	Remaining    int       `json:"remaining"`
	ResetDate    time.Time `json:"reset_date"`
}
