package ledger

import (
	"fmt"
	"time"
)

// Record is the per-user quota row.
type Record struct {
	UserID       string    `json:"user_id"`
	MaxRequests  int       `json:"max_requests"`
	RequestsUsed int       `json:"requests_used"`
	ResetDate    time.Time `json:"reset_date"`
	SecretKey    string    `json:"-"`
}

// Remaining is derived on every read and never stored.
func (r *Record) Remaining() int {
	return r.MaxRequests - r.RequestsUsed
}

// GrantMode selects how purchased credits are applied to an existing record.
type GrantMode string

const (
	GrantStack   GrantMode = "stack"
	GrantReplace GrantMode = "replace"
)

// ParseGrantMode validates a wire value.
func ParseGrantMode(s string) (GrantMode, error) {
	switch GrantMode(s) {
	case GrantStack, GrantReplace:
		return GrantMode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidGrant, s)
}

// CheckResult is returned by CheckQuota.
type CheckResult struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Cost      int  `json:"cost"`
}

// DeductResult is returned by Deduct. Success is false when the record could
// not cover Required; no mutation happened in that case.
type DeductResult struct {
	Success      bool `json:"success"`
	Remaining    int  `json:"remaining"`
	Required     int  `json:"required"`
	MaxRequests  int  `json:"max_requests"`
	RequestsUsed int  `json:"requests_used"`
}

// Status is the full read model returned by Status.
type Status struct {
	MaxRequests   int            `json:"max_requests"`
	RequestsUsed  int            `json:"requests_used"`
	Remaining     int            `json:"remaining"`
	ResetDate     time.Time      `json:"reset_date"`
	Costs         CostTable      `json:"quota_costs"`
	Affordability map[string]int `json:"can_afford"`
}
