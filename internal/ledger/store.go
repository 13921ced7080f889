package ledger

import (
	"context"
	"time"
)

// Store persists quota records. Implementations must apply Deduct, Refund and
// Grant as single atomic operations on the record.
type Store interface {
	// Get returns ErrNotFound when the user has no record.
	Get(ctx context.Context, userID string) (*Record, error)

	// GetBySecretKey returns ErrNotFound for unknown keys.
	GetBySecretKey(ctx context.Context, secretKey string) (*Record, error)

	// Deduct adds amount to requests_used only if the record can cover it.
	// ok is false when it cannot; the returned record then reflects the
	// unchanged state.
	Deduct(ctx context.Context, userID string, amount int) (rec *Record, ok bool, err error)

	// Refund subtracts amount from requests_used, never going below zero.
	Refund(ctx context.Context, userID string, amount int) (*Record, error)

	// Grant applies credits according to mode, creating the record with
	// secretKey when absent.
	Grant(ctx context.Context, userID string, credits int, mode GrantMode, secretKey string, now time.Time) (*Record, error)

	// Create inserts rec unless a record already exists for rec.UserID, in
	// which case the existing record is returned unchanged.
	Create(ctx context.Context, rec *Record) (*Record, error)
}
