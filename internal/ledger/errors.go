package ledger

import "errors"

// Sentinel errors.
var (
	ErrNotFound         = errors.New("ledger: quota record not found")
	ErrStoreUnavailable = errors.New("ledger: store unavailable")
	ErrRefundFailed     = errors.New("ledger: refund failed")
	ErrUnknownKind      = errors.New("ledger: unknown operation kind")
	ErrInvalidGrant     = errors.New("ledger: invalid grant")
)
