package metering

import (
	"errors"
	"fmt"

	"github.com/sentilytics/sentilytics/internal/ledger"
)

// ErrCallPanicked wraps a panic raised by a metered call.
var ErrCallPanicked = errors.New("metered call panicked")

// QuotaExceededError is returned when the caller cannot afford the operation,
// either at the pre-check or when a concurrent request won the deduction.
type QuotaExceededError struct {
	Kind      ledger.Kind
	Remaining int
	Required  int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("insufficient quota for %s: %d remaining, %d required", e.Kind, e.Remaining, e.Required)
}

// CallError reports a collaborator failure after credits were deducted.
// Refunded tells whether the charge was reversed; when it was not, RefundErr
// holds the reason and the charge needs manual reconciliation.
type CallError struct {
	Err            error
	TimedOut       bool
	Refunded       bool
	RefundedAmount int
	RefundErr      error
}

func (e *CallError) Error() string {
	if e.RefundErr != nil {
		return fmt.Sprintf("metered call failed: %v (refund failed: %v)", e.Err, e.RefundErr)
	}
	return fmt.Sprintf("metered call failed: %v", e.Err)
}

func (e *CallError) Unwrap() []error {
	if e.RefundErr != nil {
		return []error{e.Err, e.RefundErr}
	}
	return []error{e.Err}
}
