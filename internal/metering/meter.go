package metering

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/sentilytics/sentilytics/internal/ledger"
	"github.com/sentilytics/sentilytics/internal/metrics"
	inats "github.com/sentilytics/sentilytics/internal/nats"
)

// DefaultRefundTimeout bounds the refund write once the caller has gone away.
const DefaultRefundTimeout = 5 * time.Second

// Audit event types.
const (
	EventCreditsDeducted = "credits_deducted"
	EventCreditsRefunded = "credits_refunded"
	EventRefundFailed    = "refund_failed"
	EventCreditsGranted  = "credits_granted"
)

// EventPublisher receives ledger audit events. *nats.Publisher satisfies it.
type EventPublisher interface {
	PublishAuditEvent(ctx context.Context, event inats.AuditEvent) error
}

var _ EventPublisher = (*inats.Publisher)(nil)

// Call performs the metered work. It must honour ctx cancellation.
type Call func(ctx context.Context) error

// Outcome describes a successful metered call.
type Outcome struct {
	OperationID string
	Kind        ledger.Kind
	Cost        int
	Remaining   int
}

// Meter runs collaborator calls under the ledger's check, deduct and refund
// discipline.
type Meter struct {
	ledger        *ledger.Ledger
	events        EventPublisher
	refundTimeout time.Duration
}

// Option configures a Meter.
type Option func(*Meter)

// WithPublisher enables audit events.
func WithPublisher(p EventPublisher) Option {
	return func(m *Meter) { m.events = p }
}

// WithRefundTimeout overrides DefaultRefundTimeout.
func WithRefundTimeout(d time.Duration) Option {
	return func(m *Meter) { m.refundTimeout = d }
}

// New creates a Meter.
func New(l *ledger.Ledger, opts ...Option) *Meter {
	m := &Meter{
		ledger:        l,
		refundTimeout: DefaultRefundTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run charges userID for kind and executes call with the given timeout. A
// failed call is refunded exactly once.
func (m *Meter) Run(ctx context.Context, userID string, kind ledger.Kind, timeout time.Duration, call Call) (*Outcome, error) {
	check, err := m.ledger.CheckQuota(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return nil, &QuotaExceededError{Kind: kind, Remaining: check.Remaining, Required: check.Cost}
	}

	deduct, err := m.ledger.Deduct(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	if !deduct.Success {
		return nil, &QuotaExceededError{Kind: kind, Remaining: deduct.Remaining, Required: deduct.Required}
	}

	opID := uuid.NewString()
	m.publish(ctx, inats.AuditEvent{
		OwnerUserID: userID,
		EventType:   EventCreditsDeducted,
		Severity:    inats.SeverityInfo,
		ResourceID:  opID,
		Details:     map[string]any{"kind": kind.String(), "amount": deduct.Required, "remaining": deduct.Remaining},
	})

	callErr := m.invoke(ctx, kind, timeout, call)
	if callErr == nil {
		return &Outcome{
			OperationID: opID,
			Kind:        kind,
			Cost:        deduct.Required,
			Remaining:   deduct.Remaining,
		}, nil
	}

	ce := &CallError{
		Err:      callErr,
		TimedOut: errors.Is(callErr, context.DeadlineExceeded),
	}
	slog.Warn("metered call failed, refunding",
		"operation_id", opID, "user_id", userID, "kind", kind, "timed_out", ce.TimedOut, "error", callErr)

	refundCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refundTimeout)
	defer cancel()

	if err := m.ledger.Refund(refundCtx, userID, kind); err != nil {
		ce.RefundErr = err
		metrics.LedgerRefundFailuresTotal.WithLabelValues(kind.String()).Inc()
		slog.Error("refund failed",
			"operation_id", opID, "user_id", userID, "kind", kind, "amount", deduct.Required,
			"reconciliation_required", true, "error", err)
		m.publish(refundCtx, inats.AuditEvent{
			OwnerUserID: userID,
			EventType:   EventRefundFailed,
			Severity:    inats.SeverityCritical,
			ResourceID:  opID,
			Details: map[string]any{
				"kind":                    kind.String(),
				"amount":                  deduct.Required,
				"reconciliation_required": true,
				"error":                   err.Error(),
			},
		})
		return nil, ce
	}

	ce.Refunded = true
	ce.RefundedAmount = deduct.Required
	m.publish(refundCtx, inats.AuditEvent{
		OwnerUserID: userID,
		EventType:   EventCreditsRefunded,
		Severity:    inats.SeverityWarn,
		ResourceID:  opID,
		Details:     map[string]any{"kind": kind.String(), "amount": deduct.Required, "reason": callErr.Error()},
	})
	return nil, ce
}

func (m *Meter) invoke(ctx context.Context, kind ledger.Kind, timeout time.Duration, call Call) error {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	err := safeCall(callCtx, call)

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		outcome = "timeout"
		if !errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(err, context.DeadlineExceeded)
		}
	default:
		outcome = "error"
	}
	metrics.InferenceDuration.WithLabelValues(kind.String(), outcome).Observe(time.Since(start).Seconds())
	return err
}

// safeCall converts a panic in call into ErrCallPanicked so the charge is
// still refunded.
func safeCall(ctx context.Context, call Call) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("metered call panicked", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrCallPanicked, rec)
		}
	}()
	return call(ctx)
}

func (m *Meter) publish(ctx context.Context, event inats.AuditEvent) {
	if m.events == nil {
		return
	}
	event.ResourceType = "ledger"
	event.Timestamp = time.Now().UTC()

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := m.events.PublishAuditEvent(pubCtx, event); err != nil {
		slog.Warn("publishing audit event", "event_type", event.EventType, "error", err)
	}
}

// Cost returns the credit cost of kind.
func (m *Meter) Cost(kind ledger.Kind) (int, error) {
	return m.ledger.Cost(kind)
}
