package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentilytics/sentilytics/internal/metrics"
)

// DefaultCredits is granted to a freshly provisioned record.
const DefaultCredits = 10

// Ledger is the single authority for committing and reversing credit
// deductions. It holds no quota state of its own.
type Ledger struct {
	store          Store
	costs          CostTable
	defaultCredits int
	now            func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDefaultCredits sets the credits granted by Provision.
func WithDefaultCredits(n int) Option {
	return func(l *Ledger) { l.defaultCredits = n }
}

// WithClock overrides time.Now, used for reset dates.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store with the given cost table.
func New(store Store, costs CostTable, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		costs:          costs,
		defaultCredits: DefaultCredits,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Costs returns the immutable cost table.
func (l *Ledger) Costs() CostTable {
	return l.costs
}

// Cost returns the credit cost of kind.
func (l *Ledger) Cost(kind Kind) (int, error) {
	return l.costs.Cost(kind)
}

// CheckQuota reports whether userID can currently afford kind. It never
// mutates state.
func (l *Ledger) CheckQuota(ctx context.Context, userID string, kind Kind) (*CheckResult, error) {
	cost, err := l.costs.Cost(kind)
	if err != nil {
		return nil, err
	}

	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		observe("check", kind, err)
		return nil, err
	}

	remaining := rec.Remaining()
	res := &CheckResult{
		Allowed:   remaining >= cost,
		Remaining: remaining,
		Cost:      cost,
	}
	if res.Allowed {
		metrics.LedgerOperationsTotal.WithLabelValues("check", kind.String(), "allowed").Inc()
	} else {
		metrics.LedgerOperationsTotal.WithLabelValues("check", kind.String(), "insufficient").Inc()
	}

	slog.Debug("ledger: quota checked",
		"user_id", userID, "kind", kind, "remaining", remaining, "cost", cost, "allowed", res.Allowed)
	return res, nil
}

// Deduct charges the cost of kind. The store re-validates sufficiency, so a
// stale CheckQuota result can never overdraw the record.
func (l *Ledger) Deduct(ctx context.Context, userID string, kind Kind) (*DeductResult, error) {
	cost, err := l.costs.Cost(kind)
	if err != nil {
		return nil, err
	}

	rec, ok, err := l.store.Deduct(ctx, userID, cost)
	if err != nil {
		observe("deduct", kind, err)
		return nil, err
	}

	res := &DeductResult{
		Success:      ok,
		Remaining:    rec.Remaining(),
		Required:     cost,
		MaxRequests:  rec.MaxRequests,
		RequestsUsed: rec.RequestsUsed,
	}
	if !ok {
		metrics.LedgerOperationsTotal.WithLabelValues("deduct", kind.String(), "insufficient").Inc()
		slog.Warn("ledger: insufficient quota",
			"user_id", userID, "kind", kind, "remaining", res.Remaining, "required", cost)
		return res, nil
	}

	metrics.LedgerOperationsTotal.WithLabelValues("deduct", kind.String(), "ok").Inc()
	slog.Info("ledger: credits deducted",
		"user_id", userID, "kind", kind, "cost", cost, "used", rec.RequestsUsed, "max", rec.MaxRequests)
	return res, nil
}

// Refund returns the cost of kind to userID. It is not idempotent: callers
// must refund at most once per failed deduction. The result never drives
// requests_used below zero.
func (l *Ledger) Refund(ctx context.Context, userID string, kind Kind) error {
	cost, err := l.costs.Cost(kind)
	if err != nil {
		return err
	}

	rec, err := l.store.Refund(ctx, userID, cost)
	if err != nil {
		observe("refund", kind, err)
		return fmt.Errorf("%w: %w", ErrRefundFailed, err)
	}

	metrics.LedgerOperationsTotal.WithLabelValues("refund", kind.String(), "ok").Inc()
	slog.Info("ledger: credits refunded",
		"user_id", userID, "kind", kind, "cost", cost, "used", rec.RequestsUsed, "max", rec.MaxRequests)
	return nil
}

// Status returns the record together with per-kind affordability.
func (l *Ledger) Status(ctx context.Context, userID string) (*Status, error) {
	rec, err := l.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	remaining := rec.Remaining()
	afford := make(map[string]int, len(Kinds))
	for _, k := range Kinds {
		cost, _ := l.costs.Cost(k)
		n := 0
		if remaining > 0 {
			n = remaining / cost
		}
		afford[k.String()] = n
	}

	return &Status{
		MaxRequests:   rec.MaxRequests,
		RequestsUsed:  rec.RequestsUsed,
		Remaining:     remaining,
		ResetDate:     rec.ResetDate,
		Costs:         l.costs,
		Affordability: afford,
	}, nil
}

// Grant applies purchased credits. The caller is trusted to have verified
// the payment.
func (l *Ledger) Grant(ctx context.Context, userID string, credits int, mode GrantMode) (*Record, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidGrant)
	}
	if credits <= 0 {
		return nil, fmt.Errorf("%w: credits must be positive, got %d", ErrInvalidGrant, credits)
	}
	if _, err := ParseGrantMode(string(mode)); err != nil {
		return nil, err
	}

	key, err := NewSecretKey()
	if err != nil {
		return nil, err
	}

	rec, err := l.store.Grant(ctx, userID, credits, mode, key, l.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("granting credits: %w", err)
	}

	metrics.LedgerOperationsTotal.WithLabelValues("grant", string(mode), "ok").Inc()
	slog.Info("ledger: credits granted",
		"user_id", userID, "credits", credits, "mode", mode, "used", rec.RequestsUsed, "max", rec.MaxRequests)
	return rec, nil
}

// Provision returns the user's record, creating it with the default grant on
// first use. Concurrent callers all observe the same record.
func (l *Ledger) Provision(ctx context.Context, userID string) (*Record, error) {
	rec, err := l.store.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	key, err := NewSecretKey()
	if err != nil {
		return nil, err
	}

	rec, err = l.store.Create(ctx, &Record{
		UserID:      userID,
		MaxRequests: l.defaultCredits,
		ResetDate:   l.now().UTC(),
		SecretKey:   key,
	})
	if err != nil {
		return nil, fmt.Errorf("provisioning quota: %w", err)
	}

	slog.Info("ledger: quota provisioned", "user_id", userID, "max", rec.MaxRequests)
	return rec, nil
}

// ResolveKey maps an API key to its owner.
func (l *Ledger) ResolveKey(ctx context.Context, secretKey string) (string, error) {
	rec, err := l.store.GetBySecretKey(ctx, secretKey)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

func observe(op string, kind Kind, err error) {
	result := "error"
	if errors.Is(err, ErrNotFound) {
		result = "not_found"
	}
	metrics.LedgerOperationsTotal.WithLabelValues(op, kind.String(), result).Inc()
}
