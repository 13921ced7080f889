package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PurchaseState is what Begin found for a billing reference.
type PurchaseState int

const (
	// PurchaseNew means the caller now owns the reference and must apply the grant.
	PurchaseNew PurchaseState = iota
	// PurchasePending means another request is applying the grant.
	PurchasePending
	// PurchaseCompleted means the grant was already applied.
	PurchaseCompleted
)

const (
	purchaseStatusPending   = "pending"
	purchaseStatusCompleted = "completed"
)

// ErrReferenceMismatch is returned when a reference is reused for another user.
var ErrReferenceMismatch = errors.New("billing reference already used for another user")

// Purchase matches the purchases table schema.
type Purchase struct {
	Reference      string     `json:"reference"`
	UserID         string     `json:"user_id"`
	PlanType       string     `json:"plan_type,omitempty"`
	CreditsGranted int        `json:"credits_granted"`
	Mode           string     `json:"mode"`
	Amount         int64      `json:"amount"`
	Currency       string     `json:"currency,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Purchases is the durable record of billing grants. A reference is applied
// at most once. *PurchaseRepository satisfies it.
type Purchases interface {
	Begin(ctx context.Context, p *Purchase) (PurchaseState, error)
	Complete(ctx context.Context, reference string) error
	Abandon(ctx context.Context, reference string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Purchase, error)
}

// PurchaseRepository handles purchases PostgreSQL operations.
type PurchaseRepository struct {
	pool *pgxpool.Pool
}

var _ Purchases = (*PurchaseRepository)(nil)

func NewPurchaseRepository(pool *pgxpool.Pool) *PurchaseRepository {
	return &PurchaseRepository{pool: pool}
}

// Begin inserts p as pending. When the reference already exists p is
// overwritten with the stored row and its state is returned.
func (r *PurchaseRepository) Begin(ctx context.Context, p *Purchase) (PurchaseState, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO purchases (reference, user_id, plan_type, credits_granted, mode, amount, currency, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (reference) DO NOTHING
		 RETURNING created_at`,
		p.Reference, p.UserID, p.PlanType, p.CreditsGranted, p.Mode, p.Amount, p.Currency, purchaseStatusPending,
	).Scan(&p.CreatedAt)
	if err == nil {
		p.Status = purchaseStatusPending
		return PurchaseNew, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("recording purchase: %w", err)
	}

	userID := p.UserID
	err = r.pool.QueryRow(ctx,
		`SELECT reference, user_id, plan_type, credits_granted, mode, amount, currency, status, created_at, completed_at
		 FROM purchases WHERE reference = $1`, p.Reference,
	).Scan(&p.Reference, &p.UserID, &p.PlanType, &p.CreditsGranted, &p.Mode, &p.Amount, &p.Currency,
		&p.Status, &p.CreatedAt, &p.CompletedAt)
	if err != nil {
		return 0, fmt.Errorf("reading purchase: %w", err)
	}
	return existingState(p, userID)
}

func existingState(p *Purchase, userID string) (PurchaseState, error) {
	switch {
	case p.UserID != userID:
		return 0, ErrReferenceMismatch
	case p.Status == purchaseStatusCompleted:
		return PurchaseCompleted, nil
	default:
		return PurchasePending, nil
	}
}

// Complete marks a pending purchase as applied.
func (r *PurchaseRepository) Complete(ctx context.Context, reference string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE purchases SET status = $2, completed_at = NOW() WHERE reference = $1 AND status = $3`,
		reference, purchaseStatusCompleted, purchaseStatusPending)
	if err != nil {
		return fmt.Errorf("completing purchase: %w", err)
	}
	return nil
}

// Abandon removes a pending purchase whose grant failed so billing can retry.
func (r *PurchaseRepository) Abandon(ctx context.Context, reference string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM purchases WHERE reference = $1 AND status = $2`,
		reference, purchaseStatusPending)
	if err != nil {
		return fmt.Errorf("abandoning purchase: %w", err)
	}
	return nil
}

// ListByUser returns the user's purchases, newest first.
func (r *PurchaseRepository) ListByUser(ctx context.Context, userID string, limit int) ([]Purchase, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT reference, user_id, plan_type, credits_granted, mode, amount, currency, status, created_at, completed_at
		 FROM purchases WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying purchases: %w", err)
	}
	defer rows.Close()

	purchases := make([]Purchase, 0)
	for rows.Next() {
		var p Purchase
		if err := rows.Scan(&p.Reference, &p.UserID, &p.PlanType, &p.CreditsGranted, &p.Mode, &p.Amount, &p.Currency,
			&p.Status, &p.CreatedAt, &p.CompletedAt); err != nil {
			return nil, fmt.Errorf("scanning purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating purchases: %w", err)
	}
	return purchases, nil
}
