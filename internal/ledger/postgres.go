package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps quota records in the api_quotas table. Every mutation
// is a single conditional UPDATE, so concurrent requests are serialized by
// the row lock rather than by application code.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const recordColumns = `user_id, max_requests, requests_used, reset_date, secret_key`

func scanRecord(row pgx.Row) (*Record, error) {
	var rec Record
	if err := row.Scan(&rec.UserID, &rec.MaxRequests, &rec.RequestsUsed, &rec.ResetDate, &rec.SecretKey); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM api_quotas WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: querying quota: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) GetBySecretKey(ctx context.Context, secretKey string) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM api_quotas WHERE secret_key = $1`, secretKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: querying quota by key: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) Deduct(ctx context.Context, userID string, amount int) (*Record, bool, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE api_quotas
		 SET requests_used = requests_used + $2,
		     updated_at = NOW()
		 WHERE user_id = $1 AND max_requests - requests_used >= $2
		 RETURNING `+recordColumns, userID, amount))
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("%w: deducting quota: %w", ErrStoreUnavailable, err)
	}

	// No row matched: either the record is missing or it cannot cover amount.
	rec, err = s.Get(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (s *PostgresStore) Refund(ctx context.Context, userID string, amount int) (*Record, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`UPDATE api_quotas
		 SET requests_used = GREATEST(requests_used - $2, 0),
		     updated_at = NOW()
		 WHERE user_id = $1
		 RETURNING `+recordColumns, userID, amount))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: refunding quota: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) Grant(ctx context.Context, userID string, credits int, mode GrantMode, secretKey string, now time.Time) (*Record, error) {
	var onConflict string
	switch mode {
	case GrantStack:
		onConflict = `max_requests = api_quotas.max_requests + EXCLUDED.max_requests`
	case GrantReplace:
		onConflict = `max_requests = EXCLUDED.max_requests, requests_used = 0`
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidGrant, mode)
	}

	rec, err := scanRecord(s.pool.QueryRow(ctx,
		`INSERT INTO api_quotas (user_id, max_requests, requests_used, reset_date, secret_key)
		 VALUES ($1, $2, 0, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET `+onConflict+`, reset_date = EXCLUDED.reset_date, updated_at = NOW()
		 RETURNING `+recordColumns, userID, credits, now, secretKey))
	if err != nil {
		return nil, fmt.Errorf("%w: granting quota: %w", ErrStoreUnavailable, err)
	}
	return rec, nil
}

func (s *PostgresStore) Create(ctx context.Context, rec *Record) (*Record, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_quotas (user_id, max_requests, requests_used, reset_date, secret_key)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		rec.UserID, rec.MaxRequests, rec.RequestsUsed, rec.ResetDate, rec.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("%w: ensuring quota: %w", ErrStoreUnavailable, err)
	}
	return s.Get(ctx, rec.UserID)
}
