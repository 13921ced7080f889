package video

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository handles video_files PostgreSQL operations.
type Repository struct {
	pool  *pgxpool.Pool
	lease time.Duration
}

// NewRepository creates a Repository. An analysis claim older than lease is
// considered abandoned and may be taken over.
func NewRepository(pool *pgxpool.Pool, lease time.Duration) *Repository {
	return &Repository{pool: pool, lease: lease}
}

// Register records an upload owned by f.UserID.
func (r *Repository) Register(ctx context.Context, f *File) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO video_files (key, user_id, status)
		 VALUES ($1, $2, $3)
		 RETURNING created_at`,
		f.Key, f.UserID, StatusUploaded).Scan(&f.CreatedAt)
	if err != nil {
		return fmt.Errorf("registering video file: %w", err)
	}
	f.Status = StatusUploaded
	return nil
}

// Claim marks key as being analyzed for userID. It fails with ErrNotFound,
// ErrNotOwner, ErrAlreadyAnalyzed or ErrInProgress.
func (r *Repository) Claim(ctx context.Context, key, userID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE video_files SET status = $3, claimed_at = NOW()
		 WHERE key = $1 AND user_id = $2
		   AND (status = $4 OR (status = $3 AND claimed_at < NOW() - make_interval(secs => $5)))`,
		key, userID, StatusAnalyzing, StatusUploaded, r.lease.Seconds())
	if err != nil {
		return fmt.Errorf("claiming video file: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var owner string
	var status Status
	err = r.pool.QueryRow(ctx, `SELECT user_id, status FROM video_files WHERE key = $1`, key).Scan(&owner, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("reading video file: %w", err)
	}
	return claimError(owner, status, userID)
}

func claimError(owner string, status Status, userID string) error {
	switch {
	case owner != userID:
		return ErrNotOwner
	case status == StatusAnalyzed:
		return ErrAlreadyAnalyzed
	default:
		return ErrInProgress
	}
}

// Complete marks a claimed key as analyzed.
func (r *Repository) Complete(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE video_files SET status = $2, analyzed_at = NOW() WHERE key = $1 AND status = $3`,
		key, StatusAnalyzed, StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("completing video file: %w", err)
	}
	return nil
}

// Release returns a claimed key to uploaded so the owner can retry.
func (r *Repository) Release(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE video_files SET status = $2, claimed_at = NULL WHERE key = $1 AND status = $3`,
		key, StatusUploaded, StatusAnalyzing)
	if err != nil {
		return fmt.Errorf("releasing video file: %w", err)
	}
	return nil
}
