package notify

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository writes notifications to Postgres.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs the repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert stores an unsent notification.
func (r *PGRepository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO notifications (user_id, member_id, period_id, kind, title, body, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, n.UserID, n.MemberID, n.PeriodID, n.Kind, n.Title, n.Body, n.CreatedAt)
	return err
}
