package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lockdown-auth/lockdown/internal/database"
	"github.com/lockdown-auth/lockdown/internal/models"
)

// LockoutRepository handles database operations for active lockouts
type LockoutRepository struct {
	db *database.DB
}

// NewLockoutRepository creates a new LockoutRepository
func NewLockoutRepository(db *database.DB) *LockoutRepository {
	return &LockoutRepository{db: db}
}

// UpsertByIP creates or extends the lockout row for an IP address. The
// conditional write targets the partial unique index so that two concurrent
// escalations produce exactly one row, with the latest unlock time winning.
func (r *LockoutRepository) UpsertByIP(ctx context.Context, ip string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error) {
	query := `
		INSERT INTO lockouts (ip_address, unlock_at, attempt_count, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ip_address) WHERE ip_address IS NOT NULL
		DO UPDATE SET unlock_at = EXCLUDED.unlock_at,
		              attempt_count = EXCLUDED.attempt_count,
		              reason = EXCLUDED.reason
		RETURNING id, ip_address, username, created_at, unlock_at, attempt_count, reason
	`

	return r.scanLockout(r.db.Pool.QueryRow(ctx, query, ip, unlockAt, attemptCount, reason))
}

// UpsertByUsername creates or extends the lockout row for a username
func (r *LockoutRepository) UpsertByUsername(ctx context.Context, username string, unlockAt time.Time, attemptCount int, reason string) (*models.Lockout, error) {
	query := `
		INSERT INTO lockouts (username, unlock_at, attempt_count, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) WHERE username IS NOT NULL
		DO UPDATE SET unlock_at = EXCLUDED.unlock_at,
		              attempt_count = EXCLUDED.attempt_count,
		              reason = EXCLUDED.reason
		RETURNING id, ip_address, username, created_at, unlock_at, attempt_count, reason
	`

	return r.scanLockout(r.db.Pool.QueryRow(ctx, query, username, unlockAt, attemptCount, reason))
}

// GetActive returns the active lockout covering the given IP or username,
// preferring the one with the most remaining time. Expired rows for either key
// are lazily deleted first. Returns models.ErrNotFound when no lockout applies.
func (r *LockoutRepository) GetActive(ctx context.Context, ip, username string) (*models.Lockout, error) {
	deleteQuery := `
		DELETE FROM lockouts
		WHERE unlock_at <= CURRENT_TIMESTAMP
		  AND (ip_address = $1 OR ($2 <> '' AND username = $2))
	`
	if _, err := r.db.Pool.Exec(ctx, deleteQuery, ip, username); err != nil {
		return nil, database.MapPostgresError(err)
	}

	query := `
		SELECT id, ip_address, username, created_at, unlock_at, attempt_count, reason
		FROM lockouts
		WHERE unlock_at > CURRENT_TIMESTAMP
		  AND (ip_address = $1 OR ($2 <> '' AND username = $2))
		ORDER BY unlock_at DESC
		LIMIT 1
	`

	lockout, err := r.scanLockout(r.db.Pool.QueryRow(ctx, query, ip, username))
	if err != nil {
		return nil, err
	}
	return lockout, nil
}

// DeleteForKeys removes lockout rows matching the IP or username, used after a
// successful authentication or a single administrative unlock
func (r *LockoutRepository) DeleteForKeys(ctx context.Context, ip, username string) (int64, error) {
	query := `
		DELETE FROM lockouts
		WHERE ($1 <> '' AND ip_address = $1) OR ($2 <> '' AND username = $2)
	`

	tag, err := r.db.Pool.Exec(ctx, query, ip, username)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll removes every lockout row (administrative reset-all)
func (r *LockoutRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM lockouts`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes lockouts whose unlock time has passed; run by the
// maintenance job alongside attempt retention pruning
func (r *LockoutRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM lockouts WHERE unlock_at <= CURRENT_TIMESTAMP`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns all lockouts still in force, soonest to expire first
func (r *LockoutRepository) ListActive(ctx context.Context) ([]*models.Lockout, error) {
	query := `
		SELECT id, ip_address, username, created_at, unlock_at, attempt_count, reason
		FROM lockouts
		WHERE unlock_at > CURRENT_TIMESTAMP
		ORDER BY unlock_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var lockouts []*models.Lockout
	for rows.Next() {
		var l models.Lockout
		if err := rows.Scan(&l.ID, &l.IPAddress, &l.Username, &l.CreatedAt, &l.UnlockAt, &l.AttemptCount, &l.Reason); err != nil {
			return nil, database.MapPostgresError(err)
		}
		lockouts = append(lockouts, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return lockouts, nil
}

func (r *LockoutRepository) scanLockout(row pgx.Row) (*models.Lockout, error) {
	var l models.Lockout
	err := row.Scan(&l.ID, &l.IPAddress, &l.Username, &l.CreatedAt, &l.UnlockAt, &l.AttemptCount, &l.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, database.MapPostgresError(err)
	}
	return &l, nil
}
