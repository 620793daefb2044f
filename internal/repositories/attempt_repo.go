package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/lockdown-auth/lockdown/internal/database"
	"github.com/lockdown-auth/lockdown/internal/models"
)

// AttemptRepository handles database operations for the attempt log
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Record inserts an attempt record and fills in its generated id and timestamp
func (r *AttemptRepository) Record(ctx context.Context, attempt *models.AttemptRecord) error {
	query := `
		INSERT INTO login_attempts (ip_address, username, outcome, user_agent, message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, attempt_time
	`

	err := r.db.Pool.QueryRow(ctx, query,
		attempt.IPAddress,
		attempt.Username,
		attempt.Outcome,
		attempt.UserAgent,
		attempt.Message,
	).Scan(&attempt.ID, &attempt.AttemptTime)

	return database.MapPostgresError(err)
}

// CountFailures counts failed attempts within the trailing window where the IP
// or the username matches. OR semantics is intentional: either signal alone
// counts toward a lockout, so rotating one dimension does not evade the other.
func (r *AttemptRepository) CountFailures(ctx context.Context, ip, username string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE outcome = 'failed'
		  AND attempt_time >= $3
		  AND (ip_address = $1 OR ($2 <> '' AND username = $2))
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, ip, username, since).Scan(&count)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}

// Query returns one page of attempt records matching the filter, newest first
func (r *AttemptRepository) Query(ctx context.Context, filter models.AttemptFilter, limit, offset int) (*models.AttemptPage, error) {
	where, args := buildAttemptWhere(filter)

	countQuery := "SELECT COUNT(*) FROM login_attempts" + where

	var total int64
	if err := r.db.Pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, database.MapPostgresError(err)
	}

	query := fmt.Sprintf(`
		SELECT id, ip_address, username, attempt_time, outcome, user_agent, message
		FROM login_attempts%s
		ORDER BY attempt_time DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	records := make([]*models.AttemptRecord, 0, limit)
	for rows.Next() {
		var rec models.AttemptRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.IPAddress,
			&rec.Username,
			&rec.AttemptTime,
			&rec.Outcome,
			&rec.UserAgent,
			&rec.Message,
		); err != nil {
			return nil, database.MapPostgresError(err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &models.AttemptPage{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

// PurgeOlderThan deletes attempt records older than the retention period and
// returns the number of rows removed
func (r *AttemptRepository) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	query := `DELETE FROM login_attempts WHERE attempt_time < CURRENT_TIMESTAMP - make_interval(days => $1)`

	tag, err := r.db.Pool.Exec(ctx, query, days)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAll removes every attempt record (administrative clear-all)
func (r *AttemptRepository) DeleteAll(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM login_attempts`)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

func buildAttemptWhere(filter models.AttemptFilter) (string, []any) {
	var clauses []string
	var args []any

	arg := func(v any) int {
		args = append(args, v)
		return len(args)
	}

	if len(filter.Outcomes) > 0 {
		outcomes := make([]string, len(filter.Outcomes))
		for i, o := range filter.Outcomes {
			outcomes[i] = string(o)
		}
		clauses = append(clauses, fmt.Sprintf("outcome = ANY($%d)", arg(pq.Array(outcomes))))
	}
	if filter.IP != "" {
		clauses = append(clauses, fmt.Sprintf("ip_address = $%d", arg(filter.IP)))
	}
	if filter.Username != "" {
		clauses = append(clauses, fmt.Sprintf("username = $%d", arg(filter.Username)))
	}
	if !filter.From.IsZero() {
		clauses = append(clauses, fmt.Sprintf("attempt_time >= $%d", arg(filter.From)))
	}
	if !filter.To.IsZero() {
		clauses = append(clauses, fmt.Sprintf("attempt_time <= $%d", arg(filter.To)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
