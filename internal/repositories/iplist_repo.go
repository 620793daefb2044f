package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/lockdown-auth/lockdown/internal/database"
	"github.com/lockdown-auth/lockdown/internal/models"
)

// IPListRepository handles database operations for allow/deny list entries
type IPListRepository struct {
	db *database.DB
}

// NewIPListRepository creates a new IPListRepository
func NewIPListRepository(db *database.DB) *IPListRepository {
	return &IPListRepository{db: db}
}

// Add inserts a list entry. A duplicate (ip_or_range, list_type) pair maps to
// models.ErrConflict via the unique constraint.
func (r *IPListRepository) Add(ctx context.Context, entry *models.IPListEntry) error {
	query := `
		INSERT INTO ip_lists (ip_or_range, list_type, range_type, note)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		entry.IPOrRange,
		entry.ListType,
		entry.RangeType,
		entry.Note,
	).Scan(&entry.ID, &entry.CreatedAt)

	return database.MapPostgresError(err)
}

// Remove deletes an entry by id, returning models.ErrNotFound when absent
func (r *IPListRepository) Remove(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM ip_lists WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// ListByType returns all entries of one list type, oldest first. Lists are
// small and consulted once per attempt, so no caching beyond the request.
func (r *IPListRepository) ListByType(ctx context.Context, listType models.ListType) ([]*models.IPListEntry, error) {
	query := `
		SELECT id, ip_or_range, list_type, range_type, note, created_at
		FROM ip_lists
		WHERE list_type = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, listType)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var entries []*models.IPListEntry
	for rows.Next() {
		var e models.IPListEntry
		if err := rows.Scan(&e.ID, &e.IPOrRange, &e.ListType, &e.RangeType, &e.Note, &e.CreatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapPostgresError(err)
	}

	return entries, nil
}
