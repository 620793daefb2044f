package database

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lockdown-auth/lockdown/internal/models"
)

// MapPostgresError translates driver errors into the service's sentinel
// errors. Uniqueness is enforced by indexes rather than application reads:
// the partial unique indexes on lockouts (one row per address, one per
// username) and the (ip_or_range, list_type) pair on ip_lists both surface
// as 23505 here. Check violations cover the outcome and list_type enums and
// the lockout rule that at least one key must be set.
func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23502": // not_null_violation
			return models.ErrBadRequest
		case "23514": // check_violation
			return models.ErrBadRequest
		}
	}

	return err
}

