package models

import (
	"time"

	"github.com/google/uuid"
)

// Lockout is a time-bounded suppression of authentication attempts for an IP
// and/or a username. At most one active lockout exists per ip_address and at
// most one per username; concurrent escalations collapse into a single row via
// upsert-on-conflict rather than read-then-write.
type Lockout struct {
	ID           uuid.UUID `db:"id"`
	IPAddress    *string   `db:"ip_address"`
	Username     *string   `db:"username"`
	CreatedAt    time.Time `db:"created_at"`
	UnlockAt     time.Time `db:"unlock_at"`
	AttemptCount int       `db:"attempt_count"`
	Reason       string    `db:"reason"`
}

// Active reports whether the lockout is still in force at the given time
func (l *Lockout) Active(now time.Time) bool {
	return l.UnlockAt.After(now)
}

// Remaining returns how long the lockout has left, zero if expired
func (l *Lockout) Remaining(now time.Time) time.Duration {
	if !l.Active(now) {
		return 0
	}
	return l.UnlockAt.Sub(now)
}
