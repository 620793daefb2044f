package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies the result of an authentication or registration attempt
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeBlocked      Outcome = "blocked"
	OutcomeRegistration Outcome = "registration"
)

// Valid reports whether o is one of the known outcome values
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailed, OutcomeBlocked, OutcomeRegistration:
		return true
	}
	return false
}

// AttemptRecord is a single authentication or registration attempt.
// Records are immutable once written; old rows are removed by retention pruning.
type AttemptRecord struct {
	ID          uuid.UUID `db:"id"`
	IPAddress   string    `db:"ip_address"`
	Username    string    `db:"username"`
	AttemptTime time.Time `db:"attempt_time"`
	Outcome     Outcome   `db:"outcome"`
	UserAgent   string    `db:"user_agent"`
	Message     string    `db:"message"`
}

// AttemptFilter narrows an attempt log query. Zero values mean "no constraint".
type AttemptFilter struct {
	Outcomes []Outcome
	IP       string
	Username string
	From     time.Time
	To       time.Time
}

// AttemptPage is one page of attempt records plus the total match count
type AttemptPage struct {
	Records []*AttemptRecord
	Total   int64
	Limit   int
	Offset  int
}
