package models

import (
	"time"

	"github.com/google/uuid"
)

// ListType distinguishes allow entries from deny entries
type ListType string

const (
	ListWhitelist ListType = "whitelist"
	ListBlacklist ListType = "blacklist"
)

// Valid reports whether t is a known list type
func (t ListType) Valid() bool {
	return t == ListWhitelist || t == ListBlacklist
}

// RangeType classifies how an IP list entry's value should be matched
type RangeType string

const (
	RangeSingle   RangeType = "single"
	RangeCIDR     RangeType = "cidr"
	RangeDash     RangeType = "range"
	RangeWildcard RangeType = "wildcard"
)

// IPListEntry is one persisted allow/deny rule. Uniqueness is enforced on the
// (ip_or_range, list_type) pair; entries are created and removed only through
// explicit administrative action.
type IPListEntry struct {
	ID        uuid.UUID `db:"id"`
	IPOrRange string    `db:"ip_or_range"`
	ListType  ListType  `db:"list_type"`
	RangeType RangeType `db:"range_type"`
	Note      string    `db:"note"`
	CreatedAt time.Time `db:"created_at"`
}
