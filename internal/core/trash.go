package core

import (
	"math"
	"time"
)

// RetentionDays is how long a soft-deleted record stays in the trash before
// the sweeper may purge it.
const RetentionDays = 10

// RetentionWindow is RetentionDays as a duration.
const RetentionWindow = RetentionDays * 24 * time.Hour

// PurgeDate returns the instant a record deleted at deletedAt becomes eligible
// for the sweeper.
func PurgeDate(deletedAt time.Time) time.Time {
	return deletedAt.Add(RetentionWindow)
}

// DaysUntilPurge returns ceil((deletedAt + RetentionWindow - now) in days).
// Values <= 0 mean the record is eligible on the next sweep.
func DaysUntilPurge(deletedAt, now time.Time) int {
	left := PurgeDate(deletedAt).Sub(now)
	return int(math.Ceil(left.Hours() / 24))
}

// PurgeEligible reports whether a record deleted at deletedAt is past its
// retention window at now.
func PurgeEligible(deletedAt, now time.Time) bool {
	return !PurgeDate(deletedAt).After(now)
}

// TrashEntry pairs a soft-deleted record with its computed retention state.
type TrashEntry[T any] struct {
	Record   T         `json:"record"`
	DaysLeft int       `json:"days_left"`
	PurgeAt  time.Time `json:"purge_at"`
}

// BatchResult reports per-id outcomes of a batch purge.
type BatchResult struct {
	Success []string          `json:"success"`
	Failed  []string          `json:"failed"`
	Reasons map[string]string `json:"reasons,omitempty"`
}
