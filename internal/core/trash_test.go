package core_test

import (
	"testing"
	"time"

	"vivarium/internal/core"
)

func TestDaysUntilPurge(t *testing.T) {
	deleted := baseTime
	day := 24 * time.Hour
	cases := []struct {
		name string
		now  time.Time
		want int
	}{
		{"just deleted", deleted, 10},
		{"one second later", deleted.Add(time.Second), 10},
		{"nine days", deleted.Add(9 * day), 1},
		{"nine and a half days", deleted.Add(9*day + 12*time.Hour), 1},
		{"exactly ten days", deleted.Add(10 * day), 0},
		{"overdue", deleted.Add(12*day + time.Hour), -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := core.DaysUntilPurge(deleted, tc.now); got != tc.want {
				t.Fatalf("DaysUntilPurge = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestPurgeEligibleBoundary(t *testing.T) {
	now := baseTime
	if !core.PurgeEligible(now.Add(-core.RetentionWindow-time.Second), now) {
		t.Fatalf("record past the window must be eligible")
	}
	if !core.PurgeEligible(now.Add(-core.RetentionWindow), now) {
		t.Fatalf("record exactly at the window must be eligible")
	}
	if core.PurgeEligible(now.Add(-9*24*time.Hour), now) {
		t.Fatalf("record inside the window must not be eligible")
	}
	if got := core.PurgeDate(now); !got.Equal(now.Add(10 * 24 * time.Hour)) {
		t.Fatalf("unexpected purge date %v", got)
	}
}
