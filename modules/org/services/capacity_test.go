package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

func d(y int, m time.Month, day int) time.Time {
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func dp(y int, m time.Month, day int) *time.Time {
	t := d(y, m, day)
	return &t
}

func window(start time.Time, end *time.Time) orgstructure.Assignment {
	return orgstructure.Assignment{StartDate: start, EndDate: end}
}

func TestPeakConcurrency(t *testing.T) {
	tests := []struct {
		name        string
		assignments []orgstructure.Assignment
		start       time.Time
		end         *time.Time
		want        int
	}{
		{name: "empty", start: d(2025, 1, 1), want: 0},
		{
			name:        "two open-ended",
			assignments: []orgstructure.Assignment{window(d(2025, 1, 1), nil), window(d(2025, 3, 1), nil)},
			start:       d(2025, 1, 1),
			want:        2,
		},
		{
			name:        "back to back never overlap",
			assignments: []orgstructure.Assignment{window(d(2025, 1, 1), dp(2025, 1, 31)), window(d(2025, 2, 1), nil)},
			start:       d(2025, 1, 1),
			want:        1,
		},
		{
			name:        "same day end and start overlap",
			assignments: []orgstructure.Assignment{window(d(2025, 1, 1), dp(2025, 2, 1)), window(d(2025, 2, 1), nil)},
			start:       d(2025, 1, 1),
			want:        2,
		},
		{
			name:        "disjoint within window",
			assignments: []orgstructure.Assignment{window(d(2025, 1, 1), dp(2025, 1, 10)), window(d(2025, 1, 20), dp(2025, 1, 30))},
			start:       d(2025, 1, 1),
			end:         dp(2025, 12, 31),
			want:        1,
		},
		{
			name:        "outside window ignored",
			assignments: []orgstructure.Assignment{window(d(2024, 1, 1), dp(2024, 12, 31)), window(d(2026, 1, 1), nil)},
			start:       d(2025, 1, 1),
			end:         dp(2025, 12, 31),
			want:        0,
		},
		{
			name:        "time of day ignored",
			assignments: []orgstructure.Assignment{window(time.Date(2025, 1, 1, 23, 0, 0, 0, time.UTC), nil)},
			start:       time.Date(2025, 1, 1, 1, 0, 0, 0, time.UTC),
			end:         dp(2025, 1, 1),
			want:        1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, PeakConcurrency(tt.assignments, tt.start, tt.end))
		})
	}
}
