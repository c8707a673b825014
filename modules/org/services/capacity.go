package services

import (
	"sort"
	"time"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

type capacityEdge struct {
	at    time.Time
	delta int
}

// PeakConcurrency returns the largest number of assignments that hold the
// position on any single day of [start, end]. A nil end is open-ended.
// Assignment windows are inclusive and compared at day granularity.
func PeakConcurrency(assignments []orgstructure.Assignment, start time.Time, end *time.Time) int {
	start = orgstructure.Day(start)
	end = orgstructure.DayPtr(end)

	edges := make([]capacityEdge, 0, 2*len(assignments))
	for _, a := range assignments {
		from := orgstructure.Day(a.StartDate)
		if from.Before(start) {
			from = start
		}
		to := orgstructure.DayPtr(a.EndDate)
		if end != nil && (to == nil || to.After(*end)) {
			to = end
		}
		if to != nil && to.Before(from) {
			continue
		}
		edges = append(edges, capacityEdge{at: from, delta: 1})
		if to != nil {
			edges = append(edges, capacityEdge{at: orgstructure.NextDay(*to), delta: -1})
		}
	}

	// Releases sort before acquisitions on the same day: a window ending the
	// day before another starts never overlaps it.
	sort.Slice(edges, func(i, j int) bool {
		if !edges[i].at.Equal(edges[j].at) {
			return edges[i].at.Before(edges[j].at)
		}
		return edges[i].delta < edges[j].delta
	})

	peak, cur := 0, 0
	for _, e := range edges {
		cur += e.delta
		if cur > peak {
			peak = cur
		}
	}
	return peak
}
