package orgstructure

import "time"

// Day truncates t to its UTC calendar day. The zero time is returned unchanged.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DayPtr is Day for optional dates.
func DayPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := Day(*t)
	return &d
}

// NextDay returns the day after d.
func NextDay(d time.Time) time.Time {
	return Day(d).AddDate(0, 0, 1)
}

// WindowsOverlap reports whether two inclusive day windows intersect.
// A nil end is open-ended.
func WindowsOverlap(aStart time.Time, aEnd *time.Time, bStart time.Time, bEnd *time.Time) bool {
	if aEnd != nil && Day(*aEnd).Before(Day(bStart)) {
		return false
	}
	if bEnd != nil && Day(*bEnd).Before(Day(aStart)) {
		return false
	}
	return true
}
