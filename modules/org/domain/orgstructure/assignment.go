package orgstructure

import (
	"time"

	"github.com/google/uuid"
)

// Assignment binds a member to a position for an inclusive range of days.
type Assignment struct {
	ID           uuid.UUID      `json:"id" yaml:"id"`
	PositionID   uuid.UUID      `json:"position_id" yaml:"position_id"`
	MemberID     int64          `json:"member_id" yaml:"member_id"`
	StartDate    time.Time      `json:"start_date" yaml:"start_date"`
	EndDate      *time.Time     `json:"end_date" yaml:"end_date"`
	Type         AssignmentType `json:"assignment_type" yaml:"assignment_type"`
	LetterNumber *string        `json:"letter_number,omitempty" yaml:"letter_number,omitempty"`
	LetterDate   *time.Time     `json:"letter_date,omitempty" yaml:"letter_date,omitempty"`
	Notes        string         `json:"notes,omitempty" yaml:"notes,omitempty"`
	EndReason    *string        `json:"end_reason,omitempty" yaml:"end_reason,omitempty"`
	// EndedAt is set once the assignment has been ended explicitly.
	EndedAt   *time.Time `json:"ended_at,omitempty" yaml:"ended_at,omitempty"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}

// IsCurrentAt reports whether the assignment covers the day of t.
func (a Assignment) IsCurrentAt(t time.Time) bool {
	day := Day(t)
	if Day(a.StartDate).After(day) {
		return false
	}
	return a.EndDate == nil || !Day(*a.EndDate).Before(day)
}

// IsEnded reports whether the assignment can no longer be ended: it was
// ended explicitly or its end date lies before today.
func (a Assignment) IsEnded(today time.Time) bool {
	if a.EndedAt != nil {
		return true
	}
	return a.EndDate != nil && Day(*a.EndDate).Before(Day(today))
}

// Overlaps reports whether the assignment's window intersects [start, end].
func (a Assignment) Overlaps(start time.Time, end *time.Time) bool {
	return WindowsOverlap(a.StartDate, a.EndDate, start, end)
}

func (a Assignment) Validate() error {
	if a.PositionID == uuid.Nil {
		return &FieldError{Field: "position_id", Reason: "is required"}
	}
	if a.MemberID <= 0 {
		return &FieldError{Field: "member_id", Reason: "is required"}
	}
	if a.StartDate.IsZero() {
		return &FieldError{Field: "start_date", Reason: "is required"}
	}
	if !a.Type.Valid() {
		return &FieldError{Field: "assignment_type", Reason: "must be one of permanent, temporary, acting"}
	}
	return nil
}

// ValidateWindow checks that the end date is not before the start date.
func ValidateWindow(start time.Time, end *time.Time) error {
	if end != nil && Day(*end).Before(Day(start)) {
		return &FieldError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return nil
}
