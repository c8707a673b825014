package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

type StartAssignmentInput struct {
	PositionID uuid.UUID
	MemberID   int64
	StartDate  time.Time
	EndDate    *time.Time
	// Type defaults to permanent.
	Type         orgstructure.AssignmentType
	LetterNumber *string
	LetterDate   *time.Time
	Notes        string
}

// StartAssignment binds a member to a position. The position row stays locked
// until commit so concurrent starts on one position are checked one at a time.
func (s *OrgService) StartAssignment(ctx context.Context, in StartAssignmentInput) (_ orgstructure.Assignment, err error) {
	ctx, end := s.trace(ctx, "StartAssignment", true)
	defer end(&err)

	if in.Type == 0 {
		in.Type = orgstructure.AssignmentTypePermanent
	}
	a := orgstructure.Assignment{
		ID:           uuid.New(),
		PositionID:   in.PositionID,
		MemberID:     in.MemberID,
		StartDate:    orgstructure.Day(in.StartDate),
		EndDate:      orgstructure.DayPtr(in.EndDate),
		Type:         in.Type,
		LetterNumber: trimmedOrNil(in.LetterNumber),
		LetterDate:   orgstructure.DayPtr(in.LetterDate),
		Notes:        strings.TrimSpace(in.Notes),
		CreatedAt:    s.now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return orgstructure.Assignment{}, validationError("ORG_INVALID_BODY", err.Error(), err)
	}
	if s.members != nil {
		ok, err := s.members.MemberEligible(ctx, a.MemberID)
		if err != nil {
			return orgstructure.Assignment{}, infrastructureError("ORG_MEMBER_LOOKUP", "member lookup failed", err)
		}
		if !ok {
			return orgstructure.Assignment{}, validationError("ORG_MEMBER_NOT_ELIGIBLE", "member is not eligible for assignment", nil)
		}
	}

	created, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (orgstructure.Assignment, error) {
		pos, err := s.repo.LockPosition(txCtx, a.PositionID)
		if err != nil {
			return orgstructure.Assignment{}, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		if !pos.IsActive {
			return orgstructure.Assignment{}, conflictError("ORG_POSITION_INACTIVE", "position is inactive", nil)
		}

		overlapping, err := s.repo.ListAssignments(txCtx, AssignmentFilter{
			PositionID:  &pos.ID,
			Overlapping: &DayWindow{Start: a.StartDate, End: a.EndDate},
		})
		if err != nil {
			return orgstructure.Assignment{}, err
		}
		if PeakConcurrency(overlapping, a.StartDate, a.EndDate) >= pos.MaxHolders {
			orgCapacityRejections.Inc()
			return orgstructure.Assignment{}, capacityError("ORG_POSITION_FULL", "position is full", nil)
		}
		for _, existing := range overlapping {
			if existing.MemberID == a.MemberID && existing.Overlaps(a.StartDate, a.EndDate) {
				return orgstructure.Assignment{}, conflictError("ORG_ASSIGNMENT_DUPLICATE", "member already holds this position in that period", nil)
			}
		}
		if err := orgstructure.ValidateWindow(a.StartDate, a.EndDate); err != nil {
			return orgstructure.Assignment{}, validationError("ORG_INVALID_DATES", err.Error(), err)
		}

		if err := s.repo.InsertAssignment(txCtx, a); err != nil {
			return orgstructure.Assignment{}, err
		}
		return a, nil
	})
	if err != nil {
		return orgstructure.Assignment{}, err
	}

	s.afterCommit(ctx, "StartAssignment", logrus.Fields{
		"assignment_id": created.ID.String(),
		"position_id":   created.PositionID.String(),
		"member_id":     created.MemberID,
	}, AssignmentStarted{EventMeta: s.eventMeta(ctx), Assignment: created})
	return created, nil
}

// EndAssignment closes an assignment on endDate (inclusive). A zero endDate
// means today. Ended assignments cannot be ended again.
func (s *OrgService) EndAssignment(ctx context.Context, id uuid.UUID, endDate time.Time, reason *string) (_ orgstructure.Assignment, err error) {
	ctx, end := s.trace(ctx, "EndAssignment", true)
	defer end(&err)

	today := s.today()
	if endDate.IsZero() {
		endDate = today
	}
	endDate = orgstructure.Day(endDate)
	reason = trimmedOrNil(reason)

	ended, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (orgstructure.Assignment, error) {
		a, err := s.repo.LockAssignment(txCtx, id)
		if err != nil {
			return orgstructure.Assignment{}, wrapNotFound(err, "ORG_ASSIGNMENT_NOT_FOUND", "assignment not found")
		}
		if a.IsEnded(today) {
			return orgstructure.Assignment{}, notFoundError("ORG_ASSIGNMENT_ALREADY_ENDED", "assignment has already ended", nil)
		}
		if err := orgstructure.ValidateWindow(a.StartDate, &endDate); err != nil {
			return orgstructure.Assignment{}, validationError("ORG_INVALID_DATES", err.Error(), err)
		}
		if a.EndDate != nil && endDate.After(orgstructure.Day(*a.EndDate)) {
			return orgstructure.Assignment{}, validationError("ORG_END_EXTENDS_PLAN", "end_date cannot extend the planned end date", nil)
		}

		endedAt := s.now().UTC()
		if err := s.repo.EndAssignment(txCtx, id, endDate, reason, endedAt); err != nil {
			return orgstructure.Assignment{}, err
		}
		a.EndDate = &endDate
		a.EndReason = reason
		a.EndedAt = &endedAt
		return a, nil
	})
	if err != nil {
		return orgstructure.Assignment{}, err
	}

	s.afterCommit(ctx, "EndAssignment", logrus.Fields{
		"assignment_id": ended.ID.String(),
		"position_id":   ended.PositionID.String(),
		"member_id":     ended.MemberID,
	}, AssignmentEnded{EventMeta: s.eventMeta(ctx), Assignment: ended})
	return ended, nil
}

// CurrentHoldersOf returns the assignments holding the position on asOf.
// A zero asOf means today.
func (s *OrgService) CurrentHoldersOf(ctx context.Context, positionID uuid.UUID, asOf time.Time) (_ []orgstructure.Assignment, err error) {
	ctx, end := s.trace(ctx, "CurrentHoldersOf", false)
	defer end(&err)

	day := s.asOfDay(asOf)
	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]orgstructure.Assignment, error) {
		if _, err := s.repo.GetPosition(txCtx, positionID); err != nil {
			return nil, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		return s.repo.ListAssignments(txCtx, AssignmentFilter{PositionID: &positionID, CurrentAt: &day})
	})
}

// AssignmentHistory returns every assignment of the position, oldest first.
func (s *OrgService) AssignmentHistory(ctx context.Context, positionID uuid.UUID) (_ []orgstructure.Assignment, err error) {
	ctx, end := s.trace(ctx, "AssignmentHistory", false)
	defer end(&err)

	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]orgstructure.Assignment, error) {
		if _, err := s.repo.GetPosition(txCtx, positionID); err != nil {
			return nil, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		return s.repo.ListAssignments(txCtx, AssignmentFilter{PositionID: &positionID})
	})
}

// MemberAssignments returns the assignments the member holds on asOf.
func (s *OrgService) MemberAssignments(ctx context.Context, memberID int64, asOf time.Time) (_ []orgstructure.Assignment, err error) {
	ctx, end := s.trace(ctx, "MemberAssignments", false)
	defer end(&err)

	if memberID <= 0 {
		return nil, validationError("ORG_INVALID_BODY", "member_id is required", nil)
	}
	day := s.asOfDay(asOf)
	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]orgstructure.Assignment, error) {
		return s.repo.ListAssignments(txCtx, AssignmentFilter{MemberID: &memberID, CurrentAt: &day})
	})
}

func (s *OrgService) asOfDay(asOf time.Time) time.Time {
	if asOf.IsZero() {
		return s.today()
	}
	return orgstructure.Day(asOf)
}

func trimmedOrNil(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	if t == "" {
		return nil
	}
	return &t
}
