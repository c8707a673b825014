package services

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

type CreatePositionInput struct {
	UnitID      uuid.UUID
	Title       string
	Type        orgstructure.PositionType
	Level       orgstructure.PositionLevel
	ReportsToID *uuid.UUID
	// MaxHolders of 0 means orgstructure.DefaultMaxHolders.
	MaxHolders   int
	Description  string
	Requirements string
	// IsActive defaults to true.
	IsActive *bool
}

type UpdatePositionInput struct {
	UnitID       *uuid.UUID
	Title        *string
	Type         *orgstructure.PositionType
	Level        *orgstructure.PositionLevel
	ReportsToID  **uuid.UUID
	MaxHolders   *int
	Description  *string
	Requirements *string
	IsActive     *bool
}

// PositionWithHolders is a position annotated with the assignments current
// on the day it was read.
type PositionWithHolders struct {
	orgstructure.Position
	Holders []orgstructure.Assignment `json:"current_holders"`
}

func (s *OrgService) CreatePosition(ctx context.Context, in CreatePositionInput) (_ orgstructure.Position, err error) {
	ctx, end := s.trace(ctx, "CreatePosition", true)
	defer end(&err)

	if in.MaxHolders < 0 {
		return orgstructure.Position{}, validationError("ORG_INVALID_MAX_HOLDERS", "max_holders must be at least 1", nil)
	}
	if in.MaxHolders == 0 {
		in.MaxHolders = orgstructure.DefaultMaxHolders
	}
	now := s.now().UTC()
	pos := orgstructure.Position{
		ID:           uuid.New(),
		UnitID:       in.UnitID,
		Title:        strings.TrimSpace(in.Title),
		Type:         in.Type,
		Level:        in.Level,
		ReportsToID:  in.ReportsToID,
		MaxHolders:   in.MaxHolders,
		Description:  strings.TrimSpace(in.Description),
		Requirements: strings.TrimSpace(in.Requirements),
		IsActive:     in.IsActive == nil || *in.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validatePositionFields(pos); err != nil {
		return orgstructure.Position{}, err
	}

	created, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (orgstructure.Position, error) {
		if _, err := s.repo.GetUnit(txCtx, pos.UnitID); err != nil {
			return orgstructure.Position{}, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
		}
		if err := s.checkReportsTo(txCtx, pos); err != nil {
			return orgstructure.Position{}, err
		}
		if err := s.repo.InsertPosition(txCtx, pos); err != nil {
			return orgstructure.Position{}, err
		}
		return pos, nil
	})
	if err != nil {
		return orgstructure.Position{}, err
	}

	s.afterCommit(ctx, "CreatePosition", logrus.Fields{"position_id": created.ID.String(), "unit_id": created.UnitID.String()},
		PositionCreated{EventMeta: s.eventMeta(ctx), Position: created})
	return created, nil
}

func (s *OrgService) UpdatePosition(ctx context.Context, id uuid.UUID, in UpdatePositionInput) (_ orgstructure.Position, err error) {
	ctx, end := s.trace(ctx, "UpdatePosition", true)
	defer end(&err)

	if in.MaxHolders != nil && *in.MaxHolders < 1 {
		return orgstructure.Position{}, validationError("ORG_INVALID_MAX_HOLDERS", "max_holders must be at least 1", nil)
	}

	type result struct {
		before, after orgstructure.Position
	}
	res, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (result, error) {
		before, err := s.repo.LockPosition(txCtx, id)
		if err != nil {
			return result{}, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		after := applyPositionPatch(before, in)
		after.UpdatedAt = s.now().UTC()
		if err := validatePositionFields(after); err != nil {
			return result{}, err
		}

		if after.UnitID != before.UnitID {
			if _, err := s.repo.GetUnit(txCtx, after.UnitID); err != nil {
				return result{}, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
			}
		}
		if !sameUUIDPtr(before.ReportsToID, after.ReportsToID) {
			if err := s.repo.LockHierarchy(txCtx, HierarchyReporting); err != nil {
				return result{}, err
			}
			if err := s.checkReportsTo(txCtx, after); err != nil {
				return result{}, err
			}
		}
		if after.MaxHolders < before.MaxHolders {
			today := s.today()
			assignments, err := s.repo.ListAssignments(txCtx, AssignmentFilter{
				PositionID:  &id,
				Overlapping: &DayWindow{Start: today},
			})
			if err != nil {
				return result{}, err
			}
			if peak := PeakConcurrency(assignments, today, nil); peak > after.MaxHolders {
				return result{}, conflictError("ORG_CAPACITY_BELOW_HOLDERS", "max_holders is lower than the number of current holders", nil)
			}
		}

		if err := s.repo.UpdatePosition(txCtx, after); err != nil {
			return result{}, err
		}
		return result{before: before, after: after}, nil
	})
	if err != nil {
		return orgstructure.Position{}, err
	}

	s.afterCommit(ctx, "UpdatePosition", logrus.Fields{"position_id": id.String()}, PositionUpdated{
		EventMeta: s.eventMeta(ctx),
		Before:    res.before,
		After:     res.after,
		Patch:     diffPatch(res.before, res.after),
	})
	return res.after, nil
}

// DeletePosition removes a position together with its ended assignment history.
func (s *OrgService) DeletePosition(ctx context.Context, id uuid.UUID) (err error) {
	ctx, end := s.trace(ctx, "DeletePosition", true)
	defer end(&err)

	deleted, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (orgstructure.Position, error) {
		pos, err := s.repo.LockPosition(txCtx, id)
		if err != nil {
			return orgstructure.Position{}, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		assignments, err := s.repo.ListAssignments(txCtx, AssignmentFilter{PositionID: &id})
		if err != nil {
			return orgstructure.Position{}, err
		}
		today := s.today()
		for _, a := range assignments {
			if !a.IsEnded(today) {
				return orgstructure.Position{}, conflictError("ORG_POSITION_HAS_ASSIGNMENTS", "position still has assignments that have not ended", nil)
			}
		}
		subordinates, err := s.repo.CountSubordinates(txCtx, id)
		if err != nil {
			return orgstructure.Position{}, err
		}
		if subordinates > 0 {
			return orgstructure.Position{}, conflictError("ORG_POSITION_HAS_SUBORDINATES", "other positions report to this position", nil)
		}
		return pos, s.repo.DeletePosition(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, "DeletePosition", logrus.Fields{"position_id": id.String()},
		PositionDeleted{EventMeta: s.eventMeta(ctx), PositionID: id, UnitID: deleted.UnitID})
	return nil
}

func (s *OrgService) GetPosition(ctx context.Context, id uuid.UUID) (_ orgstructure.Position, err error) {
	ctx, end := s.trace(ctx, "GetPosition", false)
	defer end(&err)

	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) (orgstructure.Position, error) {
		p, err := s.repo.GetPosition(txCtx, id)
		if err != nil {
			return orgstructure.Position{}, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		return p, nil
	})
}

// ListByUnit returns the unit's positions with their holders as of today.
func (s *OrgService) ListByUnit(ctx context.Context, unitID uuid.UUID) (_ []PositionWithHolders, err error) {
	ctx, end := s.trace(ctx, "ListByUnit", false)
	defer end(&err)

	today := s.today()
	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]PositionWithHolders, error) {
		if _, err := s.repo.GetUnit(txCtx, unitID); err != nil {
			return nil, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
		}
		positions, err := s.repo.ListPositions(txCtx, PositionFilter{UnitID: &unitID})
		if err != nil {
			return nil, err
		}
		current, err := s.repo.ListAssignments(txCtx, AssignmentFilter{UnitID: &unitID, CurrentAt: &today})
		if err != nil {
			return nil, err
		}
		return attachHolders(positions, groupByPosition(current)), nil
	})
}

// ReportingChain returns the superiors of a position, direct superior first.
func (s *OrgService) ReportingChain(ctx context.Context, id uuid.UUID) (_ []orgstructure.Position, err error) {
	ctx, end := s.trace(ctx, "ReportingChain", false)
	defer end(&err)

	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]orgstructure.Position, error) {
		pos, err := s.repo.GetPosition(txCtx, id)
		if err != nil {
			return nil, wrapNotFound(err, "ORG_POSITION_NOT_FOUND", "position not found")
		}
		all, err := s.repo.ListPositions(txCtx, PositionFilter{})
		if err != nil {
			return nil, err
		}
		byID := make(map[uuid.UUID]orgstructure.Position, len(all))
		for _, p := range all {
			byID[p.ID] = p
		}

		chain := make([]orgstructure.Position, 0, 4)
		seen := map[uuid.UUID]struct{}{pos.ID: {}}
		for next := pos.ReportsToID; next != nil; {
			sup, ok := byID[*next]
			if !ok {
				return nil, infrastructureError("ORG_HIERARCHY_CORRUPTED", "reports_to points at a missing position", ErrHierarchyCorrupted)
			}
			if _, dup := seen[sup.ID]; dup {
				return nil, infrastructureError("ORG_HIERARCHY_CORRUPTED", "reporting chain contains a cycle", ErrHierarchyCorrupted)
			}
			seen[sup.ID] = struct{}{}
			chain = append(chain, sup)
			next = sup.ReportsToID
		}
		return chain, nil
	})
}

// checkReportsTo verifies that pos.ReportsToID exists and that following the
// chain from pos never comes back to it.
func (s *OrgService) checkReportsTo(ctx context.Context, pos orgstructure.Position) error {
	if pos.ReportsToID == nil {
		return nil
	}
	if *pos.ReportsToID == pos.ID {
		return cycleError("ORG_REPORTS_TO_CYCLE", "a position cannot report to itself", nil)
	}
	if _, err := s.repo.GetPosition(ctx, *pos.ReportsToID); err != nil {
		return wrapNotFound(err, "ORG_REPORTS_TO_NOT_FOUND", "reports_to position not found")
	}
	links, err := s.repo.ListReportingLinks(ctx)
	if err != nil {
		return err
	}
	links[pos.ID] = *pos.ReportsToID
	if err := walkReportingChain(links, pos.ID); err != nil {
		return err
	}
	return nil
}

// walkReportingChain follows links from start, bounded by the number of links.
func walkReportingChain(links map[uuid.UUID]uuid.UUID, start uuid.UUID) error {
	cur := start
	for steps := 0; steps <= len(links); steps++ {
		next, ok := links[cur]
		if !ok {
			return nil
		}
		if next == start {
			return cycleError("ORG_REPORTS_TO_CYCLE", "reports_to would create a reporting cycle", nil)
		}
		cur = next
	}
	return infrastructureError("ORG_HIERARCHY_CORRUPTED", "existing reporting chain contains a cycle", ErrHierarchyCorrupted)
}

func validatePositionFields(p orgstructure.Position) error {
	if err := p.Validate(); err != nil {
		code := "ORG_INVALID_BODY"
		var fieldErr *orgstructure.FieldError
		if errors.As(err, &fieldErr) && fieldErr.Field == "max_holders" {
			code = "ORG_INVALID_MAX_HOLDERS"
		}
		return validationError(code, err.Error(), err)
	}
	return nil
}

func applyPositionPatch(p orgstructure.Position, in UpdatePositionInput) orgstructure.Position {
	if in.UnitID != nil {
		p.UnitID = *in.UnitID
	}
	if in.Title != nil {
		p.Title = strings.TrimSpace(*in.Title)
	}
	if in.Type != nil {
		p.Type = *in.Type
	}
	if in.Level != nil {
		p.Level = *in.Level
	}
	if in.ReportsToID != nil {
		p.ReportsToID = *in.ReportsToID
	}
	if in.MaxHolders != nil {
		p.MaxHolders = *in.MaxHolders
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.Requirements != nil {
		p.Requirements = strings.TrimSpace(*in.Requirements)
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	return p
}

func groupByPosition(assignments []orgstructure.Assignment) map[uuid.UUID][]orgstructure.Assignment {
	byPosition := make(map[uuid.UUID][]orgstructure.Assignment)
	for _, a := range assignments {
		byPosition[a.PositionID] = append(byPosition[a.PositionID], a)
	}
	return byPosition
}

// attachHolders pairs positions with their holders. Positions are ordered by
// level, then title; holders by start date.
func attachHolders(positions []orgstructure.Position, byPosition map[uuid.UUID][]orgstructure.Assignment) []PositionWithHolders {
	out := make([]PositionWithHolders, 0, len(positions))
	for _, p := range positions {
		holders := byPosition[p.ID]
		if holders == nil {
			holders = []orgstructure.Assignment{}
		}
		sort.SliceStable(holders, func(i, j int) bool { return holders[i].StartDate.Before(holders[j].StartDate) })
		out = append(out, PositionWithHolders{Position: p, Holders: holders})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].Title < out[j].Title
	})
	return out
}

func sameUUIDPtr(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
