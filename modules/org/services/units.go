package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
)

type CreateUnitInput struct {
	Name         string
	Scope        orgstructure.Scope
	Level        int
	ParentID     *uuid.UUID
	RegionID     *int64
	UniversityID *int64
	Description  string
	// IsActive defaults to true.
	IsActive *bool
}

// UpdateUnitInput patches a unit; nil fields are left unchanged. The double
// pointers clear the reference when set to a nil inner pointer.
type UpdateUnitInput struct {
	Name         *string
	Scope        *orgstructure.Scope
	Level        *int
	ParentID     **uuid.UUID
	RegionID     **int64
	UniversityID **int64
	Description  *string
	IsActive     *bool
}

func (s *OrgService) CreateUnit(ctx context.Context, in CreateUnitInput) (_ orgstructure.Unit, err error) {
	ctx, end := s.trace(ctx, "CreateUnit", true)
	defer end(&err)

	now := s.now().UTC()
	unit := orgstructure.Unit{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Scope:        in.Scope,
		Level:        in.Level,
		ParentID:     in.ParentID,
		RegionID:     in.RegionID,
		UniversityID: in.UniversityID,
		Description:  strings.TrimSpace(in.Description),
		IsActive:     in.IsActive == nil || *in.IsActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validateUnitFields(unit); err != nil {
		return orgstructure.Unit{}, err
	}
	if err := s.checkReferences(ctx, unit); err != nil {
		return orgstructure.Unit{}, err
	}

	created, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (orgstructure.Unit, error) {
		if unit.ParentID != nil {
			if err := s.repo.LockHierarchy(txCtx, HierarchyUnits); err != nil {
				return orgstructure.Unit{}, err
			}
			parent, err := s.repo.GetUnit(txCtx, *unit.ParentID)
			if err != nil {
				return orgstructure.Unit{}, wrapNotFound(err, "ORG_PARENT_NOT_FOUND", "parent unit not found")
			}
			if err := unit.ValidateUnder(parent); err != nil {
				return orgstructure.Unit{}, validationError("ORG_INVALID_LEVEL", err.Error(), err)
			}
		}
		if err := s.repo.InsertUnit(txCtx, unit); err != nil {
			return orgstructure.Unit{}, err
		}
		return unit, nil
	})
	if err != nil {
		return orgstructure.Unit{}, err
	}

	s.afterCommit(ctx, "CreateUnit", logrus.Fields{"unit_id": created.ID.String()},
		UnitCreated{EventMeta: s.eventMeta(ctx), Unit: created})
	return created, nil
}

func (s *OrgService) UpdateUnit(ctx context.Context, id uuid.UUID, in UpdateUnitInput) (_ orgstructure.Unit, err error) {
	ctx, end := s.trace(ctx, "UpdateUnit", true)
	defer end(&err)

	if id == uuid.Nil {
		return orgstructure.Unit{}, validationError("ORG_INVALID_BODY", "id is required", nil)
	}

	type result struct {
		before, after orgstructure.Unit
	}
	res, err := inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (result, error) {
		if err := s.repo.LockHierarchy(txCtx, HierarchyUnits); err != nil {
			return result{}, err
		}
		before, err := s.repo.GetUnit(txCtx, id)
		if err != nil {
			return result{}, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
		}
		after := applyUnitPatch(before, in)
		after.UpdatedAt = s.now().UTC()

		if after.ParentID != nil && *after.ParentID == after.ID {
			return result{}, cycleError("ORG_UNIT_CYCLE", "unit cannot be its own parent", nil)
		}
		if err := validateUnitFields(after); err != nil {
			return result{}, err
		}
		if err := s.checkReferences(txCtx, after); err != nil {
			return result{}, err
		}

		units, err := s.repo.ListUnits(txCtx)
		if err != nil {
			return result{}, err
		}
		byID := make(map[uuid.UUID]orgstructure.Unit, len(units))
		for _, u := range units {
			byID[u.ID] = u
		}

		if after.ParentID != nil {
			parent, ok := byID[*after.ParentID]
			if !ok {
				return result{}, notFoundError("ORG_PARENT_NOT_FOUND", "parent unit not found", nil)
			}
			if isUnitAncestor(byID, after.ID, parent.ID) {
				return result{}, cycleError("ORG_UNIT_CYCLE", "unit cannot be moved under its own descendant", nil)
			}
			if err := after.ValidateUnder(parent); err != nil {
				return result{}, validationError("ORG_INVALID_LEVEL", err.Error(), err)
			}
		}
		if after.Level != before.Level {
			for _, u := range units {
				if u.ParentID != nil && *u.ParentID == after.ID && u.Level <= after.Level {
					return result{}, validationError("ORG_INVALID_LEVEL", "child unit "+u.Name+" would no longer have a greater level", nil)
				}
			}
		}

		if err := s.repo.UpdateUnit(txCtx, after); err != nil {
			return result{}, err
		}
		return result{before: before, after: after}, nil
	})
	if err != nil {
		return orgstructure.Unit{}, err
	}

	s.afterCommit(ctx, "UpdateUnit", logrus.Fields{"unit_id": id.String()}, UnitUpdated{
		EventMeta: s.eventMeta(ctx),
		Before:    res.before,
		After:     res.after,
		Patch:     diffPatch(res.before, res.after),
	})
	return res.after, nil
}

func (s *OrgService) DeleteUnit(ctx context.Context, id uuid.UUID) (err error) {
	ctx, end := s.trace(ctx, "DeleteUnit", true)
	defer end(&err)

	_, err = inTx(ctx, s.repo, TxReadWrite, func(txCtx context.Context) (struct{}, error) {
		if _, err := s.repo.GetUnit(txCtx, id); err != nil {
			return struct{}{}, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
		}
		deps, err := s.repo.CountUnitDependents(txCtx, id)
		if err != nil {
			return struct{}{}, err
		}
		if deps.Children > 0 {
			return struct{}{}, conflictError("ORG_UNIT_HAS_CHILDREN", "unit still has child units", nil)
		}
		if deps.Positions > 0 {
			return struct{}{}, conflictError("ORG_UNIT_HAS_POSITIONS", "unit still has positions", nil)
		}
		return struct{}{}, s.repo.DeleteUnit(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, "DeleteUnit", logrus.Fields{"unit_id": id.String()},
		UnitDeleted{EventMeta: s.eventMeta(ctx), UnitID: id})
	return nil
}

func (s *OrgService) GetUnit(ctx context.Context, id uuid.UUID) (_ orgstructure.Unit, err error) {
	ctx, end := s.trace(ctx, "GetUnit", false)
	defer end(&err)

	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) (orgstructure.Unit, error) {
		u, err := s.repo.GetUnit(txCtx, id)
		if err != nil {
			return orgstructure.Unit{}, wrapNotFound(err, "ORG_UNIT_NOT_FOUND", "unit not found")
		}
		return u, nil
	})
}

// ListTree returns the unit forest selected by filter, without positions.
func (s *OrgService) ListTree(ctx context.Context, filter TreeFilter) (_ []*UnitNode, err error) {
	ctx, end := s.trace(ctx, "ListTree", false)
	defer end(&err)

	return inTx(ctx, s.repo, TxSnapshot, func(txCtx context.Context) ([]*UnitNode, error) {
		units, err := s.repo.ListUnits(txCtx)
		if err != nil {
			return nil, err
		}
		return buildForest(units, filter)
	})
}

func validateUnitFields(u orgstructure.Unit) error {
	if err := u.Validate(); err != nil {
		var fieldErr *orgstructure.FieldError
		code := "ORG_INVALID_BODY"
		if errors.As(err, &fieldErr) {
			switch fieldErr.Field {
			case "region_id", "university_id":
				code = "ORG_MISSING_REFERENCE"
			case "parent_id":
				return cycleError("ORG_UNIT_CYCLE", err.Error(), err)
			}
		}
		return validationError(code, err.Error(), err)
	}
	return nil
}

func (s *OrgService) checkReferences(ctx context.Context, u orgstructure.Unit) error {
	if s.refs == nil {
		return nil
	}
	if u.RegionID != nil {
		ok, err := s.refs.RegionExists(ctx, *u.RegionID)
		if err != nil {
			return infrastructureError("ORG_REFERENCE_LOOKUP", "region lookup failed", err)
		}
		if !ok {
			return validationError("ORG_UNKNOWN_REGION", "region does not exist", nil)
		}
	}
	if u.UniversityID != nil {
		ok, err := s.refs.UniversityExists(ctx, *u.UniversityID)
		if err != nil {
			return infrastructureError("ORG_REFERENCE_LOOKUP", "university lookup failed", err)
		}
		if !ok {
			return validationError("ORG_UNKNOWN_UNIVERSITY", "university does not exist", nil)
		}
	}
	return nil
}

func applyUnitPatch(u orgstructure.Unit, in UpdateUnitInput) orgstructure.Unit {
	if in.Name != nil {
		u.Name = strings.TrimSpace(*in.Name)
	}
	if in.Scope != nil {
		u.Scope = *in.Scope
	}
	if in.Level != nil {
		u.Level = *in.Level
	}
	if in.ParentID != nil {
		u.ParentID = *in.ParentID
	}
	if in.RegionID != nil {
		u.RegionID = *in.RegionID
	}
	if in.UniversityID != nil {
		u.UniversityID = *in.UniversityID
	}
	if in.Description != nil {
		u.Description = strings.TrimSpace(*in.Description)
	}
	if in.IsActive != nil {
		u.IsActive = *in.IsActive
	}
	return u
}

// isUnitAncestor reports whether candidate is ancestorID or lies below it.
// The walk is bounded by the number of units.
func isUnitAncestor(byID map[uuid.UUID]orgstructure.Unit, ancestorID, candidate uuid.UUID) bool {
	cur := candidate
	for steps := 0; steps <= len(byID); steps++ {
		if cur == ancestorID {
			return true
		}
		u, ok := byID[cur]
		if !ok || u.ParentID == nil {
			return false
		}
		cur = *u.ParentID
	}
	return false
}

// wrapNotFound turns a repository miss into a NotFound error with a specific code.
func wrapNotFound(err error, code, message string) error {
	if errors.Is(err, ErrRecordNotFound) {
		return notFoundError(code, message, err)
	}
	return err
}
