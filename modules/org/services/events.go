package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/pkg/composables"
)

const (
	EventUnitCreated       = "org.unit.created"
	EventUnitUpdated       = "org.unit.updated"
	EventUnitDeleted       = "org.unit.deleted"
	EventPositionCreated   = "org.position.created"
	EventPositionUpdated   = "org.position.updated"
	EventPositionDeleted   = "org.position.deleted"
	EventAssignmentStarted = "org.assignment.started"
	EventAssignmentEnded   = "org.assignment.ended"
)

// EventMeta is carried by every org event.
type EventMeta struct {
	RequestID  string    `json:"request_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (s *OrgService) eventMeta(ctx context.Context) EventMeta {
	return EventMeta{RequestID: composables.UseRequestID(ctx), OccurredAt: s.now().UTC()}
}

type UnitCreated struct {
	EventMeta
	Unit orgstructure.Unit `json:"unit"`
}

func (UnitCreated) EventName() string { return EventUnitCreated }

type UnitUpdated struct {
	EventMeta
	Before orgstructure.Unit `json:"before"`
	After  orgstructure.Unit `json:"after"`
	// Patch is the RFC 6902 patch turning Before into After.
	Patch jsondiff.Patch `json:"patch"`
}

func (UnitUpdated) EventName() string { return EventUnitUpdated }

type UnitDeleted struct {
	EventMeta
	UnitID uuid.UUID `json:"unit_id"`
}

func (UnitDeleted) EventName() string { return EventUnitDeleted }

type PositionCreated struct {
	EventMeta
	Position orgstructure.Position `json:"position"`
}

func (PositionCreated) EventName() string { return EventPositionCreated }

type PositionUpdated struct {
	EventMeta
	Before orgstructure.Position `json:"before"`
	After  orgstructure.Position `json:"after"`
	Patch  jsondiff.Patch        `json:"patch"`
}

func (PositionUpdated) EventName() string { return EventPositionUpdated }

type PositionDeleted struct {
	EventMeta
	PositionID uuid.UUID `json:"position_id"`
	UnitID     uuid.UUID `json:"unit_id"`
}

func (PositionDeleted) EventName() string { return EventPositionDeleted }

type AssignmentStarted struct {
	EventMeta
	Assignment orgstructure.Assignment `json:"assignment"`
}

func (AssignmentStarted) EventName() string { return EventAssignmentStarted }

type AssignmentEnded struct {
	EventMeta
	Assignment orgstructure.Assignment `json:"assignment"`
}

func (AssignmentEnded) EventName() string { return EventAssignmentEnded }

// diffPatch returns the JSON patch between two values. A diff failure only
// loses the patch, never the event.
func diffPatch(before, after any) jsondiff.Patch {
	patch, err := jsondiff.Compare(before, after, jsondiff.Ignores("/updated_at"))
	if err != nil {
		return nil
	}
	return patch
}
