package orgstructure

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultMaxHolders = 1

// Position is a slot within a unit that up to MaxHolders members may hold at once.
type Position struct {
	ID           uuid.UUID     `json:"id" yaml:"id"`
	UnitID       uuid.UUID     `json:"unit_id" yaml:"unit_id"`
	Title        string        `json:"title" yaml:"title"`
	Type         PositionType  `json:"position_type" yaml:"position_type"`
	Level        PositionLevel `json:"position_level" yaml:"position_level"`
	ReportsToID  *uuid.UUID    `json:"reports_to_id" yaml:"reports_to_id"`
	MaxHolders   int           `json:"max_holders" yaml:"max_holders"`
	Description  string        `json:"description,omitempty" yaml:"description,omitempty"`
	Requirements string        `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	IsActive     bool          `json:"is_active" yaml:"is_active"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" yaml:"updated_at"`
}

func (p Position) Validate() error {
	if p.UnitID == uuid.Nil {
		return &FieldError{Field: "unit_id", Reason: "is required"}
	}
	if strings.TrimSpace(p.Title) == "" {
		return &FieldError{Field: "title", Reason: "is required"}
	}
	if !p.Type.Valid() {
		return &FieldError{Field: "position_type", Reason: "must be one of executive, structural, functional, coordinator, staff"}
	}
	if !p.Level.Valid() {
		return &FieldError{Field: "position_level", Reason: "must be one of top, middle, lower"}
	}
	if p.MaxHolders < 1 {
		return &FieldError{Field: "max_holders", Reason: "must be at least 1"}
	}
	return nil
}
