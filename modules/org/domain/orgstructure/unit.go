package orgstructure

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Unit is a node in the organisation tree.
type Unit struct {
	ID           uuid.UUID  `json:"id" yaml:"id"`
	Name         string     `json:"name" yaml:"name"`
	Scope        Scope      `json:"scope" yaml:"scope"`
	Level        int        `json:"level" yaml:"level"`
	ParentID     *uuid.UUID `json:"parent_id" yaml:"parent_id"`
	RegionID     *int64     `json:"region_id,omitempty" yaml:"region_id,omitempty"`
	UniversityID *int64     `json:"university_id,omitempty" yaml:"university_id,omitempty"`
	Description  string     `json:"description,omitempty" yaml:"description,omitempty"`
	IsActive     bool       `json:"is_active" yaml:"is_active"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

func (u Unit) IsRoot() bool {
	return u.ParentID == nil
}

// Validate checks the unit's own fields. Parent relations are checked by the caller.
func (u Unit) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return &FieldError{Field: "name", Reason: "is required"}
	}
	if !u.Scope.Valid() {
		return &FieldError{Field: "scope", Reason: "must be one of national, regional, campus, department, division, section"}
	}
	if u.Level < 1 {
		return &FieldError{Field: "level", Reason: "must be a positive integer"}
	}
	if u.ParentID != nil && *u.ParentID == u.ID {
		return &FieldError{Field: "parent_id", Reason: "must reference a different unit"}
	}
	if u.Scope.RequiresRegion() && u.RegionID == nil {
		return &FieldError{Field: "region_id", Reason: "is required for regional units"}
	}
	if u.Scope.RequiresUniversity() && u.UniversityID == nil {
		return &FieldError{Field: "university_id", Reason: "is required for campus units"}
	}
	return nil
}

// ValidateUnder checks the level ordering between u and its parent.
func (u Unit) ValidateUnder(parent Unit) error {
	if u.Level <= parent.Level {
		return &FieldError{Field: "level", Reason: "must be greater than the parent's level"}
	}
	return nil
}
