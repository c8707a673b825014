package orgstructure

import (
	"fmt"
	"strings"
)

// InvalidEnumError reports a value outside one of the closed enumerations.
type InvalidEnumError struct {
	Enum  string
	Value string
}

func (e *InvalidEnumError) Error() string {
	return fmt.Sprintf("invalid %s: %q", e.Enum, e.Value)
}

// Scope is the organisational tier a unit belongs to.
type Scope uint8

const (
	ScopeNational Scope = iota + 1
	ScopeRegional
	ScopeCampus
	ScopeDepartment
	ScopeDivision
	ScopeSection
)

var AllScopes = []Scope{ScopeNational, ScopeRegional, ScopeCampus, ScopeDepartment, ScopeDivision, ScopeSection}

func (s Scope) String() string {
	switch s {
	case ScopeNational:
		return "national"
	case ScopeRegional:
		return "regional"
	case ScopeCampus:
		return "campus"
	case ScopeDepartment:
		return "department"
	case ScopeDivision:
		return "division"
	case ScopeSection:
		return "section"
	default:
		return fmt.Sprintf("Scope(%d)", uint8(s))
	}
}

func (s Scope) Valid() bool {
	switch s {
	case ScopeNational, ScopeRegional, ScopeCampus, ScopeDepartment, ScopeDivision, ScopeSection:
		return true
	default:
		return false
	}
}

// RequiresRegion reports whether units of this scope must carry a region reference.
func (s Scope) RequiresRegion() bool {
	switch s {
	case ScopeRegional:
		return true
	case ScopeNational, ScopeCampus, ScopeDepartment, ScopeDivision, ScopeSection:
		return false
	default:
		return false
	}
}

// RequiresUniversity reports whether units of this scope must carry a university reference.
func (s Scope) RequiresUniversity() bool {
	switch s {
	case ScopeCampus:
		return true
	case ScopeNational, ScopeRegional, ScopeDepartment, ScopeDivision, ScopeSection:
		return false
	default:
		return false
	}
}

func ParseScope(v string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "national":
		return ScopeNational, nil
	case "regional":
		return ScopeRegional, nil
	case "campus":
		return ScopeCampus, nil
	case "department":
		return ScopeDepartment, nil
	case "division":
		return ScopeDivision, nil
	case "section":
		return ScopeSection, nil
	default:
		return 0, &InvalidEnumError{Enum: "scope", Value: v}
	}
}

func (s Scope) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, &InvalidEnumError{Enum: "scope", Value: s.String()}
	}
	return []byte(s.String()), nil
}

func (s *Scope) UnmarshalText(b []byte) error {
	v, err := ParseScope(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// PositionType classifies a position.
type PositionType uint8

const (
	PositionTypeExecutive PositionType = iota + 1
	PositionTypeStructural
	PositionTypeFunctional
	PositionTypeCoordinator
	PositionTypeStaff
)

func (t PositionType) String() string {
	switch t {
	case PositionTypeExecutive:
		return "executive"
	case PositionTypeStructural:
		return "structural"
	case PositionTypeFunctional:
		return "functional"
	case PositionTypeCoordinator:
		return "coordinator"
	case PositionTypeStaff:
		return "staff"
	default:
		return fmt.Sprintf("PositionType(%d)", uint8(t))
	}
}

func (t PositionType) Valid() bool {
	switch t {
	case PositionTypeExecutive, PositionTypeStructural, PositionTypeFunctional, PositionTypeCoordinator, PositionTypeStaff:
		return true
	default:
		return false
	}
}

func ParsePositionType(v string) (PositionType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "executive":
		return PositionTypeExecutive, nil
	case "structural":
		return PositionTypeStructural, nil
	case "functional":
		return PositionTypeFunctional, nil
	case "coordinator":
		return PositionTypeCoordinator, nil
	case "staff":
		return PositionTypeStaff, nil
	default:
		return 0, &InvalidEnumError{Enum: "position_type", Value: v}
	}
}

func (t PositionType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, &InvalidEnumError{Enum: "position_type", Value: t.String()}
	}
	return []byte(t.String()), nil
}

func (t *PositionType) UnmarshalText(b []byte) error {
	v, err := ParsePositionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PositionLevel is the seniority band of a position.
type PositionLevel uint8

const (
	PositionLevelTop PositionLevel = iota + 1
	PositionLevelMiddle
	PositionLevelLower
)

func (l PositionLevel) String() string {
	switch l {
	case PositionLevelTop:
		return "top"
	case PositionLevelMiddle:
		return "middle"
	case PositionLevelLower:
		return "lower"
	default:
		return fmt.Sprintf("PositionLevel(%d)", uint8(l))
	}
}

func (l PositionLevel) Valid() bool {
	switch l {
	case PositionLevelTop, PositionLevelMiddle, PositionLevelLower:
		return true
	default:
		return false
	}
}

func ParsePositionLevel(v string) (PositionLevel, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "top":
		return PositionLevelTop, nil
	case "middle":
		return PositionLevelMiddle, nil
	case "lower":
		return PositionLevelLower, nil
	default:
		return 0, &InvalidEnumError{Enum: "position_level", Value: v}
	}
}

func (l PositionLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, &InvalidEnumError{Enum: "position_level", Value: l.String()}
	}
	return []byte(l.String()), nil
}

func (l *PositionLevel) UnmarshalText(b []byte) error {
	v, err := ParsePositionLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// AssignmentType describes the tenure of an assignment.
type AssignmentType uint8

const (
	AssignmentTypePermanent AssignmentType = iota + 1
	AssignmentTypeTemporary
	AssignmentTypeActing
)

func (t AssignmentType) String() string {
	switch t {
	case AssignmentTypePermanent:
		return "permanent"
	case AssignmentTypeTemporary:
		return "temporary"
	case AssignmentTypeActing:
		return "acting"
	default:
		return fmt.Sprintf("AssignmentType(%d)", uint8(t))
	}
}

func (t AssignmentType) Valid() bool {
	switch t {
	case AssignmentTypePermanent, AssignmentTypeTemporary, AssignmentTypeActing:
		return true
	default:
		return false
	}
}

func ParseAssignmentType(v string) (AssignmentType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "permanent":
		return AssignmentTypePermanent, nil
	case "temporary":
		return AssignmentTypeTemporary, nil
	case "acting":
		return AssignmentTypeActing, nil
	default:
		return 0, &InvalidEnumError{Enum: "assignment_type", Value: v}
	}
}

func (t AssignmentType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, &InvalidEnumError{Enum: "assignment_type", Value: t.String()}
	}
	return []byte(t.String()), nil
}

func (t *AssignmentType) UnmarshalText(b []byte) error {
	v, err := ParseAssignmentType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
