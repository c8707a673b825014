package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/constants"
)

// optional distinguishes an absent JSON field from an explicit null.
type optional[T any] struct {
	Set   bool
	Value *T
}

func (o *optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (o optional[T]) patch() **T {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

type createUnitRequest struct {
	Name         string     `json:"name" validate:"required,max=200"`
	Scope        string     `json:"scope" validate:"required,oneof=national regional campus department division section"`
	Level        int        `json:"level" validate:"required,min=1"`
	ParentID     *uuid.UUID `json:"parent_id"`
	RegionID     *int64     `json:"region_id"`
	UniversityID *int64     `json:"university_id"`
	Description  string     `json:"description"`
	IsActive     *bool      `json:"is_active"`
}

func (d *createUnitRequest) Ok() error {
	d.Name = strings.TrimSpace(d.Name)
	d.Scope = strings.ToLower(strings.TrimSpace(d.Scope))
	return validateStruct(d)
}

func (d *createUnitRequest) input() (services.CreateUnitInput, error) {
	scope, err := orgstructure.ParseScope(d.Scope)
	if err != nil {
		return services.CreateUnitInput{}, err
	}
	return services.CreateUnitInput{
		Name:         d.Name,
		Scope:        scope,
		Level:        d.Level,
		ParentID:     d.ParentID,
		RegionID:     d.RegionID,
		UniversityID: d.UniversityID,
		Description:  d.Description,
		IsActive:     d.IsActive,
	}, nil
}

type updateUnitRequest struct {
	Name         *string             `json:"name" validate:"omitnil,min=1,max=200"`
	Scope        *string             `json:"scope" validate:"omitnil,oneof=national regional campus department division section"`
	Level        *int                `json:"level" validate:"omitnil,min=1"`
	ParentID     optional[uuid.UUID] `json:"parent_id"`
	RegionID     optional[int64]     `json:"region_id"`
	UniversityID optional[int64]     `json:"university_id"`
	Description  *string             `json:"description"`
	IsActive     *bool               `json:"is_active"`
}

func (d *updateUnitRequest) Ok() error {
	if d.Scope != nil {
		s := strings.ToLower(strings.TrimSpace(*d.Scope))
		d.Scope = &s
	}
	return validateStruct(d)
}

func (d *updateUnitRequest) input() (services.UpdateUnitInput, error) {
	in := services.UpdateUnitInput{
		Name:         d.Name,
		Level:        d.Level,
		ParentID:     d.ParentID.patch(),
		RegionID:     d.RegionID.patch(),
		UniversityID: d.UniversityID.patch(),
		Description:  d.Description,
		IsActive:     d.IsActive,
	}
	if d.Scope != nil {
		scope, err := orgstructure.ParseScope(*d.Scope)
		if err != nil {
			return services.UpdateUnitInput{}, err
		}
		in.Scope = &scope
	}
	return in, nil
}

type createPositionRequest struct {
	UnitID       uuid.UUID  `json:"unit_id" validate:"required"`
	Title        string     `json:"title" validate:"required,max=200"`
	Type         string     `json:"position_type" validate:"required,oneof=executive structural functional coordinator staff"`
	Level        string     `json:"position_level" validate:"required,oneof=top middle lower"`
	ReportsToID  *uuid.UUID `json:"reports_to_id"`
	MaxHolders   *int       `json:"max_holders" validate:"omitnil,min=1"`
	Description  string     `json:"description"`
	Requirements string     `json:"requirements"`
	IsActive     *bool      `json:"is_active"`
}

func (d *createPositionRequest) Ok() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	d.Level = strings.ToLower(strings.TrimSpace(d.Level))
	return validateStruct(d)
}

func (d *createPositionRequest) input() (services.CreatePositionInput, error) {
	typ, err := orgstructure.ParsePositionType(d.Type)
	if err != nil {
		return services.CreatePositionInput{}, err
	}
	level, err := orgstructure.ParsePositionLevel(d.Level)
	if err != nil {
		return services.CreatePositionInput{}, err
	}
	in := services.CreatePositionInput{
		UnitID:       d.UnitID,
		Title:        d.Title,
		Type:         typ,
		Level:        level,
		ReportsToID:  d.ReportsToID,
		Description:  d.Description,
		Requirements: d.Requirements,
		IsActive:     d.IsActive,
	}
	if d.MaxHolders != nil {
		in.MaxHolders = *d.MaxHolders
	}
	return in, nil
}

type updatePositionRequest struct {
	UnitID       *uuid.UUID          `json:"unit_id"`
	Title        *string             `json:"title" validate:"omitnil,min=1,max=200"`
	Type         *string             `json:"position_type" validate:"omitnil,oneof=executive structural functional coordinator staff"`
	Level        *string             `json:"position_level" validate:"omitnil,oneof=top middle lower"`
	ReportsToID  optional[uuid.UUID] `json:"reports_to_id"`
	MaxHolders   *int                `json:"max_holders" validate:"omitnil,min=1"`
	Description  *string             `json:"description"`
	Requirements *string             `json:"requirements"`
	IsActive     *bool               `json:"is_active"`
}

func (d *updatePositionRequest) Ok() error {
	return validateStruct(d)
}

func (d *updatePositionRequest) input() (services.UpdatePositionInput, error) {
	in := services.UpdatePositionInput{
		UnitID:       d.UnitID,
		Title:        d.Title,
		ReportsToID:  d.ReportsToID.patch(),
		MaxHolders:   d.MaxHolders,
		Description:  d.Description,
		Requirements: d.Requirements,
		IsActive:     d.IsActive,
	}
	if d.Type != nil {
		typ, err := orgstructure.ParsePositionType(*d.Type)
		if err != nil {
			return services.UpdatePositionInput{}, err
		}
		in.Type = &typ
	}
	if d.Level != nil {
		level, err := orgstructure.ParsePositionLevel(*d.Level)
		if err != nil {
			return services.UpdatePositionInput{}, err
		}
		in.Level = &level
	}
	return in, nil
}

type startAssignmentRequest struct {
	PositionID   uuid.UUID `json:"position_id" validate:"required"`
	MemberID     int64     `json:"member_id" validate:"required,gt=0"`
	StartDate    string    `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      *string   `json:"end_date" validate:"omitnil,datetime=2006-01-02"`
	Type         string    `json:"assignment_type" validate:"omitempty,oneof=permanent temporary acting"`
	LetterNumber *string   `json:"letter_number" validate:"omitnil,max=100"`
	LetterDate   *string   `json:"letter_date" validate:"omitnil,datetime=2006-01-02"`
	Notes        string    `json:"notes"`
}

func (d *startAssignmentRequest) Ok() error {
	d.Type = strings.ToLower(strings.TrimSpace(d.Type))
	return validateStruct(d)
}

func (d *startAssignmentRequest) input() (services.StartAssignmentInput, error) {
	start, err := parseDay(d.StartDate)
	if err != nil {
		return services.StartAssignmentInput{}, err
	}
	end, err := parseOptionalDay(d.EndDate)
	if err != nil {
		return services.StartAssignmentInput{}, err
	}
	letterDate, err := parseOptionalDay(d.LetterDate)
	if err != nil {
		return services.StartAssignmentInput{}, err
	}
	in := services.StartAssignmentInput{
		PositionID:   d.PositionID,
		MemberID:     d.MemberID,
		StartDate:    start,
		EndDate:      end,
		LetterNumber: d.LetterNumber,
		LetterDate:   letterDate,
		Notes:        d.Notes,
	}
	if d.Type != "" {
		typ, err := orgstructure.ParseAssignmentType(d.Type)
		if err != nil {
			return services.StartAssignmentInput{}, err
		}
		in.Type = typ
	}
	return in, nil
}

type endAssignmentRequest struct {
	EndDate string  `json:"end_date" validate:"required,datetime=2006-01-02"`
	Reason  *string `json:"reason" validate:"omitnil,max=500"`
}

func (d *endAssignmentRequest) Ok() error {
	return validateStruct(d)
}

// treeQuery is the query string of the tree and unit listing endpoints.
type treeQuery struct {
	Scope        string `form:"scope"`
	RegionID     *int64 `form:"region_id"`
	UniversityID *int64 `form:"university_id"`
	ActiveOnly   bool   `form:"active_only"`
	Query        string `form:"q"`
	AsOf         string `form:"as_of"`
}

func (q treeQuery) filter() (services.TreeFilter, error) {
	f := services.TreeFilter{
		RegionID:     q.RegionID,
		UniversityID: q.UniversityID,
		ActiveOnly:   q.ActiveOnly,
		Query:        strings.TrimSpace(q.Query),
	}
	if s := strings.TrimSpace(q.Scope); s != "" {
		scope, err := orgstructure.ParseScope(s)
		if err != nil {
			return services.TreeFilter{}, err
		}
		f.Scope = &scope
	}
	asOf, err := parseAsOf(q.AsOf)
	if err != nil {
		return services.TreeFilter{}, fmt.Errorf("as_of: %w", err)
	}
	f.AsOf = asOf
	return f, nil
}

func validateStruct(v any) error {
	err := constants.Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%s failed %q validation", jsonFieldName(fe.Field()), fe.Tag())
	}
	return err
}

// jsonFieldName turns a Go field name like UniversityID into university_id.
func jsonFieldName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseDay(v string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalDay(v *string) (*time.Time, error) {
	if v == nil {
		return nil, nil
	}
	t, err := parseDay(*v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseAsOf accepts a date or an RFC 3339 timestamp; empty means today.
func parseAsOf(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
