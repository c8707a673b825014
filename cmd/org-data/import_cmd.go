package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/services"
)

type importOptions struct {
	input  string
	dryRun bool
}

func newImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create units, positions and assignments from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := readImportFile(opts.input)
			if err != nil {
				return err
			}
			plan, err := planImport(file)
			if err != nil {
				return err
			}

			ctx, rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			summary, err := applyImport(ctx, orgService(rt), plan, opts.dryRun)
			if err != nil {
				return err
			}
			return writeJSONLine(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "YAML file to import (required)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Validate against the store and roll back")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// importFile is the YAML document accepted by import. Records reference each
// other by key; a reference that parses as a UUID points at an existing row.
type importFile struct {
	Units       []unitRecord       `yaml:"units"`
	Positions   []positionRecord   `yaml:"positions"`
	Assignments []assignmentRecord `yaml:"assignments"`
}

type unitRecord struct {
	Key          string `yaml:"key"`
	Parent       string `yaml:"parent"`
	Name         string `yaml:"name"`
	Scope        string `yaml:"scope"`
	Level        int    `yaml:"level"`
	RegionID     *int64 `yaml:"region_id"`
	UniversityID *int64 `yaml:"university_id"`
	Description  string `yaml:"description"`
	Active       *bool  `yaml:"active"`
}

type positionRecord struct {
	Key          string `yaml:"key"`
	Unit         string `yaml:"unit"`
	Title        string `yaml:"title"`
	Type         string `yaml:"type"`
	Level        string `yaml:"level"`
	ReportsTo    string `yaml:"reports_to"`
	MaxHolders   int    `yaml:"max_holders"`
	Description  string `yaml:"description"`
	Requirements string `yaml:"requirements"`
	Active       *bool  `yaml:"active"`
}

type assignmentRecord struct {
	Position     string `yaml:"position"`
	MemberID     int64  `yaml:"member_id"`
	StartDate    string `yaml:"start_date"`
	EndDate      string `yaml:"end_date"`
	Type         string `yaml:"type"`
	LetterNumber string `yaml:"letter_number"`
	LetterDate   string `yaml:"letter_date"`
	Notes        string `yaml:"notes"`
}

func readImportFile(path string) (importFile, error) {
	if strings.TrimSpace(path) == "" {
		return importFile{}, withCode(exitUsage, errors.New("--input is required"))
	}
	f, err := os.Open(path)
	if err != nil {
		return importFile{}, withCode(exitUsage, fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()
	return decodeImportFile(f)
}

func decodeImportFile(r io.Reader) (importFile, error) {
	var out importFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
		return importFile{}, withCode(exitValidation, fmt.Errorf("decode yaml: %w", err))
	}
	return out, nil
}

// ref is either a key of a record in the same file or the id of an existing row.
type ref struct {
	key string
	id  uuid.UUID
}

func (r ref) set() bool { return r.key != "" || r.id != uuid.Nil }

func parseRef(v string) ref {
	v = strings.TrimSpace(v)
	if id, err := uuid.Parse(v); err == nil {
		return ref{id: id}
	}
	return ref{key: v}
}

type plannedUnit struct {
	key    string
	parent ref
	input  services.CreateUnitInput
}

type plannedPosition struct {
	key       string
	unit      ref
	reportsTo ref
	input     services.CreatePositionInput
}

type plannedAssignment struct {
	index    int
	position ref
	input    services.StartAssignmentInput
}

// importPlan holds the records in creation order.
type importPlan struct {
	units       []plannedUnit
	positions   []plannedPosition
	assignments []plannedAssignment
}

type planError struct {
	problems []string
}

func (e *planError) Error() string {
	return fmt.Sprintf("import file has %d problem(s):\n  %s", len(e.problems), strings.Join(e.problems, "\n  "))
}

// planImport checks the file without touching the store and orders it so
// parents and superiors are created before the records that point at them.
func planImport(file importFile) (*importPlan, error) {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	plan := &importPlan{}
	unitKeys := make(map[string]bool, len(file.Units))
	units := make([]plannedUnit, 0, len(file.Units))
	for i, u := range file.Units {
		key := strings.TrimSpace(u.Key)
		switch {
		case key == "":
			addf("units[%d]: key is required", i)
			continue
		case unitKeys[key]:
			addf("units[%d]: duplicate key %q", i, key)
			continue
		}
		unitKeys[key] = true
		scope, err := orgstructure.ParseScope(u.Scope)
		if err != nil {
			addf("units[%d] %s: %v", i, key, err)
			continue
		}
		units = append(units, plannedUnit{
			key:    key,
			parent: parseRef(u.Parent),
			input: services.CreateUnitInput{
				Name:         u.Name,
				Scope:        scope,
				Level:        u.Level,
				RegionID:     u.RegionID,
				UniversityID: u.UniversityID,
				Description:  u.Description,
				IsActive:     u.Active,
			},
		})
	}
	for _, u := range units {
		if u.parent.key != "" && !unitKeys[u.parent.key] {
			addf("unit %s: unknown parent %q", u.key, u.parent.key)
		}
	}

	posKeys := make(map[string]bool, len(file.Positions))
	positions := make([]plannedPosition, 0, len(file.Positions))
	for i, p := range file.Positions {
		key := strings.TrimSpace(p.Key)
		switch {
		case key == "":
			addf("positions[%d]: key is required", i)
			continue
		case posKeys[key]:
			addf("positions[%d]: duplicate key %q", i, key)
			continue
		}
		posKeys[key] = true
		typ, err := orgstructure.ParsePositionType(p.Type)
		if err != nil {
			addf("positions[%d] %s: %v", i, key, err)
			continue
		}
		level, err := orgstructure.ParsePositionLevel(p.Level)
		if err != nil {
			addf("positions[%d] %s: %v", i, key, err)
			continue
		}
		unit := parseRef(p.Unit)
		if !unit.set() {
			addf("positions[%d] %s: unit is required", i, key)
			continue
		}
		positions = append(positions, plannedPosition{
			key:       key,
			unit:      unit,
			reportsTo: parseRef(p.ReportsTo),
			input: services.CreatePositionInput{
				Title:        p.Title,
				Type:         typ,
				Level:        level,
				MaxHolders:   p.MaxHolders,
				Description:  p.Description,
				Requirements: p.Requirements,
				IsActive:     p.Active,
			},
		})
	}
	for _, p := range positions {
		if p.unit.key != "" && !unitKeys[p.unit.key] {
			addf("position %s: unknown unit %q", p.key, p.unit.key)
		}
		if p.reportsTo.key != "" && !posKeys[p.reportsTo.key] {
			addf("position %s: unknown reports_to %q", p.key, p.reportsTo.key)
		}
	}

	for i, a := range file.Assignments {
		pos := parseRef(a.Position)
		if !pos.set() {
			addf("assignments[%d]: position is required", i)
			continue
		}
		if pos.key != "" && !posKeys[pos.key] {
			addf("assignments[%d]: unknown position %q", i, pos.key)
			continue
		}
		in, err := assignmentInput(a)
		if err != nil {
			addf("assignments[%d]: %v", i, err)
			continue
		}
		plan.assignments = append(plan.assignments, plannedAssignment{index: i, position: pos, input: in})
	}

	if len(problems) > 0 {
		return nil, withCode(exitValidation, &planError{problems: problems})
	}

	var err error
	if plan.units, err = orderByDependency(units, func(u plannedUnit) (string, string) { return u.key, u.parent.key }); err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("units: %w", err))
	}
	if plan.positions, err = orderByDependency(positions, func(p plannedPosition) (string, string) { return p.key, p.reportsTo.key }); err != nil {
		return nil, withCode(exitValidation, fmt.Errorf("positions: %w", err))
	}
	return plan, nil
}

func assignmentInput(a assignmentRecord) (services.StartAssignmentInput, error) {
	start, err := parseDate(a.StartDate)
	if err != nil {
		return services.StartAssignmentInput{}, fmt.Errorf("start_date: %w", err)
	}
	in := services.StartAssignmentInput{
		MemberID:  a.MemberID,
		StartDate: start,
		Notes:     a.Notes,
	}
	if strings.TrimSpace(a.EndDate) != "" {
		end, err := parseDate(a.EndDate)
		if err != nil {
			return services.StartAssignmentInput{}, fmt.Errorf("end_date: %w", err)
		}
		in.EndDate = &end
	}
	if strings.TrimSpace(a.LetterDate) != "" {
		d, err := parseDate(a.LetterDate)
		if err != nil {
			return services.StartAssignmentInput{}, fmt.Errorf("letter_date: %w", err)
		}
		in.LetterDate = &d
	}
	if n := strings.TrimSpace(a.LetterNumber); n != "" {
		in.LetterNumber = &n
	}
	if strings.TrimSpace(a.Type) != "" {
		typ, err := orgstructure.ParseAssignmentType(a.Type)
		if err != nil {
			return services.StartAssignmentInput{}, err
		}
		in.Type = typ
	}
	return in, nil
}

func parseDate(v string) (time.Time, error) {
	return time.Parse(time.DateOnly, strings.TrimSpace(v))
}

// orderByDependency returns items so that each comes after the item its
// dependency key names. Dependencies outside the set are ignored.
func orderByDependency[T any](items []T, keys func(T) (key, dep string)) ([]T, error) {
	inSet := make(map[string]bool, len(items))
	for _, it := range items {
		k, _ := keys(it)
		inSet[k] = true
	}

	out := make([]T, 0, len(items))
	placed := make(map[string]bool, len(items))
	pending := items
	for len(pending) > 0 {
		next := pending[:0:0]
		for _, it := range pending {
			k, dep := keys(it)
			if dep == "" || !inSet[dep] || placed[dep] {
				out = append(out, it)
				placed[k] = true
				continue
			}
			next = append(next, it)
		}
		if len(next) == len(pending) {
			stuck := make([]string, 0, len(next))
			for _, it := range next {
				k, _ := keys(it)
				stuck = append(stuck, k)
			}
			return nil, fmt.Errorf("dependency cycle among %s", strings.Join(stuck, ", "))
		}
		pending = next
	}
	return out, nil
}

type importSummary struct {
	DryRun      bool `json:"dry_run"`
	Units       int  `json:"units"`
	Positions   int  `json:"positions"`
	Assignments int  `json:"assignments"`
}

// applyImport creates the plan through the org service in one transaction,
// so every invariant applies and a failure leaves the store untouched.
func applyImport(ctx context.Context, svc *services.OrgService, plan *importPlan, dryRun bool) (importSummary, error) {
	summary := importSummary{DryRun: dryRun}
	err := svc.Batch(ctx, dryRun, func(txCtx context.Context) error {
		summary = importSummary{DryRun: dryRun}
		unitIDs := make(map[string]uuid.UUID, len(plan.units))
		posIDs := make(map[string]uuid.UUID, len(plan.positions))
		resolve := func(r ref, ids map[string]uuid.UUID) *uuid.UUID {
			if !r.set() {
				return nil
			}
			if r.key == "" {
				id := r.id
				return &id
			}
			id := ids[r.key]
			return &id
		}

		for _, u := range plan.units {
			in := u.input
			in.ParentID = resolve(u.parent, unitIDs)
			created, err := svc.CreateUnit(txCtx, in)
			if err != nil {
				return fmt.Errorf("unit %s: %w", u.key, err)
			}
			unitIDs[u.key] = created.ID
			summary.Units++
		}
		for _, p := range plan.positions {
			in := p.input
			in.UnitID = *resolve(p.unit, unitIDs)
			in.ReportsToID = resolve(p.reportsTo, posIDs)
			created, err := svc.CreatePosition(txCtx, in)
			if err != nil {
				return fmt.Errorf("position %s: %w", p.key, err)
			}
			posIDs[p.key] = created.ID
			summary.Positions++
		}
		for _, a := range plan.assignments {
			in := a.input
			in.PositionID = *resolve(a.position, posIDs)
			if _, err := svc.StartAssignment(txCtx, in); err != nil {
				return fmt.Errorf("assignments[%d]: %w", a.index, err)
			}
			summary.Assignments++
		}
		return nil
	})
	if err != nil {
		return importSummary{}, withServiceCode(err)
	}
	return summary, nil
}
