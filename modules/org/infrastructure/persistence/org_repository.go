package persistence

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/composables"
)

// OrgRepository is the Postgres implementation of services.OrgRepository.
// It is stateless; every call runs on the transaction (or pool) bound to ctx.
type OrgRepository struct{}

func NewOrgRepository() *OrgRepository {
	return &OrgRepository{}
}

var _ services.OrgRepository = (*OrgRepository)(nil)

func (r *OrgRepository) RunInTx(ctx context.Context, mode services.TxMode, fn func(txCtx context.Context) error) error {
	switch mode {
	case services.TxSnapshot:
		return composables.InSnapshotTx(ctx, fn)
	case services.TxReadWrite:
		return composables.InTx(ctx, fn)
	default:
		return composables.InTx(ctx, fn)
	}
}

// Advisory lock keys, one per hierarchy.
var hierarchyLockKeys = map[services.Hierarchy]int64{
	services.HierarchyUnits:     0x6f7267_0001,
	services.HierarchyReporting: 0x6f7267_0002,
}

// LockHierarchy takes a transaction-scoped advisory lock. Row locks alone do
// not stop two writers from each closing half of a cycle.
func (r *OrgRepository) LockHierarchy(ctx context.Context, h services.Hierarchy) error {
	key, ok := hierarchyLockKeys[h]
	if !ok {
		return gerrors.Errorf("lock hierarchy: unknown hierarchy %d", h)
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, key); err != nil {
		return gerrors.Wrap(err, "lock hierarchy")
	}
	return nil
}

const unitColumns = `id, name, scope, level, parent_id, region_id, university_id, description, is_active, created_at, updated_at`

func scanUnit(row pgx.Row) (orgstructure.Unit, error) {
	var (
		u        orgstructure.Unit
		scope    string
		parent   pgtype.UUID
		region   pgtype.Int8
		univ     pgtype.Int8
		created  time.Time
		updated  time.Time
		parseErr error
	)
	if err := row.Scan(&u.ID, &u.Name, &scope, &u.Level, &parent, &region, &univ, &u.Description, &u.IsActive, &created, &updated); err != nil {
		return orgstructure.Unit{}, err
	}
	if u.Scope, parseErr = orgstructure.ParseScope(scope); parseErr != nil {
		return orgstructure.Unit{}, gerrors.Wrap(parseErr, "scan unit")
	}
	u.ParentID = uuidPtr(parent)
	u.RegionID = int64Ptr(region)
	u.UniversityID = int64Ptr(univ)
	u.CreatedAt = created.UTC()
	u.UpdatedAt = updated.UTC()
	return u, nil
}

func (r *OrgRepository) InsertUnit(ctx context.Context, u orgstructure.Unit) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_units (`+unitColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`, u.ID, u.Name, u.Scope.String(), u.Level, pgUUIDPtr(u.ParentID), pgInt8Ptr(u.RegionID), pgInt8Ptr(u.UniversityID),
		u.Description, u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return gerrors.Wrap(err, "insert unit")
	}
	return nil
}

func (r *OrgRepository) UpdateUnit(ctx context.Context, u orgstructure.Unit) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_units
SET name = $2, scope = $3, level = $4, parent_id = $5, region_id = $6, university_id = $7,
	description = $8, is_active = $9, updated_at = $10
WHERE id = $1
`, u.ID, u.Name, u.Scope.String(), u.Level, pgUUIDPtr(u.ParentID), pgInt8Ptr(u.RegionID), pgInt8Ptr(u.UniversityID),
		u.Description, u.IsActive, u.UpdatedAt)
	if err != nil {
		return gerrors.Wrap(err, "update unit")
	}
	if tag.RowsAffected() == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

func (r *OrgRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM org_units WHERE id = $1`, id)
	if err != nil {
		return gerrors.Wrap(err, "delete unit")
	}
	if tag.RowsAffected() == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

func (r *OrgRepository) GetUnit(ctx context.Context, id uuid.UUID) (orgstructure.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return orgstructure.Unit{}, err
	}
	u, err := scanUnit(tx.QueryRow(ctx, `SELECT `+unitColumns+` FROM org_units WHERE id = $1`, id))
	if err != nil {
		return orgstructure.Unit{}, notFoundOr(err, "get unit")
	}
	return u, nil
}

func (r *OrgRepository) ListUnits(ctx context.Context) ([]orgstructure.Unit, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+unitColumns+` FROM org_units ORDER BY level ASC, name ASC, id ASC`)
	if err != nil {
		return nil, gerrors.Wrap(err, "list units")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orgstructure.Unit, error) {
		return scanUnit(row)
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "list units")
	}
	return out, nil
}

func (r *OrgRepository) CountUnitDependents(ctx context.Context, id uuid.UUID) (services.UnitDependents, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.UnitDependents{}, err
	}
	var deps services.UnitDependents
	err = tx.QueryRow(ctx, `
SELECT
	(SELECT count(*) FROM org_units WHERE parent_id = $1),
	(SELECT count(*) FROM org_positions WHERE unit_id = $1)
`, id).Scan(&deps.Children, &deps.Positions)
	if err != nil {
		return services.UnitDependents{}, gerrors.Wrap(err, "count unit dependents")
	}
	return deps, nil
}

const positionColumns = `id, unit_id, title, position_type, position_level, reports_to_id, max_holders, description, requirements, is_active, created_at, updated_at`

func scanPosition(row pgx.Row) (orgstructure.Position, error) {
	var (
		p         orgstructure.Position
		typ, lvl  string
		reportsTo pgtype.UUID
		created   time.Time
		updated   time.Time
		err       error
	)
	if err := row.Scan(&p.ID, &p.UnitID, &p.Title, &typ, &lvl, &reportsTo, &p.MaxHolders, &p.Description, &p.Requirements, &p.IsActive, &created, &updated); err != nil {
		return orgstructure.Position{}, err
	}
	if p.Type, err = orgstructure.ParsePositionType(typ); err != nil {
		return orgstructure.Position{}, gerrors.Wrap(err, "scan position")
	}
	if p.Level, err = orgstructure.ParsePositionLevel(lvl); err != nil {
		return orgstructure.Position{}, gerrors.Wrap(err, "scan position")
	}
	p.ReportsToID = uuidPtr(reportsTo)
	p.CreatedAt = created.UTC()
	p.UpdatedAt = updated.UTC()
	return p, nil
}

func (r *OrgRepository) InsertPosition(ctx context.Context, p orgstructure.Position) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_positions (`+positionColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, p.ID, p.UnitID, p.Title, p.Type.String(), p.Level.String(), pgUUIDPtr(p.ReportsToID), p.MaxHolders,
		p.Description, p.Requirements, p.IsActive, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return gerrors.Wrap(err, "insert position")
	}
	return nil
}

func (r *OrgRepository) UpdatePosition(ctx context.Context, p orgstructure.Position) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_positions
SET unit_id = $2, title = $3, position_type = $4, position_level = $5, reports_to_id = $6,
	max_holders = $7, description = $8, requirements = $9, is_active = $10, updated_at = $11
WHERE id = $1
`, p.ID, p.UnitID, p.Title, p.Type.String(), p.Level.String(), pgUUIDPtr(p.ReportsToID), p.MaxHolders,
		p.Description, p.Requirements, p.IsActive, p.UpdatedAt)
	if err != nil {
		return gerrors.Wrap(err, "update position")
	}
	if tag.RowsAffected() == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

// DeletePosition removes the position; its assignments go with it (ON DELETE CASCADE).
func (r *OrgRepository) DeletePosition(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `DELETE FROM org_positions WHERE id = $1`, id)
	if err != nil {
		return gerrors.Wrap(err, "delete position")
	}
	if tag.RowsAffected() == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

func (r *OrgRepository) GetPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error) {
	return r.getPosition(ctx, id, false)
}

func (r *OrgRepository) LockPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error) {
	return r.getPosition(ctx, id, true)
}

func (r *OrgRepository) getPosition(ctx context.Context, id uuid.UUID, forUpdate bool) (orgstructure.Position, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return orgstructure.Position{}, err
	}
	q := `SELECT ` + positionColumns + ` FROM org_positions WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	p, err := scanPosition(tx.QueryRow(ctx, q, id))
	if err != nil {
		return orgstructure.Position{}, notFoundOr(err, "get position")
	}
	return p, nil
}

func (r *OrgRepository) ListPositions(ctx context.Context, filter services.PositionFilter) ([]orgstructure.Position, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	q := `SELECT ` + positionColumns + ` FROM org_positions`
	args := []any{}
	if filter.UnitID != nil {
		q += ` WHERE unit_id = $1`
		args = append(args, *filter.UnitID)
	}
	q += ` ORDER BY title ASC, id ASC`
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "list positions")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orgstructure.Position, error) {
		return scanPosition(row)
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "list positions")
	}
	return out, nil
}

func (r *OrgRepository) ListReportingLinks(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT id, reports_to_id FROM org_positions WHERE reports_to_id IS NOT NULL`)
	if err != nil {
		return nil, gerrors.Wrap(err, "list reporting links")
	}
	defer rows.Close()

	out := make(map[uuid.UUID]uuid.UUID)
	for rows.Next() {
		var id, sup uuid.UUID
		if err := rows.Scan(&id, &sup); err != nil {
			return nil, gerrors.Wrap(err, "list reporting links")
		}
		out[id] = sup
	}
	if err := rows.Err(); err != nil {
		return nil, gerrors.Wrap(err, "list reporting links")
	}
	return out, nil
}

func (r *OrgRepository) CountSubordinates(ctx context.Context, id uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM org_positions WHERE reports_to_id = $1`, id).Scan(&n); err != nil {
		return 0, gerrors.Wrap(err, "count subordinates")
	}
	return n, nil
}

const assignmentColumns = `id, position_id, member_id, start_date, end_date, assignment_type, letter_number, letter_date, notes, end_reason, ended_at, created_at`

func scanAssignment(row pgx.Row) (orgstructure.Assignment, error) {
	var (
		a          orgstructure.Assignment
		start      pgtype.Date
		end        pgtype.Date
		typ        string
		letterNo   pgtype.Text
		letterDate pgtype.Date
		endReason  pgtype.Text
		endedAt    pgtype.Timestamptz
		created    time.Time
		err        error
	)
	if err := row.Scan(&a.ID, &a.PositionID, &a.MemberID, &start, &end, &typ, &letterNo, &letterDate, &a.Notes, &endReason, &endedAt, &created); err != nil {
		return orgstructure.Assignment{}, err
	}
	if a.Type, err = orgstructure.ParseAssignmentType(typ); err != nil {
		return orgstructure.Assignment{}, gerrors.Wrap(err, "scan assignment")
	}
	a.StartDate = orgstructure.Day(start.Time)
	a.EndDate = datePtr(end)
	a.LetterNumber = stringPtr(letterNo)
	a.LetterDate = datePtr(letterDate)
	a.EndReason = stringPtr(endReason)
	a.EndedAt = timePtr(endedAt)
	a.CreatedAt = created.UTC()
	return a, nil
}

func (r *OrgRepository) InsertAssignment(ctx context.Context, a orgstructure.Assignment) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
INSERT INTO org_assignments (`+assignmentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
`, a.ID, a.PositionID, a.MemberID, pgDateValue(a.StartDate), pgDate(a.EndDate), a.Type.String(),
		pgTextPtr(a.LetterNumber), pgDate(a.LetterDate), a.Notes, pgTextPtr(a.EndReason), a.EndedAt, a.CreatedAt)
	if err != nil {
		return gerrors.Wrap(err, "insert assignment")
	}
	return nil
}

func (r *OrgRepository) GetAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error) {
	return r.getAssignment(ctx, id, false)
}

func (r *OrgRepository) LockAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error) {
	return r.getAssignment(ctx, id, true)
}

func (r *OrgRepository) getAssignment(ctx context.Context, id uuid.UUID, forUpdate bool) (orgstructure.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return orgstructure.Assignment{}, err
	}
	q := `SELECT ` + assignmentColumns + ` FROM org_assignments WHERE id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	a, err := scanAssignment(tx.QueryRow(ctx, q, id))
	if err != nil {
		return orgstructure.Assignment{}, notFoundOr(err, "get assignment")
	}
	return a, nil
}

func (r *OrgRepository) EndAssignment(ctx context.Context, id uuid.UUID, endDate time.Time, reason *string, endedAt time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE org_assignments
SET end_date = $2, end_reason = $3, ended_at = $4
WHERE id = $1
`, id, pgDateValue(endDate), pgTextPtr(reason), endedAt)
	if err != nil {
		return gerrors.Wrap(err, "end assignment")
	}
	if tag.RowsAffected() == 0 {
		return services.ErrRecordNotFound
	}
	return nil
}

func (r *OrgRepository) ListAssignments(ctx context.Context, filter services.AssignmentFilter) ([]orgstructure.Assignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	q, args := buildAssignmentQuery(filter)
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, gerrors.Wrap(err, "list assignments")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (orgstructure.Assignment, error) {
		return scanAssignment(row)
	})
	if err != nil {
		return nil, gerrors.Wrap(err, "list assignments")
	}
	return out, nil
}

func buildAssignmentQuery(filter services.AssignmentFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.PositionID != nil {
		where = append(where, "position_id = "+arg(*filter.PositionID))
	}
	if filter.UnitID != nil {
		where = append(where, "position_id IN (SELECT id FROM org_positions WHERE unit_id = "+arg(*filter.UnitID)+")")
	}
	if filter.MemberID != nil {
		where = append(where, "member_id = "+arg(*filter.MemberID))
	}
	if filter.CurrentAt != nil {
		p := arg(pgDate(filter.CurrentAt))
		where = append(where, "start_date <= "+p+" AND (end_date IS NULL OR end_date >= "+p+")")
	}
	if w := filter.Overlapping; w != nil {
		where = append(where,
			"start_date <= COALESCE("+arg(pgDate(w.End))+"::date, 'infinity'::date)",
			"(end_date IS NULL OR end_date >= "+arg(pgDateValue(w.Start))+")",
		)
	}

	q := `SELECT ` + assignmentColumns + ` FROM org_assignments`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY start_date ASC, created_at ASC, id ASC`
	return q, args
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return services.ErrRecordNotFound
	}
	return gerrors.Wrap(err, op)
}
