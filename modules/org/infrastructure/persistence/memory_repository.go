package persistence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/services"
)

var ErrReadOnlyTx = errors.New("write attempted in a read-only transaction")

type memoryState struct {
	units       map[uuid.UUID]orgstructure.Unit
	positions   map[uuid.UUID]orgstructure.Position
	assignments map[uuid.UUID]orgstructure.Assignment
}

func newMemoryState() *memoryState {
	return &memoryState{
		units:       make(map[uuid.UUID]orgstructure.Unit),
		positions:   make(map[uuid.UUID]orgstructure.Position),
		assignments: make(map[uuid.UUID]orgstructure.Assignment),
	}
}

func (s *memoryState) clone() *memoryState {
	out := &memoryState{
		units:       make(map[uuid.UUID]orgstructure.Unit, len(s.units)),
		positions:   make(map[uuid.UUID]orgstructure.Position, len(s.positions)),
		assignments: make(map[uuid.UUID]orgstructure.Assignment, len(s.assignments)),
	}
	for k, v := range s.units {
		out.units[k] = v
	}
	for k, v := range s.positions {
		out.positions[k] = v
	}
	for k, v := range s.assignments {
		out.assignments[k] = v
	}
	return out
}

type memoryTx struct {
	owner    *MemoryRepository
	state    *memoryState
	writable bool
}

type memoryTxKey struct{}

// MemoryRepository keeps the org structure in process memory. Write
// transactions are serialised and work on a copy that replaces the state on
// commit; read transactions share the committed state.
type MemoryRepository struct {
	mu    sync.RWMutex
	state *memoryState
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemoryState()}
}

var _ services.OrgRepository = (*MemoryRepository)(nil)

func (r *MemoryRepository) txFrom(ctx context.Context) (*memoryTx, bool) {
	tx, ok := ctx.Value(memoryTxKey{}).(*memoryTx)
	if !ok || tx.owner != r {
		return nil, false
	}
	return tx, true
}

func (r *MemoryRepository) RunInTx(ctx context.Context, mode services.TxMode, fn func(txCtx context.Context) error) error {
	if tx, ok := r.txFrom(ctx); ok {
		if mode == services.TxReadWrite && !tx.writable {
			return ErrReadOnlyTx
		}
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	switch mode {
	case services.TxSnapshot:
		r.mu.RLock()
		defer r.mu.RUnlock()
		return fn(context.WithValue(ctx, memoryTxKey{}, &memoryTx{owner: r, state: r.state}))
	case services.TxReadWrite:
		r.mu.Lock()
		defer r.mu.Unlock()
		working := r.state.clone()
		if err := fn(context.WithValue(ctx, memoryTxKey{}, &memoryTx{owner: r, state: working, writable: true})); err != nil {
			return err
		}
		r.state = working
		return nil
	default:
		return errors.New("unknown transaction mode")
	}
}

func (r *MemoryRepository) read(ctx context.Context, fn func(st *memoryState) error) error {
	if tx, ok := r.txFrom(ctx); ok {
		return fn(tx.state)
	}
	return r.RunInTx(ctx, services.TxSnapshot, func(txCtx context.Context) error {
		tx, _ := r.txFrom(txCtx)
		return fn(tx.state)
	})
}

func (r *MemoryRepository) write(ctx context.Context, fn func(st *memoryState) error) error {
	if tx, ok := r.txFrom(ctx); ok {
		if !tx.writable {
			return ErrReadOnlyTx
		}
		return fn(tx.state)
	}
	return r.RunInTx(ctx, services.TxReadWrite, func(txCtx context.Context) error {
		tx, _ := r.txFrom(txCtx)
		return fn(tx.state)
	})
}

func (r *MemoryRepository) InsertUnit(ctx context.Context, u orgstructure.Unit) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, dup := st.units[u.ID]; dup {
			return errors.New("unit already exists")
		}
		if u.ParentID != nil {
			if _, ok := st.units[*u.ParentID]; !ok {
				return services.ErrRecordNotFound
			}
		}
		st.units[u.ID] = u
		return nil
	})
}

func (r *MemoryRepository) UpdateUnit(ctx context.Context, u orgstructure.Unit) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, ok := st.units[u.ID]; !ok {
			return services.ErrRecordNotFound
		}
		st.units[u.ID] = u
		return nil
	})
}

func (r *MemoryRepository) DeleteUnit(ctx context.Context, id uuid.UUID) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, ok := st.units[id]; !ok {
			return services.ErrRecordNotFound
		}
		for _, u := range st.units {
			if u.ParentID != nil && *u.ParentID == id {
				return errors.New("unit is still referenced by child units")
			}
		}
		for _, p := range st.positions {
			if p.UnitID == id {
				return errors.New("unit is still referenced by positions")
			}
		}
		delete(st.units, id)
		return nil
	})
}

func (r *MemoryRepository) GetUnit(ctx context.Context, id uuid.UUID) (orgstructure.Unit, error) {
	var out orgstructure.Unit
	err := r.read(ctx, func(st *memoryState) error {
		u, ok := st.units[id]
		if !ok {
			return services.ErrRecordNotFound
		}
		out = u
		return nil
	})
	return out, err
}

func (r *MemoryRepository) ListUnits(ctx context.Context) ([]orgstructure.Unit, error) {
	var out []orgstructure.Unit
	err := r.read(ctx, func(st *memoryState) error {
		out = make([]orgstructure.Unit, 0, len(st.units))
		for _, u := range st.units {
			out = append(out, u)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *MemoryRepository) CountUnitDependents(ctx context.Context, id uuid.UUID) (services.UnitDependents, error) {
	var deps services.UnitDependents
	err := r.read(ctx, func(st *memoryState) error {
		for _, u := range st.units {
			if u.ParentID != nil && *u.ParentID == id {
				deps.Children++
			}
		}
		for _, p := range st.positions {
			if p.UnitID == id {
				deps.Positions++
			}
		}
		return nil
	})
	return deps, err
}

func (r *MemoryRepository) InsertPosition(ctx context.Context, p orgstructure.Position) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, dup := st.positions[p.ID]; dup {
			return errors.New("position already exists")
		}
		if _, ok := st.units[p.UnitID]; !ok {
			return services.ErrRecordNotFound
		}
		st.positions[p.ID] = p
		return nil
	})
}

func (r *MemoryRepository) UpdatePosition(ctx context.Context, p orgstructure.Position) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, ok := st.positions[p.ID]; !ok {
			return services.ErrRecordNotFound
		}
		st.positions[p.ID] = p
		return nil
	})
}

func (r *MemoryRepository) DeletePosition(ctx context.Context, id uuid.UUID) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, ok := st.positions[id]; !ok {
			return services.ErrRecordNotFound
		}
		for _, p := range st.positions {
			if p.ReportsToID != nil && *p.ReportsToID == id {
				return errors.New("position is still referenced by subordinates")
			}
		}
		delete(st.positions, id)
		for aid, a := range st.assignments {
			if a.PositionID == id {
				delete(st.assignments, aid)
			}
		}
		return nil
	})
}

func (r *MemoryRepository) GetPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error) {
	var out orgstructure.Position
	err := r.read(ctx, func(st *memoryState) error {
		p, ok := st.positions[id]
		if !ok {
			return services.ErrRecordNotFound
		}
		out = p
		return nil
	})
	return out, err
}

// LockHierarchy is a no-op: write transactions already hold the store lock.
func (r *MemoryRepository) LockHierarchy(ctx context.Context, _ services.Hierarchy) error {
	if tx, ok := r.txFrom(ctx); ok && !tx.writable {
		return ErrReadOnlyTx
	}
	return nil
}

// LockPosition is GetPosition: write transactions already hold the store lock.
func (r *MemoryRepository) LockPosition(ctx context.Context, id uuid.UUID) (orgstructure.Position, error) {
	return r.GetPosition(ctx, id)
}

func (r *MemoryRepository) ListPositions(ctx context.Context, filter services.PositionFilter) ([]orgstructure.Position, error) {
	var out []orgstructure.Position
	err := r.read(ctx, func(st *memoryState) error {
		out = make([]orgstructure.Position, 0, len(st.positions))
		for _, p := range st.positions {
			if filter.UnitID != nil && p.UnitID != *filter.UnitID {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Title != out[j].Title {
			return out[i].Title < out[j].Title
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func (r *MemoryRepository) ListReportingLinks(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	err := r.read(ctx, func(st *memoryState) error {
		for _, p := range st.positions {
			if p.ReportsToID != nil {
				out[p.ID] = *p.ReportsToID
			}
		}
		return nil
	})
	return out, err
}

func (r *MemoryRepository) CountSubordinates(ctx context.Context, id uuid.UUID) (int, error) {
	n := 0
	err := r.read(ctx, func(st *memoryState) error {
		for _, p := range st.positions {
			if p.ReportsToID != nil && *p.ReportsToID == id {
				n++
			}
		}
		return nil
	})
	return n, err
}

// InsertAssignment also enforces the per-member overlap rule the Postgres
// schema expresses as an exclusion constraint.
func (r *MemoryRepository) InsertAssignment(ctx context.Context, a orgstructure.Assignment) error {
	return r.write(ctx, func(st *memoryState) error {
		if _, ok := st.positions[a.PositionID]; !ok {
			return services.ErrRecordNotFound
		}
		for _, existing := range st.assignments {
			if existing.PositionID == a.PositionID && existing.MemberID == a.MemberID && existing.Overlaps(a.StartDate, a.EndDate) {
				return errors.New("member already holds this position in that period")
			}
		}
		st.assignments[a.ID] = a
		return nil
	})
}

func (r *MemoryRepository) GetAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error) {
	var out orgstructure.Assignment
	err := r.read(ctx, func(st *memoryState) error {
		a, ok := st.assignments[id]
		if !ok {
			return services.ErrRecordNotFound
		}
		out = a
		return nil
	})
	return out, err
}

func (r *MemoryRepository) LockAssignment(ctx context.Context, id uuid.UUID) (orgstructure.Assignment, error) {
	return r.GetAssignment(ctx, id)
}

func (r *MemoryRepository) EndAssignment(ctx context.Context, id uuid.UUID, endDate time.Time, reason *string, endedAt time.Time) error {
	return r.write(ctx, func(st *memoryState) error {
		a, ok := st.assignments[id]
		if !ok {
			return services.ErrRecordNotFound
		}
		end := orgstructure.Day(endDate)
		at := endedAt
		a.EndDate = &end
		a.EndReason = reason
		a.EndedAt = &at
		st.assignments[id] = a
		return nil
	})
}

func (r *MemoryRepository) ListAssignments(ctx context.Context, filter services.AssignmentFilter) ([]orgstructure.Assignment, error) {
	var out []orgstructure.Assignment
	err := r.read(ctx, func(st *memoryState) error {
		out = make([]orgstructure.Assignment, 0)
		for _, a := range st.assignments {
			if matchAssignment(st, a, filter) {
				out = append(out, a)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}

func matchAssignment(st *memoryState, a orgstructure.Assignment, f services.AssignmentFilter) bool {
	if f.PositionID != nil && a.PositionID != *f.PositionID {
		return false
	}
	if f.UnitID != nil {
		p, ok := st.positions[a.PositionID]
		if !ok || p.UnitID != *f.UnitID {
			return false
		}
	}
	if f.MemberID != nil && a.MemberID != *f.MemberID {
		return false
	}
	if f.CurrentAt != nil && !a.IsCurrentAt(*f.CurrentAt) {
		return false
	}
	if f.Overlapping != nil && !a.Overlaps(f.Overlapping.Start, f.Overlapping.End) {
		return false
	}
	return true
}
