package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/infrastructure/persistence"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/eventbus"
)

var today = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dayPtr(y int, m time.Month, d int) *time.Time {
	t := day(y, m, d)
	return &t
}

type harness struct {
	svc    *services.OrgService
	cache  *services.MemoryTreeCache
	mu     sync.Mutex
	events []string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{cache: services.NewMemoryTreeCache(0)}
	bus := eventbus.NewEventPublisher(nil)
	bus.Subscribe(eventbus.Wildcard, func(_ context.Context, ev eventbus.Event) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, ev.EventName())
		return nil
	})
	h.svc = services.NewOrgService(
		persistence.NewMemoryRepository(),
		services.WithClock(func() time.Time { return today }),
		services.WithTreeCache(h.cache),
		services.WithEventBus(bus),
	)
	return h
}

func (h *harness) eventNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (h *harness) root(t *testing.T) orgstructure.Unit {
	t.Helper()
	u, err := h.svc.CreateUnit(context.Background(), services.CreateUnitInput{
		Name: "DPP", Scope: orgstructure.ScopeNational, Level: 1,
	})
	require.NoError(t, err)
	return u
}

func (h *harness) unit(t *testing.T, name string, level int, parent uuid.UUID) orgstructure.Unit {
	t.Helper()
	u, err := h.svc.CreateUnit(context.Background(), services.CreateUnitInput{
		Name: name, Scope: orgstructure.ScopeDepartment, Level: level, ParentID: &parent,
	})
	require.NoError(t, err)
	return u
}

func (h *harness) position(t *testing.T, unit uuid.UUID, title string, maxHolders int, reportsTo *uuid.UUID) orgstructure.Position {
	t.Helper()
	p, err := h.svc.CreatePosition(context.Background(), services.CreatePositionInput{
		UnitID: unit, Title: title,
		Type: orgstructure.PositionTypeStructural, Level: orgstructure.PositionLevelMiddle,
		MaxHolders: maxHolders, ReportsToID: reportsTo,
	})
	require.NoError(t, err)
	return p
}

func (h *harness) start(position uuid.UUID, member int64, from time.Time) (orgstructure.Assignment, error) {
	return h.svc.StartAssignment(context.Background(), services.StartAssignmentInput{
		PositionID: position, MemberID: member, StartDate: from,
	})
}

func members(assignments []orgstructure.Assignment) []int64 {
	out := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a.MemberID)
	}
	return out
}

func TestCapacityIsNeverExceeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	pos := h.position(t, root.ID, "Wakil Ketua", 2, nil)

	first, err := h.start(pos.ID, 1, day(2026, 1, 1))
	require.NoError(t, err)
	_, err = h.start(pos.ID, 2, day(2026, 1, 2))
	require.NoError(t, err)

	_, err = h.start(pos.ID, 3, day(2026, 1, 1))
	require.ErrorIs(t, err, services.ErrCapacityExceeded)

	_, err = h.svc.EndAssignment(ctx, first.ID, day(2026, 6, 30), nil)
	require.NoError(t, err)

	_, err = h.start(pos.ID, 3, day(2026, 7, 1))
	require.NoError(t, err)

	holders, err := h.svc.CurrentHoldersOf(ctx, pos.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, members(holders))

	holders, err = h.svc.CurrentHoldersOf(ctx, pos.ID, day(2026, 3, 1))
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, members(holders))
}

func TestCapacityCountsFuturePlannedHolders(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Ketua", 1, nil)

	_, err := h.start(pos.ID, 1, day(2027, 1, 1))
	require.NoError(t, err)

	// Open-ended from today would collide with the planned holder next year.
	_, err = h.start(pos.ID, 2, day(2026, 10, 15))
	require.ErrorIs(t, err, services.ErrCapacityExceeded)

	_, err = h.svc.StartAssignment(context.Background(), services.StartAssignmentInput{
		PositionID: pos.ID, MemberID: 2, StartDate: day(2026, 10, 15), EndDate: dayPtr(2026, 12, 31),
		Type: orgstructure.AssignmentTypeActing,
	})
	require.NoError(t, err)
}

func TestMemberCannotHoldPositionTwice(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Anggota Bidang", 3, nil)

	_, err := h.start(pos.ID, 7, day(2026, 1, 1))
	require.NoError(t, err)

	_, err = h.start(pos.ID, 7, day(2026, 3, 1))
	require.ErrorIs(t, err, services.ErrConflict)
	require.NotErrorIs(t, err, services.ErrCapacityExceeded)
	svcErr, ok := services.AsServiceError(err)
	require.True(t, ok)
	require.Equal(t, "ORG_ASSIGNMENT_DUPLICATE", svcErr.Code)
}

func TestEndAssignmentRejectsEndBeforeStart(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Sekretaris", 1, nil)

	a, err := h.start(pos.ID, 1, day(2025, 1, 10))
	require.NoError(t, err)

	_, err = h.svc.EndAssignment(context.Background(), a.ID, day(2025, 1, 5), nil)
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestStartAssignmentRejectsEndBeforeStart(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Sekretaris", 1, nil)

	_, err := h.svc.StartAssignment(context.Background(), services.StartAssignmentInput{
		PositionID: pos.ID, MemberID: 1, StartDate: day(2025, 1, 10), EndDate: dayPtr(2025, 1, 5),
	})
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestEndingTwiceFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	pos := h.position(t, root.ID, "Bendahara", 1, nil)

	a, err := h.start(pos.ID, 1, day(2026, 1, 1))
	require.NoError(t, err)

	reason := "  resigned "
	ended, err := h.svc.EndAssignment(ctx, a.ID, time.Time{}, &reason)
	require.NoError(t, err)
	require.True(t, ended.EndDate.Equal(day(2026, 10, 15)))
	require.Equal(t, "resigned", *ended.EndReason)

	_, err = h.svc.EndAssignment(ctx, a.ID, time.Time{}, nil)
	require.ErrorIs(t, err, services.ErrNotFound)

	_, err = h.svc.EndAssignment(ctx, uuid.New(), time.Time{}, nil)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestEndAssignmentCannotExtendPlan(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Koordinator", 1, nil)

	a, err := h.svc.StartAssignment(context.Background(), services.StartAssignmentInput{
		PositionID: pos.ID, MemberID: 1, StartDate: day(2026, 1, 1), EndDate: dayPtr(2026, 12, 31),
	})
	require.NoError(t, err)

	_, err = h.svc.EndAssignment(context.Background(), a.ID, day(2027, 3, 1), nil)
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestReportingCyclesAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	a := h.position(t, root.ID, "A", 1, nil)
	b := h.position(t, root.ID, "B", 1, &a.ID)
	c := h.position(t, root.ID, "C", 1, &b.ID)

	toC := &c.ID
	_, err := h.svc.UpdatePosition(ctx, a.ID, services.UpdatePositionInput{ReportsToID: &toC})
	require.ErrorIs(t, err, services.ErrCycle)

	toB := &b.ID
	_, err = h.svc.UpdatePosition(ctx, a.ID, services.UpdatePositionInput{ReportsToID: &toB})
	require.ErrorIs(t, err, services.ErrCycle)

	self := &a.ID
	_, err = h.svc.UpdatePosition(ctx, a.ID, services.UpdatePositionInput{ReportsToID: &self})
	require.ErrorIs(t, err, services.ErrCycle)

	chain, err := h.svc.ReportingChain(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, b.ID, chain[0].ID)
	require.Equal(t, a.ID, chain[1].ID)

	missing := uuid.New()
	_, err = h.svc.CreatePosition(ctx, services.CreatePositionInput{
		UnitID: root.ID, Title: "D", Type: orgstructure.PositionTypeStaff, Level: orgstructure.PositionLevelLower,
		ReportsToID: &missing,
	})
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestUnitCyclesAreRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	child := h.unit(t, "Bidang Kaderisasi", 2, root.ID)
	grandchild := h.unit(t, "Seksi Pelatihan", 3, child.ID)

	toGrandchild := &grandchild.ID
	_, err := h.svc.UpdateUnit(ctx, child.ID, services.UpdateUnitInput{ParentID: &toGrandchild})
	require.ErrorIs(t, err, services.ErrCycle)

	toSelf := &child.ID
	_, err = h.svc.UpdateUnit(ctx, child.ID, services.UpdateUnitInput{ParentID: &toSelf})
	require.ErrorIs(t, err, services.ErrCycle)

	level := 1
	_, err = h.svc.CreateUnit(ctx, services.CreateUnitInput{
		Name: "Bad", Scope: orgstructure.ScopeSection, Level: level, ParentID: &root.ID,
	})
	require.ErrorIs(t, err, services.ErrValidation)

	deeper := 3
	_, err = h.svc.UpdateUnit(ctx, child.ID, services.UpdateUnitInput{Level: &deeper})
	require.ErrorIs(t, err, services.ErrValidation)
}

func TestDeletionGuards(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	child := h.unit(t, "Bidang Hukum", 2, root.ID)

	require.ErrorIs(t, h.svc.DeleteUnit(ctx, root.ID), services.ErrConflict)

	pos := h.position(t, child.ID, "Ketua Bidang", 1, nil)
	a, err := h.start(pos.ID, 9, day(2026, 1, 1))
	require.NoError(t, err)

	require.ErrorIs(t, h.svc.DeleteUnit(ctx, child.ID), services.ErrConflict)
	require.ErrorIs(t, h.svc.DeletePosition(ctx, pos.ID), services.ErrConflict)

	_, err = h.svc.EndAssignment(ctx, a.ID, time.Time{}, nil)
	require.NoError(t, err)
	require.NoError(t, h.svc.DeletePosition(ctx, pos.ID))

	_, err = h.svc.AssignmentHistory(ctx, pos.ID)
	require.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, h.svc.DeleteUnit(ctx, child.ID))
	require.NoError(t, h.svc.DeleteUnit(ctx, root.ID))
	require.ErrorIs(t, h.svc.DeleteUnit(ctx, root.ID), services.ErrNotFound)
}

func TestDeletePositionWithSubordinates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	head := h.position(t, root.ID, "Ketua", 1, nil)
	h.position(t, root.ID, "Wakil", 1, &head.ID)

	err := h.svc.DeletePosition(ctx, head.ID)
	require.ErrorIs(t, err, services.ErrConflict)
	svcErr, _ := services.AsServiceError(err)
	require.Equal(t, "ORG_POSITION_HAS_SUBORDINATES", svcErr.Code)
}

func TestUpdatePositionCapacityFloor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	pos := h.position(t, root.ID, "Staf Ahli", 3, nil)

	_, err := h.start(pos.ID, 1, day(2026, 1, 1))
	require.NoError(t, err)
	_, err = h.start(pos.ID, 2, day(2026, 2, 1))
	require.NoError(t, err)

	one := 1
	_, err = h.svc.UpdatePosition(ctx, pos.ID, services.UpdatePositionInput{MaxHolders: &one})
	require.ErrorIs(t, err, services.ErrConflict)

	two := 2
	updated, err := h.svc.UpdatePosition(ctx, pos.ID, services.UpdatePositionInput{MaxHolders: &two})
	require.NoError(t, err)
	require.Equal(t, 2, updated.MaxHolders)
}

func TestInactivePositionRejectsAssignments(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Humas", 1, nil)

	inactive := false
	_, err := h.svc.UpdatePosition(context.Background(), pos.ID, services.UpdatePositionInput{IsActive: &inactive})
	require.NoError(t, err)

	_, err = h.start(pos.ID, 1, day(2026, 1, 1))
	require.ErrorIs(t, err, services.ErrConflict)
}

func TestComposeTree(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	child := h.unit(t, "Departemen A", 2, root.ID)
	pos := h.position(t, child.ID, "Kepala", 1, nil)
	_, err := h.start(pos.ID, 5, day(2026, 1, 1))
	require.NoError(t, err)

	tree, err := h.svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.True(t, tree.AsOf.Equal(day(2026, 10, 15)))
	require.Len(t, tree.Units, 1)
	require.Equal(t, root.ID, tree.Units[0].ID)
	require.Empty(t, tree.Units[0].Positions)
	require.Len(t, tree.Units[0].Children, 1)

	node := tree.Units[0].Children[0]
	require.Equal(t, child.ID, node.ID)
	require.Len(t, node.Positions, 1)
	require.Equal(t, []int64{5}, members(node.Positions[0].Holders))
	require.Equal(t, services.TreeStats{Units: 2, Positions: 1, Holders: 1}, tree.Stats)

	past, err := h.svc.ComposeTree(ctx, services.TreeFilter{AsOf: day(2025, 6, 1)})
	require.NoError(t, err)
	require.Empty(t, past.Units[0].Children[0].Positions[0].Holders)
}

func TestComposeTreeIsCachedUntilAMutation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	first, err := h.svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	second, err := h.svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Same(t, first, second)

	h.unit(t, "Departemen B", 2, root.ID)
	third, err := h.svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.NotSame(t, first, third)
	require.Len(t, third.Units[0].Children, 1)
}

func TestSkipFlagsSuppressSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := services.WithSkipEvents(services.WithSkipCacheInvalidation(context.Background()))

	before, err := h.svc.ComposeTree(context.Background(), services.TreeFilter{})
	require.NoError(t, err)

	_, err = h.svc.CreateUnit(ctx, services.CreateUnitInput{Name: "DPP", Scope: orgstructure.ScopeNational, Level: 1})
	require.NoError(t, err)
	require.Empty(t, h.eventNames())

	stale, err := h.svc.ComposeTree(context.Background(), services.TreeFilter{})
	require.NoError(t, err)
	require.Same(t, before, stale)

	h.svc.InvalidateTreeCache(context.Background())
	fresh, err := h.svc.ComposeTree(context.Background(), services.TreeFilter{})
	require.NoError(t, err)
	require.Len(t, fresh.Units, 1)
}

func TestMutationsPublishEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	name := "DPP Pusat"
	_, err := h.svc.UpdateUnit(ctx, root.ID, services.UpdateUnitInput{Name: &name})
	require.NoError(t, err)
	pos := h.position(t, root.ID, "Ketua", 1, nil)
	a, err := h.start(pos.ID, 1, day(2026, 1, 1))
	require.NoError(t, err)
	_, err = h.svc.EndAssignment(ctx, a.ID, time.Time{}, nil)
	require.NoError(t, err)

	require.Equal(t, []string{
		services.EventUnitCreated,
		services.EventUnitUpdated,
		services.EventPositionCreated,
		services.EventAssignmentStarted,
		services.EventAssignmentEnded,
	}, h.eventNames())
}

func TestListByUnitAndMemberAssignments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)
	head := h.position(t, root.ID, "Ketua", 1, nil)
	h.position(t, root.ID, "Bendahara", 1, &head.ID)
	_, err := h.start(head.ID, 11, day(2026, 1, 1))
	require.NoError(t, err)

	list, err := h.svc.ListByUnit(ctx, root.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	titles := []string{list[0].Title, list[1].Title}
	require.ElementsMatch(t, []string{"Ketua", "Bendahara"}, titles)
	for _, p := range list {
		if p.ID == head.ID {
			require.Equal(t, []int64{11}, members(p.Holders))
		} else {
			require.Empty(t, p.Holders)
		}
	}

	mine, err := h.svc.MemberAssignments(ctx, 11, time.Time{})
	require.NoError(t, err)
	require.Len(t, mine, 1)

	_, err = h.svc.ListByUnit(ctx, uuid.New())
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestFullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	root := h.root(t)

	dept, err := h.svc.CreateUnit(ctx, services.CreateUnitInput{
		Name: "Department A", Scope: orgstructure.ScopeDepartment, Level: 2, ParentID: &root.ID,
	})
	require.NoError(t, err)
	head := h.position(t, dept.ID, "Head", 1, nil)

	const memberX, memberY = int64(101), int64(202)
	x, err := h.start(head.ID, memberX, day(2025, 1, 1))
	require.NoError(t, err)

	holders, err := h.svc.CurrentHoldersOf(ctx, head.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []int64{memberX}, members(holders))

	_, err = h.start(head.ID, memberY, day(2025, 2, 1))
	require.ErrorIs(t, err, services.ErrCapacityExceeded)

	_, err = h.svc.EndAssignment(ctx, x.ID, day(2025, 2, 1), nil)
	require.NoError(t, err)

	_, err = h.start(head.ID, memberY, day(2025, 2, 2))
	require.NoError(t, err)

	holders, err = h.svc.CurrentHoldersOf(ctx, head.ID, time.Time{})
	require.NoError(t, err)
	require.Equal(t, []int64{memberY}, members(holders))

	history, err := h.svc.AssignmentHistory(ctx, head.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{memberX, memberY}, members(history))
}

func TestConcurrentStartsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	root := h.root(t)
	pos := h.position(t, root.ID, "Anggota", 3, nil)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for m := int64(1); m <= 10; m++ {
		wg.Add(1)
		go func(member int64) {
			defer wg.Done()
			if _, err := h.start(pos.ID, member, day(2026, 1, 1)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(m)
	}
	wg.Wait()
	require.Equal(t, 3, ok)
}
