package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/modules/org/domain/orgstructure"
	"github.com/spkampus/portal/modules/org/infrastructure/persistence"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/composables"
)

// hookedRepo wraps the memory store. It runs afterSnapshot once, right after
// the next snapshot transaction returns, and records lock and link reads.
type hookedRepo struct {
	services.OrgRepository

	mu            sync.Mutex
	afterSnapshot func()
	calls         []string
	locks         []services.Hierarchy
}

func newHookedRepo() *hookedRepo {
	return &hookedRepo{OrgRepository: persistence.NewMemoryRepository()}
}

func (r *hookedRepo) RunInTx(ctx context.Context, mode services.TxMode, fn func(txCtx context.Context) error) error {
	err := r.OrgRepository.RunInTx(ctx, mode, fn)
	if mode != services.TxSnapshot {
		return err
	}
	r.mu.Lock()
	hook := r.afterSnapshot
	r.afterSnapshot = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (r *hookedRepo) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *hookedRepo) LockHierarchy(ctx context.Context, h services.Hierarchy) error {
	r.mu.Lock()
	r.locks = append(r.locks, h)
	r.mu.Unlock()
	r.record("LockHierarchy")
	return r.OrgRepository.LockHierarchy(ctx, h)
}

func (r *hookedRepo) ListReportingLinks(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	r.record("ListReportingLinks")
	return r.OrgRepository.ListReportingLinks(ctx)
}

func (r *hookedRepo) ListUnits(ctx context.Context) ([]orgstructure.Unit, error) {
	r.record("ListUnits")
	return r.OrgRepository.ListUnits(ctx)
}

func (r *hookedRepo) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.locks = nil
}

func newHookedService(repo *hookedRepo) *services.OrgService {
	return services.NewOrgService(repo,
		services.WithClock(func() time.Time { return today }),
		services.WithTreeCache(services.NewMemoryTreeCache(0)),
	)
}

func TestComposeTreeKeepsTreesOvertakenByACommitOutOfCache(t *testing.T) {
	repo := newHookedRepo()
	svc := newHookedService(repo)
	ctx := context.Background()

	root, err := svc.CreateUnit(ctx, services.CreateUnitInput{Name: "DPP", Scope: orgstructure.ScopeNational, Level: 1})
	require.NoError(t, err)
	pos, err := svc.CreatePosition(ctx, services.CreatePositionInput{
		UnitID: root.ID, Title: "Sekretaris Jenderal",
		Type: orgstructure.PositionTypeExecutive, Level: orgstructure.PositionLevelTop,
	})
	require.NoError(t, err)
	a, err := svc.StartAssignment(ctx, services.StartAssignmentInput{PositionID: pos.ID, MemberID: 7, StartDate: day(2026, 1, 1)})
	require.NoError(t, err)

	repo.afterSnapshot = func() {
		_, err := svc.EndAssignment(ctx, a.ID, day(2026, 10, 1), nil)
		require.NoError(t, err)
	}
	overtaken, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, overtaken.Stats.Holders)

	holders, err := svc.CurrentHoldersOf(ctx, pos.ID, time.Time{})
	require.NoError(t, err)
	require.Empty(t, holders)

	fresh, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Zero(t, fresh.Stats.Holders)

	cached, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Same(t, fresh, cached)
}

func TestHierarchyChecksRunUnderTheHierarchyLock(t *testing.T) {
	repo := newHookedRepo()
	svc := newHookedService(repo)
	ctx := context.Background()

	root, err := svc.CreateUnit(ctx, services.CreateUnitInput{Name: "DPP", Scope: orgstructure.ScopeNational, Level: 1})
	require.NoError(t, err)
	dept, err := svc.CreateUnit(ctx, services.CreateUnitInput{
		Name: "Departemen Advokasi", Scope: orgstructure.ScopeDepartment, Level: 3, ParentID: &root.ID,
	})
	require.NoError(t, err)

	newPos := func(title string) orgstructure.Position {
		p, err := svc.CreatePosition(ctx, services.CreatePositionInput{
			UnitID: root.ID, Title: title,
			Type: orgstructure.PositionTypeStructural, Level: orgstructure.PositionLevelMiddle,
		})
		require.NoError(t, err)
		return p
	}
	head, deputy := newPos("Ketua"), newPos("Wakil Ketua")

	repo.reset()
	_, err = svc.UpdatePosition(ctx, deputy.ID, services.UpdatePositionInput{ReportsToID: ptrTo(&head.ID)})
	require.NoError(t, err)
	require.Equal(t, []services.Hierarchy{services.HierarchyReporting}, repo.locks)
	require.Equal(t, []string{"LockHierarchy", "ListReportingLinks"}, repo.calls)

	repo.reset()
	_, err = svc.UpdatePosition(ctx, head.ID, services.UpdatePositionInput{ReportsToID: ptrTo(&deputy.ID)})
	require.ErrorIs(t, err, services.ErrCycle)
	require.Equal(t, []services.Hierarchy{services.HierarchyReporting}, repo.locks)

	repo.reset()
	title := "Ketua Umum"
	_, err = svc.UpdatePosition(ctx, head.ID, services.UpdatePositionInput{Title: &title})
	require.NoError(t, err)
	require.Empty(t, repo.locks)

	repo.reset()
	level := 2
	_, err = svc.UpdateUnit(ctx, dept.ID, services.UpdateUnitInput{Level: &level})
	require.NoError(t, err)
	require.Equal(t, []services.Hierarchy{services.HierarchyUnits}, repo.locks)
	require.Equal(t, []string{"LockHierarchy", "ListUnits"}, repo.calls)

	repo.reset()
	_, err = svc.CreateUnit(ctx, services.CreateUnitInput{
		Name: "Divisi Litigasi", Scope: orgstructure.ScopeDivision, Level: 3, ParentID: &dept.ID,
	})
	require.NoError(t, err)
	require.Equal(t, []services.Hierarchy{services.HierarchyUnits}, repo.locks)
}

func ptrTo[T any](v *T) **T {
	return &v
}

func mutationCount(t *testing.T, operation, result string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "org_write_mutations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			if hasLabels(m, map[string]string{"operation": operation, "result": result}) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestBatchReportsOnlyTheBatchCommit(t *testing.T) {
	h := newHarness(t)
	logger, hook := test.NewNullLogger()
	ctx := composables.WithLogger(context.Background(), logrus.NewEntry(logger))

	before := mutationCount(t, "CreateUnit", "committed")

	for _, dryRun := range []bool{true, false} {
		hook.Reset()
		err := h.svc.Batch(ctx, dryRun, func(txCtx context.Context) error {
			_, err := h.svc.CreateUnit(txCtx, services.CreateUnitInput{Name: "DPP", Scope: orgstructure.ScopeNational, Level: 1})
			return err
		})
		require.NoError(t, err)

		var committed []logrus.Fields
		for _, e := range hook.AllEntries() {
			if e.Message == "org.mutation.committed" {
				committed = append(committed, e.Data)
			}
		}
		if dryRun {
			require.Empty(t, committed)
			continue
		}
		require.Len(t, committed, 1)
		require.Equal(t, "Batch", committed[0]["operation"])
		require.Equal(t, false, committed[0]["dry_run"])
	}

	require.Equal(t, before, mutationCount(t, "CreateUnit", "committed"))
}
