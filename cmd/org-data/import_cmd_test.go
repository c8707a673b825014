package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/modules/org/infrastructure/persistence"
	"github.com/spkampus/portal/modules/org/services"
)

var cliNow = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

func newCLIService(t *testing.T) *services.OrgService {
	t.Helper()
	return services.NewOrgService(
		persistence.NewMemoryRepository(),
		services.WithClock(func() time.Time { return cliNow }),
	)
}

const sampleImport = `
units:
  - key: jatim
    parent: dpp
    name: DPW Jawa Timur
    scope: regional
    level: 2
    region_id: 35
  - key: dpp
    name: DPP
    scope: national
    level: 1
positions:
  - key: wakil
    unit: dpp
    title: Wakil Ketua
    type: executive
    level: top
    reports_to: ketua
  - key: ketua
    unit: dpp
    title: Ketua Umum
    type: executive
    level: top
  - key: ketua-jatim
    unit: jatim
    title: Ketua DPW
    type: structural
    level: middle
    reports_to: ketua
assignments:
  - position: ketua
    member_id: 101
    start_date: "2026-01-01"
    letter_number: SK-01/2026
  - position: ketua-jatim
    member_id: 202
    start_date: "2026-02-01"
    type: acting
`

func mustPlan(t *testing.T, doc string) *importPlan {
	t.Helper()
	file, err := decodeImportFile(strings.NewReader(doc))
	require.NoError(t, err)
	plan, err := planImport(file)
	require.NoError(t, err)
	return plan
}

func TestPlanImportOrdersByDependency(t *testing.T) {
	plan := mustPlan(t, sampleImport)

	require.Len(t, plan.units, 2)
	require.Equal(t, "dpp", plan.units[0].key)
	require.Equal(t, "jatim", plan.units[1].key)

	keys := make([]string, 0, len(plan.positions))
	for _, p := range plan.positions {
		keys = append(keys, p.key)
	}
	require.Equal(t, []string{"ketua", "ketua-jatim", "wakil"}, keys)
	require.Len(t, plan.assignments, 2)
}

func TestPlanImportReportsProblems(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "units:\n  - key: a\n    colour: red\n",
			want: "decode yaml",
		},
		{
			name: "duplicate key",
			doc:  "units:\n  - {key: a, name: A, scope: national, level: 1}\n  - {key: a, name: B, scope: national, level: 1}\n",
			want: `duplicate key "a"`,
		},
		{
			name: "unknown parent",
			doc:  "units:\n  - {key: a, parent: nope, name: A, scope: regional, level: 2, region_id: 1}\n",
			want: `unknown parent "nope"`,
		},
		{
			name: "bad scope",
			doc:  "units:\n  - {key: a, name: A, scope: galaxy, level: 1}\n",
			want: "units[0] a",
		},
		{
			name: "bad start date",
			doc:  "units:\n  - {key: a, name: A, scope: national, level: 1}\npositions:\n  - {key: p, unit: a, title: P, type: staff, level: lower}\nassignments:\n  - {position: p, member_id: 1, start_date: 01/02/2026}\n",
			want: "start_date",
		},
		{
			name: "cycle",
			doc:  "units:\n  - {key: a, parent: b, name: A, scope: department, level: 3}\n  - {key: b, parent: a, name: B, scope: department, level: 3}\n",
			want: "dependency cycle among a, b",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			file, err := decodeImportFile(strings.NewReader(tc.doc))
			if err == nil {
				_, err = planImport(file)
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
			require.Equal(t, exitValidation, exitCode(err))
		})
	}
}

func TestApplyImportCreatesEverything(t *testing.T) {
	svc := newCLIService(t)
	ctx := context.Background()

	summary, err := applyImport(ctx, svc, mustPlan(t, sampleImport), false)
	require.NoError(t, err)
	require.Equal(t, importSummary{Units: 2, Positions: 3, Assignments: 2}, summary)

	tree, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, tree.Stats.Units)
	require.Equal(t, 3, tree.Stats.Positions)
	require.Equal(t, 2, tree.Stats.Holders)
}

func TestApplyImportDryRunLeavesStoreEmpty(t *testing.T) {
	svc := newCLIService(t)
	ctx := context.Background()

	summary, err := applyImport(ctx, svc, mustPlan(t, sampleImport), true)
	require.NoError(t, err)
	require.True(t, summary.DryRun)
	require.Equal(t, 3, summary.Positions)

	tree, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Zero(t, tree.Stats.Units)
}

func TestApplyImportRollsBackOnServiceError(t *testing.T) {
	svc := newCLIService(t)
	ctx := context.Background()

	doc := sampleImport + `  - position: ketua
    member_id: 303
    start_date: "2026-03-01"
`
	_, err := applyImport(ctx, svc, mustPlan(t, doc), false)
	require.Error(t, err)
	require.ErrorIs(t, err, services.ErrCapacityExceeded)
	require.Contains(t, err.Error(), "assignments[2]")
	require.Equal(t, exitDBWrite, exitCode(err))

	tree, err := svc.ComposeTree(ctx, services.TreeFilter{})
	require.NoError(t, err)
	require.Zero(t, tree.Stats.Units)
}

func TestApplyImportMissingReference(t *testing.T) {
	svc := newCLIService(t)

	doc := "units:\n  - {key: kampus, name: Komisariat, scope: campus, level: 4}\n"
	_, err := applyImport(context.Background(), svc, mustPlan(t, doc), false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unit kampus")
	require.Equal(t, exitValidation, exitCode(err))
}

func TestImportSummaryLine(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSONLine(&buf, importSummary{DryRun: true, Units: 1}))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Equal(t, map[string]any{"dry_run": true, "units": 1.0, "positions": 0.0, "assignments": 0.0}, got)
}

func TestExitCodeMapping(t *testing.T) {
	require.Equal(t, exitOK, exitCode(nil))
	require.Equal(t, 1, exitCode(context.Canceled))
	require.Equal(t, exitDB, exitCode(withServiceCode(context.Canceled)))
	require.Equal(t, exitUsage, exitCode(withCode(exitUsage, context.Canceled)))
}
