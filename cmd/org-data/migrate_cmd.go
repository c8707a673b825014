package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/spkampus/portal/pkg/application"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(cmd.Context(), func(ctx context.Context, m application.MigrationManager) error {
				return runMigrateUp(ctx, m, cmd.OutOrStdout())
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrations(cmd.Context(), func(ctx context.Context, m application.MigrationManager) error {
				return runMigrateStatus(ctx, m, cmd.OutOrStdout())
			})
		},
	})
	return cmd
}

func withMigrations(ctx context.Context, fn func(ctx context.Context, m application.MigrationManager) error) error {
	ctx, rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.App.Migrations())
}

type migrationLine struct {
	Source  string `json:"source,omitempty"`
	Version int64  `json:"version"`
	Path    string `json:"path"`
	State   string `json:"state,omitempty"`
	Applied string `json:"applied_at,omitempty"`
	Elapsed string `json:"elapsed,omitempty"`
}

func runMigrateUp(ctx context.Context, m application.MigrationManager, w io.Writer) error {
	results, err := m.Up(ctx)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("migrate up: %w", err))
	}
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		if err := writeJSONLine(w, migrationLine{
			Version: r.Source.Version,
			Path:    r.Source.Path,
			State:   "applied",
			Elapsed: r.Duration.String(),
		}); err != nil {
			return err
		}
	}
	return writeJSONLine(w, map[string]int{"applied": len(results)})
}

func runMigrateStatus(ctx context.Context, m application.MigrationManager, w io.Writer) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return withCode(exitDB, fmt.Errorf("migrate status: %w", err))
	}
	sources := make([]string, 0, len(statuses))
	for name := range statuses {
		sources = append(sources, name)
	}
	sort.Strings(sources)
	for _, name := range sources {
		for _, st := range statuses[name] {
			if st == nil || st.Source == nil {
				continue
			}
			line := migrationLine{
				Source:  name,
				Version: st.Source.Version,
				Path:    st.Source.Path,
				State:   string(st.State),
			}
			if !st.AppliedAt.IsZero() {
				line.Applied = st.AppliedAt.UTC().Format("2006-01-02T15:04:05Z")
			}
			if err := writeJSONLine(w, line); err != nil {
				return err
			}
		}
	}
	return nil
}
