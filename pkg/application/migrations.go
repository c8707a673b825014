package application

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"sort"

	gerrors "github.com/go-faster/errors"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

var ErrMigrationsDisabled = errors.New("migrations: no database configured")

type migrationManager struct {
	dsn     string
	log     *logrus.Logger
	sources map[string]fs.FS
}

// NewMigrationManager runs goose over a database/sql connection opened with
// lib/pq. Each registered source is applied in name order.
func NewMigrationManager(dsn string, log *logrus.Logger) MigrationManager {
	return &migrationManager{dsn: dsn, log: log, sources: make(map[string]fs.FS)}
}

func (m *migrationManager) Register(name string, fsys fs.FS) {
	m.sources[name] = fsys
}

func (m *migrationManager) names() []string {
	out := make([]string, 0, len(m.sources))
	for name := range m.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (m *migrationManager) withProviders(ctx context.Context, fn func(name string, p *goose.Provider) error) error {
	if m.dsn == "" {
		return ErrMigrationsDisabled
	}
	db, err := sql.Open("postgres", m.dsn)
	if err != nil {
		return gerrors.Wrap(err, "open migration connection")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return gerrors.Wrap(err, "ping migration connection")
	}

	for _, name := range m.names() {
		p, err := goose.NewProvider(goose.DialectPostgres, db, m.sources[name])
		if err != nil {
			return gerrors.Wrapf(err, "migrations %s", name)
		}
		if err := fn(name, p); err != nil {
			return gerrors.Wrapf(err, "migrations %s", name)
		}
	}
	return nil
}

func (m *migrationManager) Up(ctx context.Context) ([]*goose.MigrationResult, error) {
	var applied []*goose.MigrationResult
	err := m.withProviders(ctx, func(name string, p *goose.Provider) error {
		results, err := p.Up(ctx)
		for _, r := range results {
			if m.log != nil {
				m.log.WithFields(logrus.Fields{
					"module":   name,
					"version":  r.Source.Version,
					"duration": r.Duration,
				}).Info("migration applied")
			}
		}
		applied = append(applied, results...)
		return err
	})
	return applied, err
}

func (m *migrationManager) Status(ctx context.Context) (map[string][]*goose.MigrationStatus, error) {
	out := make(map[string][]*goose.MigrationStatus, len(m.sources))
	err := m.withProviders(ctx, func(name string, p *goose.Provider) error {
		status, err := p.Status(ctx)
		if err != nil {
			return err
		}
		out[name] = status
		return nil
	})
	return out, err
}
