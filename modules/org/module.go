package org

import (
	"time"

	"github.com/spkampus/portal/migrations"
	"github.com/spkampus/portal/modules/org/handlers"
	"github.com/spkampus/portal/modules/org/infrastructure/persistence"
	"github.com/spkampus/portal/modules/org/presentation/controllers"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/application"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

type ModuleOptions struct {
	// StoreBackend is postgres or memory. Postgres requires app.DB().
	StoreBackend string
	// Cache is optional; nil disables tree caching.
	Cache        services.TreeCache
	CacheBackend string

	Members    services.MemberDirectory
	References services.ReferenceDirectory
	Clock      func() time.Time
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	backend := m.options.StoreBackend
	if backend == "" {
		backend = StoreBackendPostgres
		if app.DB() == nil {
			backend = StoreBackendMemory
		}
	}

	var repo services.OrgRepository
	switch backend {
	case StoreBackendPostgres:
		app.Migrations().Register(m.Name(), migrations.Org())
		repo = persistence.NewOrgRepository()
	case StoreBackendMemory:
		repo = persistence.NewMemoryRepository()
	default:
		return &UnknownBackendError{Backend: backend}
	}

	opts := []services.Option{services.WithEventBus(app.EventPublisher())}
	if m.options.Cache != nil {
		opts = append(opts, services.WithTreeCache(m.options.Cache))
	}
	if m.options.Members != nil {
		opts = append(opts, services.WithMemberDirectory(m.options.Members))
	}
	if m.options.References != nil {
		opts = append(opts, services.WithReferenceDirectory(m.options.References))
	}
	if m.options.Clock != nil {
		opts = append(opts, services.WithClock(m.options.Clock))
	}
	app.RegisterServices(services.NewOrgService(repo, opts...))

	handlers.RegisterAuditEventHandlers(app)

	app.RegisterControllers(
		controllers.NewOrgAPIController(app),
		controllers.NewHealthController(app, controllers.HealthOptions{
			StoreBackend: backend,
			CacheEnabled: m.options.Cache != nil,
			CacheBackend: m.options.CacheBackend,
		}),
	)
	return nil
}

func (m *Module) Name() string {
	return "org"
}

type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "org: unknown store backend " + e.Backend
}
