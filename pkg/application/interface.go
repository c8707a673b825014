package application

import (
	"context"
	"io/fs"
	"reflect"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/eventbus"
)

// Controller mounts a group of routes on the router.
type Controller interface {
	Register(r *mux.Router)
	Key() string
}

// Module wires one feature area into the application.
type Module interface {
	Name() string
	Register(app Application) error
}

type Application interface {
	// DB is nil when the application runs without Postgres.
	DB() *pgxpool.Pool
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	Migrations() MigrationManager
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterServices(services ...any)
	Service(service any) any
	Services() map[reflect.Type]any
}

// MigrationManager applies the goose migrations registered by modules.
type MigrationManager interface {
	Register(name string, fsys fs.FS)
	Up(ctx context.Context) ([]*goose.MigrationResult, error)
	Status(ctx context.Context) (map[string][]*goose.MigrationStatus, error)
}
