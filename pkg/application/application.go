package application

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/eventbus"
)

type ApplicationOptions struct {
	Pool     *pgxpool.Pool
	EventBus eventbus.EventBus
	Logger   *logrus.Logger
	// DatabaseURL is used by the migration manager; empty disables migrations.
	DatabaseURL string
}

func New(opts *ApplicationOptions) Application {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bus := opts.EventBus
	if bus == nil {
		bus = eventbus.NewEventPublisher(logger)
	}
	return &application{
		pool:           opts.Pool,
		eventPublisher: bus,
		logger:         logger,
		controllers:    make(map[string]Controller),
		services:       make(map[reflect.Type]any),
		migrations:     NewMigrationManager(opts.DatabaseURL, logger),
	}
}

// application with a dynamically extendable service registry
type application struct {
	pool           *pgxpool.Pool
	eventPublisher eventbus.EventBus
	logger         *logrus.Logger
	services       map[reflect.Type]any
	controllers    map[string]Controller
	middleware     []mux.MiddlewareFunc
	migrations     MigrationManager
}

func (app *application) DB() *pgxpool.Pool {
	return app.pool
}

func (app *application) EventPublisher() eventbus.EventBus {
	return app.eventPublisher
}

func (app *application) Logger() *logrus.Logger {
	return app.logger
}

// Controllers returns the registered controllers ordered by key.
func (app *application) Controllers() []Controller {
	controllers := make([]Controller, 0, len(app.controllers))
	for _, c := range app.controllers {
		controllers = append(controllers, c)
	}
	sort.Slice(controllers, func(i, j int) bool { return controllers[i].Key() < controllers[j].Key() })
	return controllers
}

func (app *application) Middleware() []mux.MiddlewareFunc {
	return app.middleware
}

func (app *application) Migrations() MigrationManager {
	return app.migrations
}

func (app *application) RegisterControllers(controllers ...Controller) {
	for _, c := range controllers {
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

// RegisterServices registers services keyed by their pointed-to type.
func (app *application) RegisterServices(services ...any) {
	for _, service := range services {
		serviceType := reflect.TypeOf(service).Elem()
		app.services[serviceType] = service
	}
}

// Service retrieves a service by its type, e.g. app.Service(services.OrgService{}).
func (app *application) Service(service any) any {
	serviceType := reflect.TypeOf(service)
	svc, exists := app.services[serviceType]
	if !exists {
		panic(fmt.Sprintf("service %s not found", serviceType.Name()))
	}
	return svc
}

func (app *application) Services() map[reflect.Type]any {
	return app.services
}

// LoadModules registers every module with app, stopping at the first failure.
func LoadModules(app Application, modules ...Module) error {
	for _, m := range modules {
		if err := m.Register(app); err != nil {
			return fmt.Errorf("module %s: %w", m.Name(), err)
		}
	}
	return nil
}
