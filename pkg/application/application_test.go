package application

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"
)

type keyedController struct{ key string }

func (c keyedController) Register(*mux.Router) {}
func (c keyedController) Key() string          { return c.key }

type greeter struct{ name string }

func TestApplication_ControllersAreOrderedAndDeduplicated(t *testing.T) {
	app := New(&ApplicationOptions{})
	app.RegisterControllers(keyedController{"/b"}, keyedController{"/a"}, keyedController{"/b"})

	keys := []string{}
	for _, c := range app.Controllers() {
		keys = append(keys, c.Key())
	}
	require.Equal(t, []string{"/a", "/b"}, keys)
}

func TestApplication_ServiceRegistry(t *testing.T) {
	app := New(&ApplicationOptions{})
	g := &greeter{name: "hi"}
	app.RegisterServices(g)

	got := app.Service(greeter{}).(*greeter)
	require.Same(t, g, got)
	require.Panics(t, func() { app.Service(keyedController{}) })
	require.NotNil(t, app.EventPublisher())
	require.NotNil(t, app.Logger())
}

type failingModule struct{}

func (failingModule) Name() string               { return "broken" }
func (failingModule) Register(Application) error { return context.Canceled }

func TestLoadModules_StopsAtFirstFailure(t *testing.T) {
	err := LoadModules(New(&ApplicationOptions{}), failingModule{})
	require.ErrorIs(t, err, context.Canceled)
	require.Contains(t, err.Error(), "broken")
}

func TestMigrationManager_DisabledWithoutDSN(t *testing.T) {
	m := NewMigrationManager("", nil)
	m.Register("org", fstest.MapFS{})
	_, err := m.Up(context.Background())
	require.ErrorIs(t, err, ErrMigrationsDisabled)
	_, err = m.Status(context.Background())
	require.ErrorIs(t, err, ErrMigrationsDisabled)
}
