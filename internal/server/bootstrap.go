package server

import (
	"context"
	"time"

	gerrors "github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/modules"
	"github.com/spkampus/portal/modules/org"
	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/application"
	"github.com/spkampus/portal/pkg/configuration"
	"github.com/spkampus/portal/pkg/eventbus"
)

const treeCachePrefix = "spk:org:tree"

// Runtime is an application wired from configuration together with the
// resources it owns.
type Runtime struct {
	App   application.Application
	Pool  *pgxpool.Pool
	Redis *redis.Client

	closers []func()
}

// OnClose registers fn to run on Close.
func (r *Runtime) OnClose(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close releases the resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// NewRuntime connects the configured store and cache and loads the modules.
func NewRuntime(ctx context.Context, conf *configuration.Configuration, logger *logrus.Logger) (*Runtime, error) {
	rt := &Runtime{}

	var dsn string
	if conf.Org.StoreBackend == org.StoreBackendPostgres {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
		if err != nil {
			return nil, gerrors.Wrap(err, "connect postgres")
		}
		rt.Pool = pool
		rt.closers = append(rt.closers, pool.Close)
		dsn = conf.Database.Opts
	}

	cache := newTreeCache(conf, logger, rt)

	rt.App = application.New(&application.ApplicationOptions{
		Pool:        rt.Pool,
		EventBus:    eventbus.NewEventPublisher(logger),
		Logger:      logger,
		DatabaseURL: dsn,
	})
	err := modules.Load(rt.App, &org.ModuleOptions{
		StoreBackend: conf.Org.StoreBackend,
		Cache:        cache,
		CacheBackend: conf.Org.CacheBackend,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func newTreeCache(conf *configuration.Configuration, logger *logrus.Logger, rt *Runtime) services.TreeCache {
	if !conf.Org.CacheEnabled {
		return nil
	}
	if conf.Org.CacheBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: conf.RedisURL})
		rt.Redis = client
		rt.closers = append(rt.closers, func() {
			if err := client.Close(); err != nil {
				logger.WithError(err).Warn("redis close failed")
			}
		})
		return services.NewRedisTreeCache(client, treeCachePrefix, conf.Org.CacheTTL, logger)
	}
	return services.NewMemoryTreeCache(conf.Org.CacheTTL)
}
