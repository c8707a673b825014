package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	internalserver "github.com/spkampus/portal/internal/server"
	"github.com/spkampus/portal/pkg/configuration"
	"github.com/spkampus/portal/pkg/logging"
	"github.com/spkampus/portal/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(ctx, conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to " + conf.OpenTelemetry.TempoURL)
	}

	rt, err := internalserver.NewRuntime(ctx, conf, logger)
	if err != nil {
		log.Fatalf("failed to initialise application: %v", err)
	}
	defer rt.Close()

	if conf.Org.StoreBackend == "postgres" && conf.Org.AutoMigrate {
		if _, err := rt.App.Migrations().Up(ctx); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}

	if conf.Prometheus.Enabled {
		rt.App.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   rt.App,
		Pool:          rt.Pool,
	})
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
