package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/application"
	"github.com/spkampus/portal/pkg/configuration"
	"github.com/spkampus/portal/pkg/httpapi"
	"github.com/spkampus/portal/pkg/middleware"
	"github.com/spkampus/portal/pkg/server"
)

type DefaultOptions struct {
	Logger        *logrus.Logger
	Configuration *configuration.Configuration
	Application   application.Application
	Pool          *pgxpool.Pool
}

// Default registers the request middleware on the application and builds the
// HTTP server with JSON fallbacks for unknown routes and methods.
func Default(options *DefaultOptions) *server.HTTPServer {
	app := options.Application

	loggerOpts := middleware.DefaultLoggerOptions()
	if h := options.Configuration.RequestIDHeader; h != "" {
		loggerOpts.RequestIDHeader = h
	}
	middlewares := []mux.MiddlewareFunc{
		middleware.WithLogger(options.Logger, loggerOpts),
		middleware.Provide(options.Pool),
	}
	app.RegisterMiddleware(middlewares...)

	return server.NewHTTPServer(
		app,
		http.HandlerFunc(notFound),
		http.HandlerFunc(methodNotAllowed),
		options.Configuration.AllowedOrigins(),
	)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	_ = httpapi.WriteError(w, http.StatusNotFound, "NOT_FOUND", "route not found", nil)
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	_ = httpapi.WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed", nil)
}
