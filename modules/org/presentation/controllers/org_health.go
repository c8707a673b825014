package controllers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/spkampus/portal/modules/org/services"
	"github.com/spkampus/portal/pkg/application"
)

type healthStatus string

const (
	healthStatusHealthy  healthStatus = "healthy"
	healthStatusDegraded healthStatus = "degraded"
	healthStatusDown     healthStatus = "down"
)

const (
	dbDegradedLatency   = 100 * time.Millisecond
	treeDegradedLatency = time.Second
	healthCheckTimeout  = 5 * time.Second
)

type healthResponse struct {
	Status    healthStatus   `json:"status"`
	Timestamp string         `json:"timestamp"`
	Checks    map[string]any `json:"checks"`
}

type componentHealth struct {
	Status       healthStatus   `json:"status"`
	ResponseTime string         `json:"responseTime,omitempty"`
	Error        string         `json:"error,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// HealthOptions describes the configured backends reported by /health.
type HealthOptions struct {
	StoreBackend string
	CacheEnabled bool
	CacheBackend string
}

type HealthController struct {
	app  application.Application
	org  *services.OrgService
	opts HealthOptions
}

func NewHealthController(app application.Application, opts HealthOptions) application.Controller {
	return &HealthController{
		app:  app,
		org:  app.Service(services.OrgService{}).(*services.OrgService),
		opts: opts,
	}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.GetHealth).Methods(http.MethodGet)
}

func (c *HealthController) GetHealth(w http.ResponseWriter, r *http.Request) {
	response := c.performChecks(r.Context())

	status := http.StatusOK
	if response.Status == healthStatusDown {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (c *HealthController) performChecks(ctx context.Context) healthResponse {
	checks := make(map[string]any)
	overall := healthStatusHealthy

	db := c.checkDatabase(ctx)
	checks["database"] = db
	overall = mergeHealthStatus(overall, db.Status)

	tree := c.checkTree(ctx)
	checks["tree"] = tree
	overall = mergeHealthStatus(overall, tree.Status)

	checks["cache"] = componentHealth{
		Status: healthStatusHealthy,
		Details: map[string]any{
			"enabled": c.opts.CacheEnabled,
			"backend": c.opts.CacheBackend,
		},
	}

	return healthResponse{
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
	}
}

func mergeHealthStatus(current, next healthStatus) healthStatus {
	if next == healthStatusDown {
		return healthStatusDown
	}
	if next == healthStatusDegraded && current == healthStatusHealthy {
		return healthStatusDegraded
	}
	return current
}

func (c *HealthController) checkDatabase(ctx context.Context) componentHealth {
	if c.opts.StoreBackend == "memory" {
		return componentHealth{
			Status:  healthStatusHealthy,
			Details: map[string]any{"backend": "memory"},
		}
	}

	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	db := c.app.DB()
	if db == nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: time.Since(start).String(),
			Error:        "database connection pool not available",
		}
	}

	var result int
	err := db.QueryRow(timeoutCtx, "SELECT 1").Scan(&result)
	elapsed := time.Since(start)
	if err != nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: elapsed.String(),
			Error:        fmt.Sprintf("database query failed: %v", err),
		}
	}

	status := healthStatusHealthy
	if elapsed > dbDegradedLatency {
		status = healthStatusDegraded
	}
	return componentHealth{
		Status:       status,
		ResponseTime: elapsed.String(),
		Details:      map[string]any{"backend": "postgres"},
	}
}

// checkTree composes today's active tree end to end.
func (c *HealthController) checkTree(ctx context.Context) componentHealth {
	start := time.Now()
	timeoutCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	tree, err := c.org.ComposeTree(timeoutCtx, services.TreeFilter{ActiveOnly: true})
	elapsed := time.Since(start)
	if err != nil {
		return componentHealth{
			Status:       healthStatusDown,
			ResponseTime: elapsed.String(),
			Error:        err.Error(),
		}
	}

	status := healthStatusHealthy
	if elapsed > treeDegradedLatency {
		status = healthStatusDegraded
	}
	return componentHealth{
		Status:       status,
		ResponseTime: elapsed.String(),
		Details: map[string]any{
			"units":     tree.Stats.Units,
			"positions": tree.Stats.Positions,
			"holders":   tree.Stats.Holders,
		},
	}
}
