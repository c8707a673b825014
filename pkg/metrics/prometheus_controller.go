package metrics

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spkampus/portal/pkg/application"
)

type PrometheusController struct {
	path string
}

func NewPrometheusController(path string) application.Controller {
	if path == "" {
		path = "/debug/prometheus"
	}
	return &PrometheusController{path: path}
}

func (c *PrometheusController) Key() string {
	return c.path
}

func (c *PrometheusController) Register(r *mux.Router) {
	r.Handle(c.path, promhttp.Handler()).Methods(http.MethodGet)
}
