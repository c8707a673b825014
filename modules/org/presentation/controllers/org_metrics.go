package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	orgAPIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "org",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Org API requests by endpoint and status class.",
	}, []string{"endpoint", "result"})

	orgAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "org",
		Subsystem: "api",
		Name:      "latency_seconds",
		Help:      "Org API request latency by endpoint and status class.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"endpoint", "result"})
)

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// resultClass buckets a status code as "2xx", "4xx" and so on.
func resultClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// instrumentAPI labels requests with a fixed endpoint name so path ids never
// reach the metric cardinality.
func (c *OrgAPIController) instrumentAPI(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		result := resultClass(rec.status)
		orgAPIRequests.WithLabelValues(endpoint, result).Inc()
		orgAPILatency.WithLabelValues(endpoint, result).Observe(time.Since(start).Seconds())
	}
}
