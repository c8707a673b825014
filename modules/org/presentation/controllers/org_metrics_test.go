package controllers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestInstrumentAPI_UsesFixedEndpointLabel(t *testing.T) {
	c := &OrgAPIController{}
	before := requestCount(t, "org.test.endpoint", "4xx")

	handler := c.instrumentAPI("org.test.endpoint", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rr := httptest.NewRecorder()
	handler(rr, httptest.NewRequest(http.MethodGet, "/org/api/units/7d1c4f6e-6d0e-4c57-8a57-3c1f0f3f2a11", nil))

	require.Equal(t, http.StatusTeapot, rr.Code)
	require.Equal(t, before+1, requestCount(t, "org.test.endpoint", "4xx"))
}

func TestInstrumentAPI_ImplicitOK(t *testing.T) {
	c := &OrgAPIController{}
	before := requestCount(t, "org.test.implicit", "2xx")

	handler := c.instrumentAPI("org.test.implicit", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	handler(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/org/api/tree", nil))

	require.Equal(t, before+1, requestCount(t, "org.test.implicit", "2xx"))
}

func TestResultClass(t *testing.T) {
	require.Equal(t, "2xx", resultClass(http.StatusCreated))
	require.Equal(t, "4xx", resultClass(http.StatusConflict))
	require.Equal(t, "5xx", resultClass(http.StatusServiceUnavailable))
	require.Equal(t, "unknown", resultClass(0))
}

func requestCount(t *testing.T, endpoint, result string) float64 {
	t.Helper()
	mfs, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "org_api_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := labelsToMap(m)
			if labels["endpoint"] == endpoint && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsToMap(m *dto.Metric) map[string]string {
	out := map[string]string{}
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}
