package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/spkampus/portal/pkg/composables"
)

func TestWithLogger_PropagatesRequestID(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	var seenID string
	h := WithLogger(logger, DefaultLoggerOptions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = composables.UseRequestID(r.Context())
		_, ok := composables.TryUseLogger(r.Context())
		require.True(t, ok)
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/org/api/units", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "req-42", seenID)
	require.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))

	last := hook.LastEntry()
	require.NotNil(t, last)
	require.Equal(t, "request completed", last.Message)
	require.Equal(t, http.StatusCreated, last.Data["status-code"])
}

func TestWithLogger_GeneratesRequestID(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := WithLogger(logger, DefaultLoggerOptions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Len(t, rec.Header().Get("X-Request-Id"), 36)
}

func TestWithLogger_RecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := WithLogger(logger, DefaultLoggerOptions())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/org/api/tree", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INTERNAL_SERVER_ERROR", body["code"])
	require.Equal(t, "panic recovered in request handler", hook.LastEntry().Message)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "Internal Server Error")
}

func TestProvide_NilPoolPassesThrough(t *testing.T) {
	called := false
	h := Provide(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, err := composables.UsePool(r.Context())
		require.ErrorIs(t, err, composables.ErrNoPool)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, called)
}
