package composables

import (
	"context"
	"net/http"

	"github.com/go-playground/form"
	"github.com/sirupsen/logrus"

	"github.com/spkampus/portal/pkg/constants"
)

var queryDecoder = form.NewDecoder()

type Params struct {
	RequestID string
	IP        string
	UserAgent string
}

// UseParams returns the request parameters from the context.
// If the parameters are not found, the second return value will be false.
func UseParams(ctx context.Context) (*Params, bool) {
	params, ok := ctx.Value(constants.ParamsKey).(*Params)
	return params, ok
}

// WithParams returns a new context with the request parameters.
func WithParams(ctx context.Context, params *Params) context.Context {
	return context.WithValue(ctx, constants.ParamsKey, params)
}

func UseRequestID(ctx context.Context) string {
	params, ok := UseParams(ctx)
	if !ok {
		return ""
	}
	return params.RequestID
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request-scoped logger, or a discarding entry when the
// context carries none.
func UseLogger(ctx context.Context) *logrus.Entry {
	if ctx != nil {
		switch typed := ctx.Value(constants.LoggerKey).(type) {
		case *logrus.Entry:
			return typed
		case *logrus.Logger:
			return logrus.NewEntry(typed)
		}
	}
	return logrus.NewEntry(discardLogger)
}

// TryUseLogger is UseLogger without the fallback.
func TryUseLogger(ctx context.Context) (*logrus.Entry, bool) {
	if ctx == nil {
		return nil, false
	}
	switch typed := ctx.Value(constants.LoggerKey).(type) {
	case *logrus.Entry:
		return typed, true
	case *logrus.Logger:
		return logrus.NewEntry(typed), true
	default:
		return nil, false
	}
}

// UseQuery decodes URL query parameters into v using `form` struct tags.
func UseQuery[T any](v *T, r *http.Request) (*T, error) {
	return v, queryDecoder.Decode(v, r.URL.Query())
}

// GetLastQueryParam returns the last occurrence of a query parameter.
func GetLastQueryParam(r *http.Request, key string) string {
	values := r.URL.Query()[key]
	if len(values) > 0 {
		return values[len(values)-1]
	}
	return ""
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(nopWriter{})
	return l
}()

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }
