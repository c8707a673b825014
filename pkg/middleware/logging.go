package middleware

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/spkampus/portal/pkg/composables"
	"github.com/spkampus/portal/pkg/constants"
)

type LoggerOptions struct {
	// RequestIDHeader is read for an incoming request id; one is generated when absent.
	RequestIDHeader string
	// RealIPHeader overrides RemoteAddr when set by a trusted proxy.
	RealIPHeader string
	// APIPrefixes get a JSON body when a panic is recovered.
	APIPrefixes []string
	Repanic     bool
}

func DefaultLoggerOptions() LoggerOptions {
	return LoggerOptions{
		RequestIDHeader: constants.DefaultRequestIDHeader,
		RealIPHeader:    "X-Real-IP",
		APIPrefixes:     []string{"/org/api"},
	}
}

type statusWriter struct {
	http.ResponseWriter
	statusCode    int
	statusWritten bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.statusWritten {
		w.statusCode = code
		w.statusWritten = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.statusWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int {
	if w.statusCode == 0 {
		return http.StatusOK
	}
	return w.statusCode
}

func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func realIP(r *http.Request, header string) string {
	if header != "" {
		if v := r.Header.Get(header); v != "" {
			return v
		}
	}
	return r.RemoteAddr
}

func requestID(r *http.Request, header string) string {
	if header != "" {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return uuid.New().String()
}

var tracer = otel.Tracer("github.com/spkampus/portal/pkg/middleware")

// WithLogger gives every request an id, a request-scoped logrus entry and a
// server span, logs its completion, and turns panics into 500 responses.
func WithLogger(logger *logrus.Logger, opts LoggerOptions) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := requestID(r, opts.RequestIDHeader)
			ip := realIP(r, opts.RealIPHeader)

			entry := logger.WithFields(logrus.Fields{
				"request-id": reqID,
				"path":       r.URL.Path,
				"method":     r.Method,
			})

			propagator := propagation.TraceContext{}
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, "http.request",
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.route", r.URL.Path),
					attribute.String("http.user_agent", r.UserAgent()),
					attribute.String("http.request_id", reqID),
					attribute.String("net.peer.ip", ip),
				),
			)
			defer span.End()

			if sc := span.SpanContext(); sc.HasTraceID() {
				w.Header().Set("X-Trace-Id", sc.TraceID().String())
				entry = entry.WithField("trace-id", sc.TraceID().String())
			}
			w.Header().Set("X-Request-Id", reqID)

			ctx = composables.WithLogger(ctx, entry)
			ctx = composables.WithParams(ctx, &composables.Params{
				RequestID: reqID,
				IP:        ip,
				UserAgent: r.UserAgent(),
			})

			sw := &statusWriter{ResponseWriter: w}
			defer func() {
				recovered := recover()
				if recovered == nil {
					return
				}
				entry.WithFields(logrus.Fields{
					"panic":    recovered,
					"stack":    string(debug.Stack()),
					"duration": time.Since(start),
				}).Error("panic recovered in request handler")
				span.SetAttributes(attribute.Int("http.status_code", http.StatusInternalServerError))

				if !sw.statusWritten {
					if isAPIPath(r.URL.Path, opts.APIPrefixes) {
						sw.Header().Set("Content-Type", "application/json")
						sw.WriteHeader(http.StatusInternalServerError)
						_ = json.NewEncoder(sw).Encode(map[string]any{
							"code":    "INTERNAL_SERVER_ERROR",
							"message": "internal server error",
							"meta":    map[string]string{"request_id": reqID},
						})
					} else {
						http.Error(sw, "Internal Server Error", http.StatusInternalServerError)
					}
				}
				if opts.Repanic {
					panic(recovered)
				}
			}()

			next.ServeHTTP(sw, r.WithContext(ctx))

			status := sw.Status()
			duration := time.Since(start)
			span.SetAttributes(
				attribute.Int("http.status_code", status),
				attribute.Int64("http.request_duration_ms", duration.Milliseconds()),
			)
			entry.WithFields(logrus.Fields{
				"duration":     duration,
				"status-code":  status,
				"status-class": status / 100,
			}).Info("request completed")
		})
	}
}

func isAPIPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
