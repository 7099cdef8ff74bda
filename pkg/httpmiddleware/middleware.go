// Package httpmiddleware contains the net/http middleware chain of the
// promotion API: panic recovery, CORS, per-tenant rate limiting, request ids,
// request-scoped zap loggers and OpenTelemetry instrumentation.
package httpmiddleware

import (
	"net/http"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Middleware decorates an http.Handler.
type Middleware func(next http.Handler) http.Handler

// Wrap applies middlewares so that the first one is the outermost.
func Wrap(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// RouteFinder returns the route pattern that serves r, or "" when none does.
type RouteFinder func(r *http.Request) string

// MakeRouteFinder resolves routes against mux without dispatching.
func MakeRouteFinder(mux *http.ServeMux) RouteFinder {
	return func(r *http.Request) string {
		_, pattern := mux.Handler(r)
		return pattern
	}
}

// InjectLogger stores lg, tagged with the request id when present, in the
// request context for zctx.From.
func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqLg := lg
			if id := RequestIDFromContext(r.Context()); id != "" {
				reqLg = lg.With(zap.String("request_id", id))
			}
			ctx := zctx.Base(r.Context(), reqLg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Telemetry provides the meter and tracer providers used by Instrument.
// *app.Telemetry from go-faster/sdk satisfies it.
type Telemetry interface {
	MeterProvider() metric.MeterProvider
	TracerProvider() trace.TracerProvider
}

// Instrument wraps handlers with otelhttp. Spans are named after the
// matched route so that path parameters do not explode cardinality.
func Instrument(serviceName string, find RouteFinder, t Telemetry) Middleware {
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, serviceName,
			otelhttp.WithMeterProvider(t.MeterProvider()),
			otelhttp.WithTracerProvider(t.TracerProvider()),
			otelhttp.WithSpanNameFormatter(func(op string, r *http.Request) string {
				if route := find(r); route != "" {
					return route
				}
				return op
			}),
		)
	}
}

// Labeler adds the matched route to otelhttp metrics.
func Labeler(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if route := find(r); route != "" {
				l, _ := otelhttp.LabelerFromContext(r.Context())
				l.Add(attribute.String("http.route", route))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LogRequests logs one line per request with the logger from the context.
func LogRequests(find RouteFinder) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Int("bytes", sw.bytes),
				zap.Duration("duration", time.Since(start)),
			}
			if route := find(r); route != "" {
				fields = append(fields, zap.String("route", route))
			}
			if tenant := r.Header.Get(TenantHeader); tenant != "" {
				fields = append(fields, zap.String("tenant", tenant))
			}

			lg := zctx.From(r.Context())
			switch {
			case sw.status >= http.StatusInternalServerError:
				lg.Error("Request failed", fields...)
			case sw.status >= http.StatusBadRequest:
				lg.Info("Request rejected", fields...)
			default:
				lg.Debug("Request served", fields...)
			}
		})
	}
}

// TenantHeader carries the tenant id of every API request.
const TenantHeader = "X-Tenant-ID"

type statusWriter struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
