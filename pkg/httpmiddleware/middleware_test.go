package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// --- Mock implementations ---

type noopTelemetry struct{}

func (noopTelemetry) MeterProvider() metric.MeterProvider { return metricnoop.NewMeterProvider() }
func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }

// --- Helpers ---

func tag(name string, trail *[]string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*trail = append(*trail, name)
			next.ServeHTTP(w, r)
		})
	}
}

func testMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/promotions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.PathValue("id")))
	})
	mux.HandleFunc("POST /api/v1/apply", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})
	return mux
}

// --- Tests ---

func TestWrap_FirstMiddlewareIsOutermost(t *testing.T) {
	var trail []string
	h := Wrap(okHandler(), tag("a", &trail), tag("b", &trail), tag("c", &trail))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, trail)
}

func TestMakeRouteFinder(t *testing.T) {
	find := MakeRouteFinder(testMux())

	assert.Equal(t, "GET /api/v1/promotions/{id}", find(httptest.NewRequest(http.MethodGet, "/api/v1/promotions/p1", nil)))
	assert.Equal(t, "POST /api/v1/apply", find(httptest.NewRequest(http.MethodPost, "/api/v1/apply", nil)))
	assert.Empty(t, find(httptest.NewRequest(http.MethodGet, "/nope", nil)))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{name: "generated when absent", incoming: ""},
		{name: "reused when valid", incoming: "req-123", reuse: true},
		{name: "replaced when too long", incoming: strings.Repeat("x", 129)},
		{name: "replaced when not printable", incoming: "bad\x01id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			assert.Equal(t, got, seen)
			if tt.reuse {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.Len(t, got, 36)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
		InjectLogger(zap.New(core)),
		Recovery(),
	)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":{"code":"internal","message":"internal server error"}}`, w.Body.String())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Handler panicked", logs.All()[0].Message)
}

func TestRecovery_AbortHandlerPropagates(t *testing.T) {
	h := Recovery()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestInjectLoggerAndLogRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	mux := testMux()
	find := MakeRouteFinder(mux)

	var handlerLogger *zap.Logger
	mux.HandleFunc("GET /api/v1/stats", func(_ http.ResponseWriter, r *http.Request) {
		handlerLogger = zctx.From(r.Context())
	})

	h := Wrap(mux,
		RequestID(),
		InjectLogger(zap.New(core)),
		Instrument("promo-api", find, noopTelemetry{}),
		LogRequests(find),
		Labeler(find),
	)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apply", nil)
	req.Header.Set(TenantHeader, "t1")
	req.Header.Set(RequestIDHeader, "req-1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	entries := logs.FilterMessage("Request rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "POST /api/v1/apply", fields["route"])
	assert.Equal(t, "t1", fields["tenant"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.EqualValues(t, http.StatusUnprocessableEntity, fields["status"])

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	require.NotNil(t, handlerLogger)
	assert.Equal(t, 1, logs.FilterMessage("Request served").Len())
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		cfg        CORSConfig
		origin     string
		preflight  bool
		wantOrigin string
		wantCode   int
	}{
		{name: "any origin", cfg: CORSConfig{}, origin: "https://shop.example", wantOrigin: "*", wantCode: http.StatusOK},
		{name: "listed origin echoed as configured", cfg: CORSConfig{Origins: []string{"https://Admin.example"}}, origin: "https://admin.example", wantOrigin: "https://Admin.example", wantCode: http.StatusOK},
		{name: "unlisted origin", cfg: CORSConfig{Origins: []string{"https://admin.example"}}, origin: "https://evil.example", wantCode: http.StatusOK},
		{name: "credentials never send wildcard", cfg: CORSConfig{AllowCredentials: true}, origin: "https://shop.example", wantOrigin: "https://shop.example", wantCode: http.StatusOK},
		{name: "preflight", cfg: CORSConfig{MaxAge: 600}, origin: "https://shop.example", preflight: true, wantOrigin: "*", wantCode: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/promotions", nil)
			if tt.preflight {
				req = httptest.NewRequest(http.MethodOptions, "/api/v1/promotions", nil)
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", TenantHeader)
			}
			req.Header.Set("Origin", tt.origin)

			w := do(CORS(tt.cfg)(okHandler()), req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.preflight {
				assert.Equal(t, "600", w.Header().Get("Access-Control-Max-Age"))
				assert.Equal(t, TenantHeader, w.Header().Get("Access-Control-Allow-Headers"))
				assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
			}
		})
	}
}
