package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/promo-engine/internal/domain/promotion"
	"github.com/xenking/promo-engine/internal/handler"
	"github.com/xenking/promo-engine/internal/outbox"
	"github.com/xenking/promo-engine/internal/storage/postgres"
	"github.com/xenking/promo-engine/pkg/health"
	"github.com/xenking/promo-engine/pkg/httpmiddleware"
)

const serviceName = "promo-api"

// Run creates all dependencies, starts the HTTP server and the outbox relay,
// and handles graceful shutdown. It is the single wiring point for the
// application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	svc, err := promotion.NewService(postgres.NewPromotionRepository(pool),
		promotion.WithLogger(lg.Named("promotion")),
		promotion.WithMeterProvider(m.MeterProvider()),
		promotion.WithTracerProvider(m.TracerProvider()),
		promotion.WithMaxCommitAttempts(cfg.Engine.MaxCommitAttempts),
	)
	if err != nil {
		return errors.Wrap(err, "create promotion service")
	}

	// Health check service.
	healthSvc := health.New(
		health.WithThresholds(cfg.Health.Thresholds),
		health.WithLogger(lg.Named("health")),
	)
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc", time.Second, health.GCMaxPauseCheck(5*time.Second))
	healthSvc.Start(ctx, cfg.Health.Interval)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	handler.NewHandler(svc).Register(mux)

	routeFinder := httpmiddleware.MakeRouteFinder(mux)
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(cfg.CORS),
			httpmiddleware.RateLimit(ctx, cfg.RateLimit, httpmiddleware.TenantKey),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument(serviceName, routeFinder, m),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Labeler(routeFinder),
		),
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Outbox.Enabled {
		writer := outbox.NewWriter(cfg.Outbox.Kafka)
		relay := outbox.NewRelay(postgres.NewOutboxRepository(pool), writer, cfg.Outbox.Kafka, lg.Named("outbox"))
		g.Go(func() error {
			defer func() {
				if err := writer.Close(); err != nil {
					lg.Warn("Close kafka writer", zap.Error(err))
				}
			}()
			return relay.Run(gctx)
		})
	} else {
		lg.Info("Outbox relay disabled, events stay in the outbox table")
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	g.Go(func() error {
		healthSvc.SetReady(true)
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	return g.Wait()
}
