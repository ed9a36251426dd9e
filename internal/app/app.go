package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/pharmacy-api/internal/domain/auth"
	"github.com/xenking/pharmacy-api/internal/domain/cart"
	"github.com/xenking/pharmacy-api/internal/domain/coupon"
	"github.com/xenking/pharmacy-api/internal/domain/order"
	"github.com/xenking/pharmacy-api/internal/handler"
	"github.com/xenking/pharmacy-api/pkg/health"
	"github.com/xenking/pharmacy-api/pkg/httpmiddleware"
)

const serviceName = "pharmacy-api"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage),
		zap.Bool("redis_carts", cfg.Redis.URL != ""),
	)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Health check service.
	healthSvc := health.New()
	for name, p := range st.readiness {
		healthSvc.AddReadinessCheck(name, 5*time.Second, health.PingCheck(name, p))
	}
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)

	h, err := newHandler(st, cfg, m.MeterProvider())
	if err != nil {
		return err
	}
	authn := auth.NewAuthenticator(st.apiKeys, []byte(cfg.APIKeyPepper))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, h, authn, healthSvc, m.TracerProvider(), m.MeterProvider()),
	}
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
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
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newHandler builds the domain services over st.
func newHandler(st *stores, cfg *Config, mp metric.MeterProvider) (*handler.Handler, error) {
	pricing, err := cfg.Pricing.Policy()
	if err != nil {
		return nil, err
	}
	metrics, err := order.NewMetrics(mp.Meter(serviceName))
	if err != nil {
		return nil, errors.Wrap(err, "order metrics")
	}

	carts := cart.NewService(st.carts, st.products)
	orders := order.NewService(carts, st.products, st.ledger, st.orders,
		order.WithPricing(pricing),
		order.WithCoupons(coupon.NewService(st.coupons)),
		order.WithMetrics(metrics),
	)
	return handler.NewHandler(carts, orders), nil
}

// newRouter mounts probes and the API behind the middleware chain. The chain
// is attached with Use so route patterns are resolved before logging and
// span naming.
func newRouter(
	ctx context.Context,
	cfg *Config,
	h *handler.Handler,
	authn handler.Authenticator,
	healthSvc *health.Health,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RequestID(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
			Max:     cfg.RateLimit.Max,
			Window:  cfg.RateLimit.Window,
			KeyFunc: httpmiddleware.HeaderOrClientIP(handler.APIKeyHeader),
		}),
		httpmiddleware.Instrument(serviceName, tp, mp, "/livez", "/readyz"),
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	r.Mount("/api/v1", h.Routes(authn))
	return r
}
