package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/api"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/catalog"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/checkout"
	appconfig "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/config"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/events"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/idempotency"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/paypal"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/pricing"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/secrets"
	postgres "github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/storage/postgres"
	"github.com/AnthonyGillesRudolfo/paypal-checkout-redirect/internal/telemetry"
)

// productSource is what both the pricing engine and the storefront need
// from a catalog.
type productSource interface {
	catalog.Catalog
	catalog.Lister
}

func main() {
	app := fx.New(
		fx.Provide(
			loadConfig,
			newLogger,
			newProductSource,
			newPricingEngine,
			newReplayStore,
			newPayPalClient,
			newAuditor,
			newCheckoutService,
			newHandler,
		),
		fx.Invoke(
			setupTelemetry,
			registerWebServer,
			registerHealthServer,
		),
	)
	app.Run()
}

// loadConfig reads .env, then OpenBao, then the environment. Values already
// in the environment win over .env.
func loadConfig() (appconfig.Config, error) {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := secrets.Bootstrap(ctx, secrets.ConfigFromEnv(), os.Setenv); err != nil {
		return appconfig.Config{}, err
	}
	return appconfig.Load()
}

func newLogger(cfg appconfig.Config) *slog.Logger {
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel, cfg.ServiceName)
	slog.SetDefault(logger)
	return logger
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config, logger *slog.Logger) {
	if !cfg.Telemetry.Enabled {
		return
	}
	var shutdown func(context.Context) error
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.InitTracer(ctx, telemetry.TracerConfig{
				ServiceName: cfg.ServiceName,
				Endpoint:    cfg.Telemetry.Endpoint,
			})
			if err != nil {
				return err
			}
			logger.Info("tracing enabled", "endpoint", cfg.Telemetry.Endpoint)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown != nil {
				return shutdown(ctx)
			}
			return nil
		},
	})
}

func newProductSource(lc fx.Lifecycle, cfg appconfig.Config, logger *slog.Logger) (productSource, error) {
	switch cfg.Catalog.Source {
	case appconfig.CatalogFile:
		static, err := catalog.LoadFile(cfg.Catalog.File)
		if err != nil {
			return nil, err
		}
		logger.Info("catalog loaded", "source", "file", "path", cfg.Catalog.File)
		if cfg.Catalog.Watch {
			watchCatalog(lc, static, cfg.Catalog.File, logger)
		}
		return static, nil
	case appconfig.CatalogPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})
		repo := postgres.NewProductRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		logger.Info("catalog loaded", "source", "postgres", "db", cfg.Database.String())
		return repo, nil
	default:
		logger.Info("catalog loaded", "source", "embedded")
		return catalog.Default()
	}
}

func watchCatalog(lc fx.Lifecycle, static *catalog.Static, path string, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				if err := static.Watch(ctx, path, logger); err != nil {
					logger.Error("catalog watch stopped", "path", path, "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}

func newPricingEngine(cfg appconfig.Config, products productSource) *pricing.Engine {
	return pricing.NewEngine(products, cfg.Pricing)
}

// newReplayStore is nil when REDIS_ADDR is unset; the client then relies on
// PayPal-Request-Id alone.
func newReplayStore(lc fx.Lifecycle, cfg appconfig.Config, logger *slog.Logger) idempotency.Store {
	if cfg.Redis.Addr == "" {
		return nil
	}
	store := idempotency.NewRedisStore(cfg.Redis.Addr, cfg.ServiceName, cfg.Redis.ReplayTTL)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := store.Ping(ctx); err != nil {
				logger.Warn("redis unreachable, replays fall through to PayPal", "addr", cfg.Redis.Addr, "error", err)
			}
			return nil
		},
		OnStop: func(context.Context) error { return store.Close() },
	})
	return store
}

func newPayPalClient(cfg appconfig.Config, store idempotency.Store, logger *slog.Logger) (*paypal.Client, error) {
	opts := []paypal.Option{paypal.WithLogger(logger)}
	if store != nil {
		opts = append(opts, paypal.WithReplayStore(store))
	}
	logger.Info("paypal client configured", "mode", cfg.PayPal.Mode, "base_url", cfg.PayPal.BaseURL)
	return paypal.NewClient(cfg.PayPal.Client(), opts...)
}

func newAuditor(lc fx.Lifecycle, cfg appconfig.Config, logger *slog.Logger) checkout.Auditor {
	if !cfg.Kafka.Enabled() {
		logger.Info("KAFKA_BROKERS not set, audit events go to the log")
		return checkout.LogAuditor{Logger: logger}
	}
	prod := events.NewProducer(cfg.Kafka.Brokers)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return prod.Close() }})
	return events.NewCheckoutAuditor(prod, cfg.Kafka.AuditTopic)
}

func newCheckoutService(engine *pricing.Engine, client *paypal.Client, auditor checkout.Auditor, logger *slog.Logger) *checkout.Service {
	return checkout.NewService(engine, client,
		checkout.WithAuditor(auditor),
		checkout.WithLogger(logger),
	)
}

func newHandler(cfg appconfig.Config, svc *checkout.Service, products productSource, logger *slog.Logger) (*api.Handler, error) {
	return api.NewHandler(svc, products, api.HandlerConfig{
		Currency:      cfg.Pricing.Currency,
		PublicBaseURL: cfg.HTTP.PublicBaseURL,
		Logger:        logger,
	})
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, h *api.Handler, logger *slog.Logger, shutdowner fx.Shutdowner) {
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				return err
			}
			go func() {
				logger.Info("checkout listening", "addr", cfg.HTTP.Addr)
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", "error", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

// registerHealthServer exposes grpc.health.v1 for orchestrators that probe
// over gRPC. Disabled unless GRPC_HEALTH_ADDR is set.
func registerHealthServer(lc fx.Lifecycle, cfg appconfig.Config, logger *slog.Logger) {
	if cfg.GRPC.HealthAddr == "" {
		return
	}
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", cfg.GRPC.HealthAddr)
			if err != nil {
				return err
			}
			hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
			go func() {
				logger.Info("grpc health listening", "addr", cfg.GRPC.HealthAddr)
				if err := srv.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
					logger.Error("grpc health server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			hs.Shutdown()
			srv.GracefulStop()
			return nil
		},
	})
}

var (
	_ productSource = (*postgres.ProductRepository)(nil)
	_ productSource = (*catalog.Static)(nil)
)
