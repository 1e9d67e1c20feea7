package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	billingmodule "github.com/dmitrymomot/voxnote/modules/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing"
	"github.com/dmitrymomot/voxnote/pkg/billing/paddle"
	"github.com/dmitrymomot/voxnote/pkg/config"
	"github.com/dmitrymomot/voxnote/pkg/httpserver"
	"github.com/dmitrymomot/voxnote/pkg/logger"
	"github.com/dmitrymomot/voxnote/pkg/pg"
	"github.com/dmitrymomot/voxnote/pkg/redis"
	"github.com/dmitrymomot/voxnote/pkg/usage"
)

type appConfig struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	Environment     string        `env:"APP_ENV" envDefault:"production"`

	PlanCatalogPath string `env:"PLAN_CATALOG_PATH" envDefault:"plans.yaml"`

	WebhookDedupTTL time.Duration `env:"WEBHOOK_DEDUP_TTL" envDefault:"24h"`
}

func main() {
	var cfg appConfig
	config.MustLoad(&cfg)
	var pgCfg pg.Config
	config.MustLoad(&pgCfg)
	var paddleCfg paddle.Config
	config.MustLoad(&paddleCfg)
	var redisCfg redis.Config
	config.MustLoad(&redisCfg)

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logOpts := []logger.Option{logger.WithLevel(level)}
	if cfg.Environment == "development" {
		logOpts = append(logOpts, logger.WithDevelopment("voxnote"))
	} else {
		logOpts = append(logOpts, logger.WithProduction("voxnote"))
	}
	log := logger.New(logOpts...)
	logger.SetAsDefault(log)

	ctx := context.Background()

	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		log.Error("failed to connect to postgres", "error", err)
		panic(err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
		log.Error("failed to apply migrations", "error", err)
		panic(err)
	}

	planStore := billing.NewPostgresPlanStore(pool)
	subStore := billing.NewPostgresSubscriptionStore(pool)

	if err := billing.SeedCatalog(ctx, planStore, cfg.PlanCatalogPath); err != nil {
		log.Error("failed to seed plan catalog", "error", err)
		panic(err)
	}

	redisClient, err := redis.Connect(ctx, redisCfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic(err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("failed to close redis client", "error", err)
		}
	}()

	gateway, err := paddle.NewGateway(paddleCfg)
	if err != nil {
		log.Error("failed to initialize billing gateway", "error", err)
		panic(err)
	}
	verifier := paddle.NewSignatureVerifier(paddleCfg.WebhookSecret)

	resolver := billing.NewResolver(subStore, planStore, gateway, log)

	var serviceOpts []billing.ServiceOption
	if paddleCfg.PortalURL != "" {
		serviceOpts = append(serviceOpts, billing.WithStaticPortalURL(paddleCfg.PortalURL))
	}
	service := billing.NewService(resolver, subStore, planStore, gateway, log, serviceOpts...)

	deduper := billing.NewRedisDeduper(redisClient, cfg.WebhookDedupTTL)
	ingestor := billing.NewIngestor(subStore, planStore, deduper, log)

	transcriptionLedger, err := usage.NewPostgresLedger(pool, usage.TableTranscriptionUsage)
	if err != nil {
		panic(err)
	}
	exportLedger, err := usage.NewPostgresLedger(pool, usage.TableExportUsage)
	if err != nil {
		panic(err)
	}
	transcriptionMeter := usage.NewMeter(resolver, transcriptionLedger, usage.TranscriptionMinutes(), log)
	exportMeter := usage.NewMeter(resolver, exportLedger, usage.DocumentExports(), log)

	metrics := billingmodule.NewMetrics(nil)
	handler := billingmodule.NewHandler(
		resolver, service,
		transcriptionMeter, exportMeter,
		verifier, ingestor,
		metrics, log,
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Mount("/billing", billingmodule.Router(handler))
	r.Handle("/metrics", promhttp.Handler())

	probes := []func(context.Context) error{
		pg.Healthcheck(pool),
		redis.Healthcheck(redisClient),
	}
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		for _, probe := range probes {
			if err := probe(r.Context()); err != nil {
				log.ErrorContext(r.Context(), "healthcheck failed", "error", err)
				http.Error(w, "unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := httpserver.New(
		httpserver.WithAddr(cfg.HTTPAddr),
		httpserver.WithLogger(log),
		httpserver.WithShutdownTimeout(cfg.ShutdownTimeout),
		httpserver.WithReadTimeout(15*time.Second),
		httpserver.WithWriteTimeout(30*time.Second),
	)

	if err := srv.Run(ctx, r); err != nil {
		log.Error("http server stopped with error", "error", err)
		panic(err)
	}

	log.Info("server stopped")
}
