package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	jwttoken "genecuration/internal/jwt_token"
	"genecuration/internal/platform/config"
	"genecuration/internal/platform/httpserver"
	"genecuration/internal/platform/logger"
	"genecuration/internal/platform/middleware"
	"genecuration/internal/platform/outbox"
	platformredis "genecuration/internal/platform/redis"
	"genecuration/internal/workflow/handler"
	"genecuration/internal/workflow/metrics"
	"genecuration/internal/workflow/service"
	"genecuration/internal/workflow/store/memory"
	"genecuration/internal/workflow/store/postgres"
	redisstore "genecuration/internal/workflow/store/redis"
	"genecuration/internal/workflow/uniqueness"
)

const shutdownTimeout = 10 * time.Second

type workflowStore interface {
	service.Store
	service.StoreTx
}

// backend is the selected persistence plus what main must health-check and
// close on the way out.
type backend struct {
	store   workflowStore
	db      *sql.DB
	checks  map[string]httpserver.HealthCheck
	closers []func() error
}

func (b *backend) close(log *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal/workflow.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close(log)

	svc := service.New(b.store, b.store,
		service.WithLogger(log),
		service.WithMetrics(metrics.New(prometheus.DefaultRegisterer)),
		service.WithEnforcer(uniqueness.New(
			uniqueness.WithMaxAttempts(cfg.Workflow.SlotClaimAttempts),
			uniqueness.WithLogger(log),
		)),
	)

	var relay *outbox.Relay
	if b.db != nil && len(cfg.Kafka.Brokers) > 0 {
		pub, err := outbox.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return err
		}
		defer pub.Close()
		if err := pub.EnsureTopic(ctx, 1, -1); err != nil {
			return err
		}
		b.checks["kafka"] = pub.Ping
		relay = outbox.NewRelay(b.db, pub,
			outbox.WithInterval(cfg.Outbox.PollInterval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithLogger(log),
			outbox.WithMetrics(outbox.NewMetrics(prometheus.DefaultRegisterer)),
		)
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer)
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(middleware.RequestTime)
	r.Get("/healthz", httpserver.Health(b.checks))
	r.Handle("/metrics", promhttp.Handler())
	handler.New(svc, log, jwttoken.NewJWTServiceAdapter(jwtService)).Register(r)

	srv := httpserver.New(cfg.Addr, r,
		httpserver.WithWriteTimeout(httpserver.WriteTimeoutFor(cfg.Workflow.SlotClaimAttempts, cfg.Workflow.TxTimeout)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting curation workflow server", "addr", cfg.Addr, "store_backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error {
			log.Info("starting outbox relay", "topic", cfg.Kafka.AuditTopic)
			return relay.Run(gctx)
		})
	}
	return g.Wait()
}

func openBackend(ctx context.Context, cfg config.Server) (*backend, error) {
	b := &backend{checks: make(map[string]httpserver.HealthCheck)}
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Database.Driver, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			b.close(slog.Default())
			return nil, err
		}
		b.db = db
		b.store = postgres.New(db, postgres.WithTxTimeout(cfg.Workflow.TxTimeout))
		b.checks["postgres"] = db.PingContext
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, client.Close)
		b.store = redisstore.New(client.Client)
		b.checks["redis"] = client.Health
	default:
		b.store = memory.New()
	}
	return b, nil
}
