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

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"kycgate/internal/platform/config"
	"kycgate/internal/platform/httpserver"
	"kycgate/internal/platform/logger"
	platformmetrics "kycgate/internal/platform/metrics"
	"kycgate/internal/platform/postgres"
	"kycgate/internal/platform/redis"
	httptransport "kycgate/internal/transport/http"
	"kycgate/internal/verification/handler"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/provider"
	"kycgate/internal/verification/service"
	"kycgate/internal/verification/state/replay"
	"kycgate/internal/verification/store"
	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/platform/audit/publisher"
	"kycgate/pkg/platform/audit/store/failover"
	kafkastore "kycgate/pkg/platform/audit/store/kafka"
	"kycgate/pkg/platform/audit/store/logstore"
	auditpg "kycgate/pkg/platform/audit/store/postgres"
)

const auditBufferSize = 1024

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close(log)

	verificationMetrics := metrics.New(prometheus.DefaultRegisterer)
	svcOpts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(verificationMetrics),
		service.WithAuditPublisher(infra.audit),
	}
	if infra.db != nil {
		records := store.NewPostgres(infra.db)
		if err := records.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("verification schema: %w", err)
		}
		svcOpts = append(svcOpts, service.WithStore(records))
	}
	guard, err := replayGuard(cfg.Verification.ReplayGuard, infra.redis)
	if err != nil {
		return err
	}
	if guard != nil {
		svcOpts = append(svcOpts, service.WithReplayGuard(guard))
	}

	client := provider.New(
		provider.WithHTTPClient(&http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}),
		provider.WithLogger(log),
		provider.WithMetrics(verificationMetrics),
	)
	svc, err := service.New(cfg.Verification, client, svcOpts...)
	if err != nil {
		return err
	}

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:    log,
		Metrics:   platformmetrics.New(prometheus.DefaultRegisterer),
		Gatherer:  prometheus.DefaultGatherer,
		Readiness: infra.readiness(),
		Routes:    []httptransport.Routes{handler.New(svc, log)},
	})
	srv := httpserver.New(cfg.Addr, router, cfg.Verification.Timeout())

	log.Info("starting kyc gateway",
		"addr", cfg.Addr,
		"test_mode", svc.TestMode(),
		"replay_guard", cfg.Verification.ReplayGuard,
		"store", infra.db != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down", "timeout", cfg.ShutdownTimeout.String())
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// infra holds the optional backing services and the audit publisher built on
// top of them.
type infra struct {
	redis  *redis.Client
	db     *sql.DB
	audit  *publisher.Publisher
	closer []func() error
}

func openInfra(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	in := &infra{}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	rdb, err := redis.New(startCtx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		in.redis = rdb
		in.closer = append(in.closer, rdb.Close)
	}

	db, err := postgres.Open(startCtx, cfg.Database)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if db != nil {
		in.db = db
		in.closer = append(in.closer, db.Close)
	}

	sink, err := in.auditSink(startCtx, cfg.Audit, log)
	if err != nil {
		in.close(log)
		return nil, err
	}
	if _, isLog := sink.(*logstore.Store); !isLog {
		sink = failover.New(sink, logstore.New(log),
			failover.WithLogger(log),
			failover.WithMetrics(failover.NewMetrics(prometheus.DefaultRegisterer)),
		)
	}
	in.audit = publisher.NewPublisher(sink,
		publisher.WithAsyncBuffer(auditBufferSize),
		publisher.WithLogger(log),
	)
	return in, nil
}

// auditSink picks Kafka when brokers are configured, then Postgres, then the
// structured log. Kafka and Postgres fail over to the log.
func (in *infra) auditSink(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (audit.Store, error) {
	switch {
	case len(cfg.KafkaBrokers) > 0:
		client, err := kafkastore.NewClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		in.closer = append(in.closer, func() error {
			client.Close()
			return nil
		})
		log.Info("audit sink", "kind", "kafka", "topic", cfg.KafkaTopic)
		return kafkastore.New(client, cfg.KafkaTopic), nil
	case in.db != nil:
		sink := auditpg.New(in.db)
		if err := sink.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("audit schema: %w", err)
		}
		log.Info("audit sink", "kind", "postgres")
		return sink, nil
	default:
		log.Info("audit sink", "kind", "log")
		return logstore.New(log), nil
	}
}

func (in *infra) readiness() map[string]httptransport.Check {
	checks := map[string]httptransport.Check{}
	if in.redis != nil {
		checks["redis"] = in.redis.Health
	}
	if in.db != nil {
		checks["postgres"] = in.db.PingContext
	}
	return checks
}

// close drains the audit publisher before closing the sinks it writes to.
func (in *infra) close(log *slog.Logger) {
	if in.audit != nil {
		in.audit.Close()
	}
	for i := len(in.closer) - 1; i >= 0; i-- {
		if err := in.closer[i](); err != nil {
			log.Warn("close failed", "error", err)
		}
	}
}

func replayGuard(kind string, rdb *redis.Client) (service.ReplayGuard, error) {
	switch kind {
	case config.ReplayGuardMemory:
		return replay.NewMemoryGuard(), nil
	case config.ReplayGuardRedis:
		if rdb == nil {
			return nil, errors.New("KYC_STATE_REPLAY_GUARD=redis requires REDIS_URL")
		}
		return replay.NewRedisGuard(rdb), nil
	default:
		return nil, nil
	}
}
