package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"zodiac/internal/admin"
	"zodiac/internal/audit"
	"zodiac/internal/channel/telegram"
	"zodiac/internal/content"
	"zodiac/internal/conversation/dispatcher"
	"zodiac/internal/conversation/machine"
	convmetrics "zodiac/internal/conversation/metrics"
	"zodiac/internal/conversation/prompts"
	convstore "zodiac/internal/conversation/store"
	"zodiac/internal/delivery"
	"zodiac/internal/platform/config"
	"zodiac/internal/platform/httpserver"
	"zodiac/internal/platform/logger"
	"zodiac/internal/platform/metrics"
	"zodiac/internal/platform/postgres"
	platformredis "zodiac/internal/platform/redis"
	profilestore "zodiac/internal/profile/store"
	"zodiac/pkg/platform/circuit"
)

const shutdownGrace = 10 * time.Second

// main wires high-level dependencies and keeps the process lifecycle small.
// Business logic lives in the internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("zodiac exited with error", "error", err)
		os.Exit(1)
	}
}

type backends struct {
	db    *sql.DB
	redis *platformredis.Client
	kafka *audit.KafkaSink
}

func (b backends) close(ctx context.Context) {
	if b.kafka != nil {
		b.kafka.Close(ctx)
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	targets, err := delivery.ParseTargets(cfg.Delivery.MorningAt, cfg.Delivery.EveningAt)
	if err != nil {
		return err
	}

	var be backends
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		be.close(closeCtx)
	}()

	if be.db, err = postgres.Open(ctx, cfg.Postgres); err != nil {
		return err
	}
	if be.redis, err = platformredis.New(ctx, cfg.Redis); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	checks := map[string]admin.HealthCheck{}

	var profiles interface {
		machine.ProfileStore
		delivery.ProfileReader
	}
	if be.db != nil {
		profiles = profilestore.NewPostgres(be.db)
		checks["postgres"] = be.db.PingContext
		log.Info("profile store: postgres")
	} else {
		profiles = profilestore.NewInMemory()
		log.Warn("DATABASE_URL not set, profiles are kept in memory")
	}

	var (
		sessions machine.SessionStore = convstore.NewInMemory()
		ledger   delivery.Ledger      = delivery.NewMemoryLedger()
	)
	if be.redis != nil {
		sessions = convstore.NewRedis(be.redis.Client, convstore.WithTTL(cfg.SessionTTL))
		ledger = delivery.NewRedisLedger(be.redis.Client)
		checks["redis"] = be.redis.Health
		log.Info("session store and delivery ledger: redis")
	}

	auditLog := audit.NewMemorySink(0)
	var sink audit.Sink = auditLog
	if len(cfg.Audit.Brokers) > 0 {
		if be.kafka, err = audit.NewKafkaSink(ctx, cfg.Audit.Brokers, cfg.Audit.Topic); err != nil {
			return err
		}
		sink = audit.FanOut{auditLog, be.kafka}
		log.Info("audit events: kafka", "topic", cfg.Audit.Topic)
	}
	publisher := audit.NewPublisher(cfg.Audit.BufferSize,
		audit.WithPublisherLogger(log),
		audit.WithPublisherMetrics(audit.NewMetrics(reg)),
	)

	client := telegram.NewClient(cfg.Telegram.APIURL, cfg.Telegram.Token, nil)
	channel := telegram.NewChannel(client, log)
	catalog := prompts.Default()

	var preparer delivery.Preparer
	if cfg.Content.URL != "" {
		preparer = content.NewHTTPPreparer(cfg.Content.URL, cfg.Content.Timeout,
			content.WithBreaker(circuit.New("content-service")),
			content.WithHTTPLogger(log),
		)
	} else {
		preparer = content.NewLocalPreparer(profiles, channel, catalog, log)
	}

	scheduler := delivery.New(profiles, preparer,
		delivery.WithLogger(log),
		delivery.WithMetrics(delivery.NewMetrics(reg)),
		delivery.WithAudit(publisher),
		delivery.WithLedger(ledger),
		delivery.WithPollInterval(cfg.Delivery.PollInterval),
		delivery.WithTargets(targets),
		delivery.WithLocation(cfg.Delivery.Location),
	)

	convMetrics := convmetrics.New(reg)
	m := machine.New(profiles, sessions, channel, scheduler, preparer,
		machine.WithLogger(log),
		machine.WithMetrics(convMetrics),
		machine.WithAudit(publisher),
		machine.WithCatalog(catalog),
	)
	disp := dispatcher.New(m,
		dispatcher.WithLogger(log),
		dispatcher.WithMetrics(convMetrics),
	)

	if _, err := scheduler.Reconcile(ctx); err != nil {
		log.WarnContext(ctx, "some delivery watchers failed to start", "error", err)
	}

	tokens := admin.NewTokenService(cfg.Admin.JWTSigningKey, cfg.Admin.JWTIssuer)
	adminHandler := admin.New(admin.Deps{
		Profiles:  profiles,
		AuditLog:  auditLog,
		Audit:     publisher,
		Deliverer: preparer,
		Watchers:  scheduler,
		Validator: tokens,
		Metrics:   reg.Handler(),
		Checks:    checks,
	}, log)
	srv := httpserver.New(cfg.Server.Addr, adminHandler.Router())

	poller := telegram.NewPoller(client, disp,
		telegram.WithPollTimeout(cfg.Telegram.PollTimeout),
		telegram.WithPollerLogger(log),
	)
	worker := audit.NewWorker(sink, publisher.Events(), log)

	log.InfoContext(ctx, "starting zodiac",
		"addr", cfg.Server.Addr,
		"watchers", len(scheduler.Active()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return httpserver.Run(gctx, srv, shutdownGrace, log) })
	g.Go(func() error {
		<-gctx.Done()
		return drainThenStop(disp, scheduler, shutdownGrace)
	})
	return g.Wait()
}
