package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/broadcast"
	"callcenter/internal/calls"
	"callcenter/internal/config"
	"callcenter/internal/disposition"
	"callcenter/internal/httpapi"
	"callcenter/internal/leads"
	"callcenter/internal/migrations"
	"callcenter/internal/notify"
	"callcenter/internal/observability"
	"callcenter/internal/presence"
	"callcenter/internal/reconcile"
	"callcenter/internal/reporting"
	"callcenter/internal/sessions"
	"callcenter/internal/telephony"
	"callcenter/internal/voicemail"
	"callcenter/pkg/logger"
	"callcenter/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(logger.Options{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return err
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.Up(rootCtx, db, log); err != nil {
		return err
	}

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		return err
	}
	defer rdb.Close()

	metrics := observability.NewMetrics("callcenter")

	// Live fan-out: the relay publishes through Redis and every instance delivers locally.
	hub := broadcast.NewHub(cfg.Live.BufferSize, metrics, log)
	relay := broadcast.NewRedisRelay(rdb, broadcast.DefaultChannel, hub, log)

	var registry presence.Registry
	switch cfg.Live.PresenceBackend {
	case "redis":
		registry = presence.NewRedisRegistry(rdb, cfg.Live.PresenceTTL)
	default:
		mem := presence.NewMemoryRegistry(cfg.Live.PresenceTTL)
		mem.StartJanitor(rootCtx, cfg.Live.PresenceTTL)
		registry = mem
	}

	callStore := calls.NewPostgresStore(db)
	sessionStore := sessions.NewPostgresStore(db)
	aggregator := sessions.NewAggregator(sessionStore)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	outbox := notify.NewPostgresOutbox(db)
	leadUpdates := leads.NewPostgresOutbox(db)
	settings := voicemail.NewPostgresSettings(db)

	twilio := telephony.NewTwilioProvider(telephony.TwilioOptions{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.APIBaseURL,
	})

	drops := voicemail.NewOrchestrator(voicemail.Deps{
		Settings: settings,
		Sessions: aggregator,
		Provider: twilio,
		Audit:    auditSvc,
		Outbox:   outbox,
		Metrics:  metrics,
		Log:      log,
	})

	engine := calls.NewEngine(callStore, calls.Deps{
		Counters:  aggregator,
		Events:    relay,
		Voicemail: drops,
		Metrics:   metrics,
		Log:       log,
	})

	dispositions := disposition.NewService(disposition.Deps{
		Calls:   callStore,
		Commit:  disposition.NewPostgresCommitter(db, callStore, sessionStore),
		Leads:   leadUpdates,
		Audit:   auditSvc,
		Outbox:  outbox,
		Events:  relay,
		Metrics: metrics,
		Log:     log,
	})

	webhooks := telephony.WebhookHandler{Engine: engine, Metrics: metrics}
	asynqRedis := reconcile.RedisClientOpt(cfg.RedisAddr())
	var worker *reconcile.Worker
	if cfg.Webhooks.UnmatchedPolicy == config.UnmatchedDefer {
		client := asynq.NewClient(asynqRedis)
		defer client.Close()
		webhooks.Deferrer = reconcile.NewDeferrer(client, reconcile.Options{
			Queue:       cfg.Queue.Name,
			Delay:       cfg.Webhooks.UnmatchedRetryDelay,
			MaxAttempts: cfg.Webhooks.UnmatchedMaxAttempts,
		})
		worker = reconcile.NewWorker(asynqRedis, engine, reconcile.WorkerOptions{
			Queue:       cfg.Queue.Name,
			Concurrency: cfg.Queue.Concurrency,
			Delay:       cfg.Webhooks.UnmatchedRetryDelay,
		}, metrics, log)
	}

	corrections := httpapi.PerMinute(cfg.Live.CorrectionsPerMinute)
	corrections.StartJanitor(rootCtx, 5*time.Minute)

	handlers := &httpapi.Handlers{
		Engine:         engine,
		Sessions:       aggregator,
		Disposition:    dispositions,
		Reporting:      reporting.NewService(callStore, aggregator, registry),
		Voicemail:      settings,
		Hub:            hub,
		Presence:       registry,
		LeadUpdates:    leadUpdates,
		Metrics:        metrics,
		Log:            log,
		Heartbeat:      cfg.Live.PresenceTTL / 3,
		AllowedOrigins: cfg.App.CORSAllowedOrigins,
	}

	r := newRouter(cfg, log, metrics, routeDeps{
		auth:        authManager,
		handlers:    handlers,
		webhooks:    webhooks,
		corrections: corrections,
		signature: telephony.SignatureOptions{
			AuthToken:     cfg.Twilio.AuthToken,
			PublicBaseURL: cfg.Webhooks.PublicBaseURL,
			Skip:          cfg.Webhooks.SkipSignature,
			Metrics:       metrics,
		},
		ready: func(ctx context.Context) error {
			if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: live streams hold responses open.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return relay.Run(gctx)
	})

	if worker != nil {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}
