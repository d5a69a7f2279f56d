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

	"crm-telephony/internal/audit"
	"crm-telephony/internal/auth"
	"crm-telephony/internal/calls"
	"crm-telephony/internal/config"
	"crm-telephony/internal/credcache"
	"crm-telephony/internal/httpapi"
	"crm-telephony/internal/live"
	"crm-telephony/internal/observability"
	"crm-telephony/internal/poller"
	"crm-telephony/internal/reporting"
	"crm-telephony/internal/telephony"
	"crm-telephony/pkg/logger"
	"crm-telephony/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	pollerLockKey = "poller:sweep"
	pollerLockTTL = 30 * time.Minute
	cacheSweep    = time.Minute
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogFormat)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	store := calls.NewPostgresStore(db)
	if err := store.EnsureSchema(rootCtx); err != nil {
		log.Error("call schema init failed", "err", err)
		os.Exit(1)
	}
	auditRepo := audit.NewPostgresRepo(db)
	if err := auditRepo.EnsureSchema(rootCtx); err != nil {
		log.Error("audit schema init failed", "err", err)
		os.Exit(1)
	}
	auditSvc := audit.NewService(auditRepo)

	ready := map[string]httpapi.ReadyCheck{
		"postgres": func(ctx context.Context) error { return utils.HealthCheck(ctx, db, time.Second) },
	}

	// Redis is optional: without it the cache is process-local, live frames
	// stay on this node and sweeps are only serialized in-process.
	var (
		rdb   *redis.Client
		cache credcache.Cache
	)
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		cache = credcache.NewRedisCache(rdb, "crm:cache:")
		ready["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	} else {
		mem := credcache.NewMemoryCache()
		go mem.RunSweeper(rootCtx, cacheSweep)
		cache = mem
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observability.Register(reg)

	rc := cfg.RingCentral
	provider := telephony.NewRingCentral(telephony.RingCentralOptions{
		BaseURL:      rc.ServerURL,
		ClientID:     rc.ClientID,
		ClientSecret: rc.ClientSecret,
		JWT:          rc.JWT,
		HTTP:         &http.Client{Timeout: rc.RequestTimeout},
		Limiter:      rate.NewLimiter(rate.Limit(rc.RequestsPerSecond), rc.Burst),
		Breaker:      telephony.NewBreaker("ringcentral", rc.BreakerMaxRequests, rc.BreakerInterval, rc.BreakerTimeout, rc.BreakerFailures),
		Tokens:       cache,
	})

	hub := live.NewHub(cfg.Live.SendBuffer, logger.Component(log, "live"))
	defer hub.Close()
	if rdb != nil {
		relay := live.NewRedisRelay(rdb, "", hub, logger.Component(log, "live-relay"))
		hub.SetRelay(relay)
		go func() {
			if err := relay.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("live relay stopped", "err", err)
			}
		}()
	}
	publisher := live.NewPublisher(hub)
	control := telephony.NewCallControl(provider, publisher, auditSvc)

	webhook := telephony.WebhookHandler{
		Reconciler:        calls.NewReconciler(store, logger.Component(log, "reconciler")),
		Publisher:         publisher,
		VerificationToken: rc.WebhookToken,
	}

	pc := cfg.Poller
	sweeper := poller.New(store, provider, poller.Config{
		Interval:             pc.Interval,
		BatchSize:            pc.BatchSize,
		MaxRecordingAttempts: pc.MaxRecordingAttempts,
		MaxInsightsAttempts:  pc.MaxInsightsAttempts,
		Pacing:               pc.Pacing,
		RateLimitBackoff:     pc.RateLimitBackoff,
		RateLimitRetries:     pc.RateLimitRetries,
		SyncInterval:         pc.SyncInterval,
		SyncWindow:           pc.SyncWindow,
	}, logger.Component(log, "poller"))
	if rdb != nil {
		sweeper.WithLock(utils.NewRedisLock(rdb, pollerLockKey, pollerLockTTL))
	}
	if pc.Enabled {
		go sweeper.Run(rootCtx)
		go sweeper.RunSync(rootCtx)
	}

	deps := routeDeps{
		auth:     authManager,
		webhook:  webhook,
		live:     live.NewHandler(hub, control, auth.Actor, cfg.Live.AllowedOrigins),
		registry: reg,
	}
	deps.api.Calls = store
	deps.api.Reports = reporting.NewService(store)
	deps.api.Control = control
	deps.api.SIP = telephony.NewSIPProvisioner(provider, cache, cfg.SIP.CacheTTL)
	deps.api.Poller = sweeper
	deps.api.Events = webhook
	deps.api.Audit = auditSvc
	deps.api.AllowSimulate = !cfg.IsProduction()
	deps.api.Ready = ready

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, deps)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Poller sweeps triggered over HTTP pace between candidates.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "redis", cfg.RedisEnabled(), "poller", pc.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
