package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/voxreach/call-engine/internal/api"
	"github.com/voxreach/call-engine/internal/bridge"
	"github.com/voxreach/call-engine/internal/config"
	"github.com/voxreach/call-engine/internal/database"
	"github.com/voxreach/call-engine/internal/jobstore"
	"github.com/voxreach/call-engine/internal/leads"
	"github.com/voxreach/call-engine/internal/recording"
	"github.com/voxreach/call-engine/internal/scheduler"
	"github.com/voxreach/call-engine/internal/telephony"
	"github.com/voxreach/call-engine/internal/worker"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.RedisURL, "redis-url", "", "Redis connection URL (overrides REDIS_URL)")
	flag.StringVar(&overrides.PublicBaseURL, "public-base-url", "", "Public base URL for answer/webhook/media-stream callbacks (overrides PUBLIC_BASE_URL)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("call-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Connect(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := database.Migrate(cfg.DatabaseURL, dbLog); err != nil {
		log.Fatal().Err(err).Msg("schema migration failed")
	}

	// Job Store (JS) — Redis-backed
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	store := jobstore.NewRedisStore(rdb, cfg.JobLeaseDuration, log.With().Str("component", "jobstore").Logger())

	// Telephony Gateway (TG)
	publicHost := strings.TrimPrefix(strings.TrimPrefix(cfg.PublicBaseURL, "https://"), "http://")
	provider := telephony.NewHTTPProvider(
		cfg.TelephonyAPIBaseURL,
		cfg.TelephonyAccountSID,
		cfg.TelephonyAuthToken,
		cfg.TelephonyFromNumber,
		cfg.TelephonyCallTimeout,
		log.With().Str("component", "telephony").Logger(),
	)
	gateway := telephony.NewGateway(provider, telephony.CallerConfig{
		PublicHost:  publicHost,
		FromNumber:  cfg.TelephonyFromNumber,
		RecordCalls: cfg.TelephonyRecordCalls,
		TimeoutSec:  int(cfg.TelephonyCallTimeout.Seconds()),
	})
	answerHandler := &telephony.AnswerHandler{PublicHost: publicHost}

	// Recording upload (optional — only if a bucket is configured)
	var uploader *recording.S3Uploader
	if cfg.RecordingsEnabled() {
		uploader, err = recording.NewS3Uploader(ctx, cfg, log.With().Str("component", "recording").Logger())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize recording uploader")
		}
	}

	// Linkage & Persistence Layer (LP)
	ledger := leads.New(db, log.With().Str("component", "leads").Logger())

	// Media Bridge (MB)
	bridgeMgr := bridge.NewManager(nil, bridge.RealtimeConfig{
		URL:               cfg.AIRealtimeURL,
		Token:             cfg.AIRealtimeToken,
		Voice:             cfg.AIRealtimeVoice,
		ConnectDeadline:   cfg.AIConnectDeadline,
		MaxRetries:        cfg.AIMaxRetries,
		MaxErrorEvents:    cfg.AIMaxErrorEvents,
		MaxResponseTokens: cfg.AIMaxResponseTokens,
	}, ledger, log.With().Str("component", "bridge").Logger())

	// Webhooks (TG's provider-facing HTTP surface). Uploader is only set when
	// non-nil so a disabled recordings bucket leaves the field a true nil
	// interface rather than a typed-nil *recording.S3Uploader.
	webhooks := &telephony.WebhookHandler{
		Events:     ledger,
		Recordings: ledger,
		Log:        log.With().Str("component", "webhooks").Logger(),
	}
	if uploader != nil {
		webhooks.Uploader = uploader
	}

	// Worker Pool (WP)
	pool := worker.New(worker.Options{
		Store:  store,
		Stream: "calls",
		Handlers: map[string]worker.Handler{
			jobstore.FamilyPlaceCall: &worker.PlaceCallHandler{
				Caller: gateway,
				Leads:  ledger,
				Store:  store,
				Log:    log.With().Str("component", "worker").Str("family", jobstore.FamilyPlaceCall).Logger(),
			},
			jobstore.FamilyRefillFromLeads: &worker.RefillHandler{
				Leads: ledger,
				Store: store,
			},
		},
		Concurrency:  cfg.WorkerConcurrency,
		RateCount:    cfg.DispatchRateCount,
		RateWindow:   cfg.DispatchRateWindow,
		JobTimeout:   cfg.TelephonyCallTimeout + 10*time.Second,
		Log:          log.With().Str("component", "worker").Logger(),
	})
	pool.Start()
	defer pool.Stop()

	// Scheduler Control Plane (SC)
	sched := scheduler.New(store)

	// Optional default refill registration
	if cfg.RefillCron != "" {
		_, err := sched.ScheduleRefill(ctx, scheduler.RefillInput{
			Message:   cfg.RefillMessage,
			LeadLimit: cfg.RefillLeadLimit,
		}, cfg.RefillCron)
		if err != nil {
			log.Warn().Err(err).Msg("failed to register default refill schedule")
		}
	}

	// HTTP server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:    cfg,
		DB:        db,
		Store:     store,
		Scheduler: sched,
		Webhooks:  webhooks,
		Answer:    answerHandler,
		Bridge:    bridgeMgr,
		Version:   fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime: startTime,
		Log:       httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Str("version", version).
		Dur("startup_ms", time.Since(startTime)).
		Msg("call-engine ready")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown per §5: stop accepting new media-stream connections
	// and HTTP requests first, then drain the worker pool, then close the
	// job store connection last so in-flight Acks/Nacks can still land.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	pool.Stop()
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("job store close error")
	}

	log.Info().Msg("call-engine stopped")
}
