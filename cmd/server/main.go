package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tullo/moderation/config"
	"github.com/tullo/moderation/internal/auth"
	"github.com/tullo/moderation/internal/cache"
	"github.com/tullo/moderation/internal/database"
	"github.com/tullo/moderation/internal/handlers"
	applog "github.com/tullo/moderation/internal/logger"
	"github.com/tullo/moderation/internal/metrics"
	"github.com/tullo/moderation/internal/middleware"
	"github.com/tullo/moderation/internal/moderator"
	"github.com/tullo/moderation/internal/repository"
	"github.com/tullo/moderation/internal/scheduler"
	"github.com/tullo/moderation/internal/sla"
	"github.com/tullo/moderation/internal/websocket"
	"go.uber.org/zap"
)

const (
	shutdownTimeout   = 15 * time.Second
	dailyReportBudget = 5 * time.Minute
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := applog.New(cfg.Server.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.GetDSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	applied, err := database.RunMigrations(db.DB)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("migrations applied", zap.Ints("versions", applied))

	// Connect to Redis. Without it the service runs as a single instance:
	// no queued intake, no shared locks or limits, in-process live push.
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("running without Redis", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)

	// Initialize repositories
	contentRepo := repository.NewContentRepository(db)
	flagRepo := repository.NewFlagRepository(db)
	caseRepo := repository.NewCaseRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	telemetryRepo := repository.NewTelemetryRepository(db)
	modRepo := repository.NewModerationRepository(db)

	// SLA telemetry
	thresholds := sla.ThresholdsFromConfig(cfg.SLA)
	dispatcher := sla.NewDispatcher(sla.ChannelsFromConfig(cfg.Alerts), cfg.Alerts.ChannelTimeout, m, logger)
	logger.Info("breach alert channels", zap.Strings("channels", dispatcher.Channels()))
	tracker := sla.NewTracker(telemetryRepo, dispatcher, thresholds, cfg.SLA.AlertOnSampleBreach, m, logger)
	reporter := sla.NewReporter(telemetryRepo, tracker, thresholds, logger)
	dashboard := sla.NewDashboard(caseRepo, telemetryRepo, thresholds, cfg.Moderation.EscalationWindow)

	// Live push
	var (
		subscriber websocket.NotificationSubscriber
		publisher  moderator.Publisher
		locker     scheduler.Locker
		limiter    middleware.ActionLimiter
		queue      handlers.EventPublisher
	)
	if redis != nil {
		subscriber, publisher, locker, limiter, queue = redis, redis, redis, redis, redis
	}
	hub := websocket.NewHub(subscriber, logger)
	if publisher == nil {
		publisher = hub
	}

	// Moderation engine
	notifier := moderator.NewNotifier(notificationRepo, directoryRepo, publisher, tracker,
		cfg.Moderation.ModeratorQueryLimit, cfg.Moderation.NotifyConcurrency, m, logger)
	registry := moderator.NewRegistry(caseRepo, m, logger)
	intake := moderator.NewIntake(contentRepo, flagRepo, registry, notifier, tracker, cfg.Moderation.FlagThreshold, m, logger)
	escalator := moderator.NewEscalator(caseRepo, notifier, modRepo,
		cfg.Moderation.EscalationWindow, cfg.Moderation.EscalationBatchSize, m, logger)
	reviewer := moderator.NewReviewer(caseRepo, modRepo, tracker, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	if redis != nil {
		bot := moderator.NewBot(redis, consumerName(), intake, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.Run(ctx)
		}()
	}

	// Periodic jobs
	sched := scheduler.New(locker, m, logger)
	if err := sched.Add(scheduler.Job{
		Name:    "escalation_sweep",
		Spec:    scheduler.EveryInterval(cfg.Moderation.EscalationInterval),
		Timeout: cfg.Moderation.EscalationInterval,
		Run: func(ctx context.Context) error {
			_, err := escalator.Sweep(ctx)
			return err
		},
	}); err != nil {
		return err
	}
	if err := sched.Add(scheduler.Job{
		Name:    "daily_sla_report",
		Spec:    cfg.SLA.DailyReportSchedule,
		Timeout: dailyReportBudget,
		Run:     reporter.RunDaily,
	}); err != nil {
		return err
	}
	sched.Start()

	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitFlagsPerSec)
	rateLimiter.Cleanup(ctx, 10*time.Minute)

	// Initialize handlers
	flagHandler := handlers.NewFlagHandler(intake, queue, logger)
	caseHandler := handlers.NewCaseHandler(caseRepo, modRepo, reviewer, logger)
	slaHandler := handlers.NewSLAHandler(tracker, dashboard, telemetryRepo, reporter, logger)
	notificationHandler := handlers.NewNotificationHandler(notificationRepo, logger)
	wsHandler := websocket.NewHandler(hub, jwtService, notificationRepo, cfg.CORS.AllowedOrigins, logger)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger(logger), middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{"status": "ok", "database": "ok", "redis": "disabled"}
		code := http.StatusOK
		if err := db.PingContext(c.Request.Context()); err != nil {
			status["status"], status["database"], code = "degraded", err.Error(), http.StatusServiceUnavailable
		}
		if redis != nil {
			status["redis"] = "ok"
			if err := redis.Ping(c.Request.Context()); err != nil {
				status["status"], status["redis"], code = "degraded", err.Error(), http.StatusServiceUnavailable
			}
		}
		c.JSON(code, status)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(jwtService))
	{
		// Intake is open to any authenticated caller
		intakeLimits := []gin.HandlerFunc{
			middleware.RateLimitMiddleware(rateLimiter),
			middleware.SharedRateLimitMiddleware(limiter, "flag", cfg.API.RateLimitFlagsPerSec, logger),
		}
		api.POST("/flags", append(intakeLimits, flagHandler.CreateFlag)...)
		api.POST("/signals", append(intakeLimits, flagHandler.CreateSignal)...)

		mod := api.Group("")
		mod.Use(middleware.RequireModerator())
		mod.GET("/cases", caseHandler.ListCases)
		mod.GET("/cases/:id", caseHandler.GetCase)
		mod.POST("/cases/:id/claim", caseHandler.ClaimCase)
		mod.POST("/cases/:id/resolve", caseHandler.ResolveCase)

		mod.GET("/notifications", notificationHandler.ListNotifications)
		mod.POST("/notifications/:id/read", notificationHandler.MarkRead)
		mod.GET("/moderators/online", wsHandler.GetOnlineModerators)

		mod.POST("/sla/delivery", slaHandler.RecordDelivery)
		mod.GET("/sla/dashboard", slaHandler.GetDashboard)
		mod.GET("/sla/reports/daily", slaHandler.GetDailyReport)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting moderation server", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server failed: %w", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	sched.Stop(shutdownCtx)
	wg.Wait()
	tracker.Wait()
	return runErr
}

// consumerName identifies this instance within the intake consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "moderation"
	}
	return host + "-" + uuid.NewString()[:8]
}
