// Package main runs the ticketing HTTP server with the live check-in feed and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eventems/backend/config"
	"github.com/eventems/backend/internal/access"
	"github.com/eventems/backend/internal/analytics"
	"github.com/eventems/backend/internal/auth"
	"github.com/eventems/backend/internal/events"
	"github.com/eventems/backend/internal/metrics"
	"github.com/eventems/backend/internal/middleware"
	"github.com/eventems/backend/internal/notifications"
	"github.com/eventems/backend/internal/notify"
	"github.com/eventems/backend/internal/payments"
	"github.com/eventems/backend/internal/realtime"
	"github.com/eventems/backend/internal/tickets"
	"github.com/eventems/backend/internal/worker"
	"github.com/eventems/backend/pkg/database"
	"github.com/eventems/backend/pkg/queue"
	"github.com/eventems/backend/pkg/redis"
	"github.com/eventems/backend/pkg/response"
	"github.com/eventems/backend/pkg/storage"
	"github.com/eventems/backend/pkg/utils"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var images events.ImageStore
	if cfg.AWS.Region != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			ImagesBucket:    cfg.AWS.ImagesBucket,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled, event images will be rejected", zap.Error(err))
		} else {
			images = s3Client
		}
	}

	var (
		intents    payments.IntentCreator
		authorizer tickets.PaymentAuthorizer
	)
	conv, err := payments.NewConverter(cfg.Stripe.Currency, cfg.Stripe.VNDPerUnit)
	if err != nil {
		logger.Fatal("stripe currency", zap.Error(err))
	}
	if stripeClient, err := payments.NewStripe(cfg.Stripe.SecretKey, conv, logger); err != nil {
		logger.Warn("stripe disabled, only free events can be issued", zap.Error(err))
	} else {
		intents, authorizer = stripeClient, stripeClient
	}

	monitor := metrics.NewMonitor(rdb.Client, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, redisPubSub)
	hub.SetWatchersChangeHandler(monitor.SetWatchers)

	// Auth
	userRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(userRepo, jwtService, logger)
	seedAdmin(ctx, cfg.Admin, userRepo, logger)

	// Events
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo, images, logger)
	analyticsHandler := analytics.NewHandler(analytics.NewRepository(pool), logger)

	// Notifications
	jobQueue := queue.NewQueue(rdb.Client, logger)
	notificationRepo := notifications.NewRepository(pool)
	dispatcher := notifications.NewDispatcher(notificationRepo, jobQueue, logger)

	// Tickets
	ticketRepo := tickets.NewRepository(pool)
	ticketService := tickets.NewService(ticketRepo, eventRepo, authorizer, tickets.Options{
		PhoneRegion: cfg.Tickets.PhoneRegion,
		Location:    cfg.Tickets.Location(),
		Notifier:    dispatcher,
		Publisher:   hub,
		Recorder:    monitor,
		Logger:      logger,
	})
	ticketHandler := tickets.NewHandler(ticketService, logger)
	notificationHandler := notifications.NewHandler(notificationRepo, ticketRepo, dispatcher, logger)
	paymentHandler := payments.NewHandler(intents, eventRepo, logger)

	// Background workers (SMS delivery, event reminders, queue metrics)
	smsProcessor := worker.NewSMSProcessor(jobQueue, newSender(cfg.Twilio, logger), notificationRepo, monitor, logger)
	reminders := worker.NewReminderSweeper(ticketRepo, dispatcher,
		cfg.Worker.ReminderInterval, cfg.Worker.ReminderLookahead, cfg.Tickets.Location(), logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health and metrics
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authenticate := middleware.Authenticate(jwtService, userRepo, logger)
	optionalAuth := middleware.OptionalAuthenticate(jwtService, userRepo, logger)
	eventAccess := func(action access.Action) gin.HandlerFunc {
		return events.RequireEventAccess(eventRepo, action)
	}

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
	}

	// Public event catalogue
	router.GET("/events", eventHandler.List)
	router.GET("/events/:id", optionalAuth, eventHandler.GetByID)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(authenticate)
	{
		api.GET("/profile", authHandler.Profile)
		api.POST("/logout", authHandler.Logout)

		// Users (admin)
		api.GET("/users", middleware.RequirePermission(access.ListUsers), authHandler.List)
		api.PUT("/users/:id/role", middleware.RequirePermission(access.ChangeUserRole), authHandler.ChangeRole)
		api.DELETE("/users/:id", middleware.RequirePermission(access.DeleteUser), authHandler.Delete)

		// Events
		api.GET("/events/all", middleware.RequirePermission(access.ViewAllEvents), eventHandler.ListAll)
		api.GET("/events/mine", middleware.RequirePermission(access.CreateEvent), eventHandler.ListMine)
		api.POST("/events", middleware.RequirePermission(access.CreateEvent), eventHandler.Create)
		api.PATCH("/events/:id", eventAccess(access.UpdateEvent), eventHandler.Update)
		api.PUT("/events/:id/approve", eventAccess(access.ApproveEvent), eventHandler.Approve)
		api.DELETE("/events/:id", eventAccess(access.DeleteEvent), eventHandler.Delete)
		api.POST("/events/:id/like", eventHandler.Like)
		api.GET("/events/:id/stats", eventAccess(access.ViewEventStats), analyticsHandler.GetByEvent)
		api.GET("/events/:id/tickets", eventAccess(access.ViewEventStats), ticketHandler.ListByEvent)
		api.GET("/events/:id/notifications", eventAccess(access.ViewEventStats), notificationHandler.ListByEvent)
		api.POST("/events/:id/notifications/resend", eventAccess(access.ViewEventStats), notificationHandler.Resend)

		// Payments and tickets
		api.POST("/payments/intents", middleware.RequirePermission(access.PurchaseTicket), paymentHandler.CreateIntent)
		api.POST("/tickets", middleware.RequirePermission(access.PurchaseTicket), ticketHandler.Issue)
		api.GET("/tickets/mine", ticketHandler.ListMine)
		api.GET("/tickets/:id", ticketHandler.Get)
		api.DELETE("/tickets/:id", ticketHandler.Delete)
		api.PUT("/tickets/:id/update-qr", ticketHandler.UpdateQR)

		// Door check-in
		verify := api.Group("/verify-ticket")
		verify.Use(middleware.RequirePermission(access.RedeemTicket))
		if cfg.Tickets.VerifyRateLimit > 0 {
			verify.Use(middleware.RateLimit(rdb.Client, "verify", cfg.Tickets.VerifyRateLimit, time.Minute, logger))
		}
		verify.POST("", ticketHandler.Verify)
		verify.GET("/:id", ticketHandler.VerifyByID)
	}

	// WebSocket (token in query; browsers cannot set headers on upgrade)
	router.GET("/ws/checkins", authenticate, eventAccess(access.ViewEventStats), realtime.ServeCheckIns(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go monitor.Run(workerCtx)
	if cfg.Worker.Embedded {
		go smsProcessor.Run(workerCtx)
		go reminders.Run(workerCtx)
		logger.Info("background workers started")
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

// seedAdmin creates the bootstrap admin account when ADMIN_EMAIL and ADMIN_PASSWORD are set.
func seedAdmin(ctx context.Context, cfg config.AdminConfig, users *auth.Repository, logger *zap.Logger) {
	if cfg.Email == "" || cfg.Password == "" {
		return
	}
	hash, err := utils.HashPassword(cfg.Password)
	if err != nil {
		logger.Fatal("hash admin password", zap.Error(err))
	}
	created, err := users.EnsureAdmin(ctx, cfg.Email, hash, cfg.Name)
	if err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}
	if created {
		logger.Info("default admin created", zap.String("email", cfg.Email))
	}
}

// newSender returns the Twilio sender, or a logging sender when Twilio is not configured.
func newSender(cfg config.TwilioConfig, logger *zap.Logger) notify.Sender {
	sender, err := notify.NewTwilio(notify.TwilioConfig{
		AccountSID: cfg.AccountSID,
		AuthToken:  cfg.AuthToken,
		FromNumber: cfg.FromNumber,
	}, logger)
	if err != nil {
		logger.Warn("twilio disabled, SMS will only be logged", zap.Error(err))
		return notify.NewLogSender(logger)
	}
	return sender
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
