package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/luisherrera/subtally-backend/api/routes"
	authsvc "github.com/luisherrera/subtally-backend/internal/auth"
	"github.com/luisherrera/subtally-backend/internal/invitations"
	"github.com/luisherrera/subtally-backend/internal/memberships"
	"github.com/luisherrera/subtally-backend/internal/notifications"
	"github.com/luisherrera/subtally-backend/internal/realtime"
	"github.com/luisherrera/subtally-backend/internal/subscriptions"
	"github.com/luisherrera/subtally-backend/internal/users"
	"github.com/luisherrera/subtally-backend/pkg/auth/session"
	"github.com/luisherrera/subtally-backend/pkg/config"
	"github.com/luisherrera/subtally-backend/pkg/db"
	"github.com/luisherrera/subtally-backend/pkg/logger"
	"github.com/luisherrera/subtally-backend/pkg/migrate"
	"github.com/luisherrera/subtally-backend/pkg/outbox"
	"github.com/luisherrera/subtally-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	userRepo := users.NewRepository(dbClient.DB())
	membershipRepo := memberships.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptions.NewRepository(dbClient.DB())
	notificationRepo := notifications.NewRepository(dbClient.DB())
	emitter := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	authService, err := authsvc.NewService(authsvc.ServiceParams{
		DB:             dbClient,
		UserRepo:       userRepo,
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create auth service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(
		subscriptionRepo, membershipRepo, notificationRepo,
		dbClient, emitter, logg, cfg.FeatureFlags.CascadeRPC,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	invitationService, err := invitations.NewService(userRepo, membershipRepo, subscriptionRepo, dbClient, emitter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create invitations service", err)
		os.Exit(1)
	}

	membershipService, err := memberships.NewService(membershipRepo, subscriptionRepo, dbClient, emitter, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create memberships service", err)
		os.Exit(1)
	}

	notificationService, err := notifications.NewService(notificationRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create notifications service", err)
		os.Exit(1)
	}

	source, err := realtime.NewRedisSource(redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime source", err)
		os.Exit(1)
	}
	hub, err := realtime.NewHub(source, redisClient, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create realtime hub", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			SessionChecker: sessionManager,
			Auth:           authService,
			Subscriptions:  subscriptionService,
			Invitations:    invitationService,
			Memberships:    membershipService,
			Notifications:  notificationService,
			Hub:            hub,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
