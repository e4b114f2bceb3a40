package router

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"amora/internal/api/v1/handler"
	"amora/internal/config"
	"amora/internal/middleware"
	"amora/internal/pgmq"
	"amora/internal/pubsub"
	"amora/internal/repository"
	"amora/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// New wires the v1 API. It returns the handler plus the two DB handles the
// caller owns and must close on shutdown.
func New(cfg *config.Config, logger zerolog.Logger) (http.Handler, *sql.DB, *pgxpool.Pool, error) {
	logger.Info().Str("environment", cfg.Environment).Msg("Router initializing")

	// database/sql handle for the profile repo and the pgmq retry queue.
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open DB connection")
		return nil, nil, nil, err
	}
	if err := db.Ping(); err != nil {
		logger.Error().Err(err).Msg("Failed to ping DB")
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// pgxpool for the reputation and conversation repositories, which need
	// pgx-native transactions.
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create pgx pool")
		db.Close()
		return nil, nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	loc, err := cfg.QuotaLocation()
	if err != nil {
		db.Close()
		pool.Close()
		return nil, nil, nil, err
	}

	// Resolve the JWT verification key, falling back to Secret Manager.
	jwtSecret := cfg.JWTSecret
	if jwtSecret == "" && cfg.JWTSecretName != "" {
		secretSvc, err := service.NewSecretManagerService(context.Background(), cfg.GCPProjectID)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to create Secret Manager client")
			db.Close()
			pool.Close()
			return nil, nil, nil, err
		}
		defer secretSvc.Close()
		jwtSecret, err = secretSvc.AccessSecret(context.Background(), cfg.JWTSecretName)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to resolve JWT secret")
			db.Close()
			pool.Close()
			return nil, nil, nil, err
		}
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	pubSubPublisher, err := pubsub.NewPublisher(context.Background(), cfg)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Pub/Sub publisher")
		db.Close()
		pool.Close()
		return nil, nil, nil, err
	}

	queue := pgmq.New(db)

	// Repositories & services & handlers
	userRepo := repository.NewUserRepo(db)
	reputationRepo := repository.NewReputationRepo(pool)
	conversationRepo := repository.NewConversationRepo(pool)

	tierSvc := service.NewTierService(service.WeightedScorer{}, logger)
	reputationSvc := service.NewReputationService(reputationRepo, tierSvc, loc, logger)
	permissionSvc := service.NewPermissionService(reputationRepo, loc, logger)
	messageSvc := service.NewMessageService(conversationRepo, userRepo, permissionSvc, pubSubPublisher, cfg.PubSubConversationStartedTopic, logger)

	userHandler := handler.NewUserHandler(userRepo, reputationSvc, validate, logger)
	reputationHandler := handler.NewReputationHandler(reputationSvc, loc, validate, logger)
	messageHandler := handler.NewMessageHandler(messageSvc, validate, logger)
	eventHandler := handler.NewEventHandler(reputationSvc, queue, cfg.CounterRetryQueueName, logger)

	// Middleware
	authMw := middleware.AuthMiddleware(jwtSecret, logger)
	adminMw := middleware.AdminMiddleware(logger)
	isLocalDev := cfg.PubSubEmulatorHost != ""
	pubsubAuthMw := middleware.PubSubAuthMiddleware(isLocalDev, cfg.EventsEndpointURL, cfg.PubSubPushServiceAccountEmail, logger)

	apiV1Mux := http.NewServeMux()
	userHandler.RegisterRoutes(apiV1Mux, authMw)
	reputationHandler.RegisterRoutes(apiV1Mux, authMw, adminMw)
	messageHandler.RegisterRoutes(apiV1Mux, authMw)
	eventHandler.RegisterRoutes(apiV1Mux, pubsubAuthMw)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger, c.Handler(mux)), db, pool, nil
}
