package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"

	"amora/internal/config"
	"amora/internal/logger"
	"amora/internal/pgmq"
	"amora/internal/repository"
	"amora/internal/service"
	"amora/internal/worker/counterretry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	// Initialize logger
	logger := logger.New()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn().Msg("Warning: no .env file found")
	}

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Error loading config: %v", err)
	}

	// DB connection for the retry queue
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to open DB connection: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.Fatal().Msgf("Failed to ping DB: %v", err)
	}
	logger.Info().Msg("Database connection established")

	// pgx pool for the reputation repository
	pool, err := pgxpool.New(context.Background(), cfg.DSN())
	if err != nil {
		logger.Fatal().Msgf("Failed to create pgx pool: %v", err)
	}
	defer pool.Close()

	loc, err := cfg.QuotaLocation()
	if err != nil {
		logger.Fatal().Msgf("%v", err)
	}

	pgmqClient := pgmq.New(db)

	reputationRepo := repository.NewReputationRepo(pool)
	tierSvc := service.NewTierService(service.WeightedScorer{}, logger)
	reputationSvc := service.NewReputationService(reputationRepo, tierSvc, loc, logger)

	// Set up context with graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := counterretry.Run(ctx, logger, cfg, pgmqClient, reputationSvc); err != nil {
		logger.Fatal().Msgf("Counter retry worker failed: %v", err)
	}

	logger.Info().Msg("Counter retry worker stopped gracefully")
}
