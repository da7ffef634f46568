package router

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"tiergate/internal/api/v1/handler"
	"tiergate/internal/config"
	"tiergate/internal/middleware"
	"tiergate/internal/repository"
	"tiergate/internal/service"
	"tiergate/internal/token"
)

// New builds the HTTP handler and the database pool it depends on. The pool
// is returned so main can close it on shutdown.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (http.Handler, *pgxpool.Pool, error) {
	dsn := cfg.DBConnectionString
	// Local Postgres usually runs without TLS; production connection strings
	// are expected to carry their own sslmode.
	if cfg.Environment == "development" && !strings.Contains(dsn, "sslmode") {
		separator := "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
		dsn += separator + "sslmode=disable"
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info().Msg("Database connection successful")

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)

	tokens := token.NewIssuer(cfg.JWTSecret)
	billingSvc := service.NewBillingService(cfg, userRepo, tokens, logger)

	billingHandler := handler.NewBillingHandler(billingSvc, userRepo, usageRepo, validate, logger)

	authMiddleware := middleware.AuthMiddleware(tokens, userRepo, logger)

	apiV1Mux := http.NewServeMux()
	billingHandler.RegisterRoutes(apiV1Mux, authMiddleware)

	mux := http.NewServeMux()
	mux.Handle("/v1/", http.StripPrefix("/v1", apiV1Mux))

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	return middleware.LoggerMiddleware(logger)(c.Handler(mux)), pool, nil
}
