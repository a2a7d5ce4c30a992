package main

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/amida-tech/hl7-telescoper-api-server/internal/config"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/domain/messages"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/auth"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/blobstore"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/db"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/hl7v2"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/middleware"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/mongodb"
	"github.com/amida-tech/hl7-telescoper-api-server/internal/platform/openapi"
)

// backend is the selected file registry and message store.
type backend struct {
	files    messages.FileRegistry
	messages messages.MessageRepository
	checker  db.Checker
	close    func()
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	if cfg.StoreDriver == config.StoreDriverMongo {
		client, err := mongodb.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := mongodb.EnsureIndexes(ctx, client.Database(), messages.MongoIndexes()); err != nil {
			_ = client.Close()
			return nil, err
		}
		return &backend{
			files:    messages.NewFileRegistryMongo(client.Database()),
			messages: messages.NewMessageRepoMongo(client.Database()),
			checker:  client,
			close: func() {
				if err := client.Close(); err != nil {
					logger.Warn().Err(err).Msg("mongo disconnect failed")
				}
			},
		}, nil
	}

	pool, err := db.NewPool(ctx, poolConfig(cfg))
	if err != nil {
		return nil, err
	}
	logger.Info().Str("schema", db.SearchPath(pool)).Msg("connected to postgres")
	return &backend{
		files:    messages.NewFileRegistryPG(pool),
		messages: messages.NewMessageRepoPG(pool),
		checker:  db.PoolChecker{Pool: pool},
		close:    pool.Close,
	}, nil
}

func poolConfig(cfg *config.Config) db.PoolConfig {
	return db.PoolConfig{
		URL:      cfg.DatabaseURL,
		Schema:   cfg.DBSchema,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.JWTSecret),
		Skipper:    auth.AuthSkipper,
	}
	if cfg.IsDev() {
		return auth.DevAuthMiddleware(jwtCfg)
	}
	return auth.JWTMiddleware(jwtCfg)
}

func newServer(cfg *config.Config, logger zerolog.Logger, be *backend, blobs blobstore.BlobStore) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.ErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
		HSTS:         !cfg.IsDev(),
		PagePolicies: map[string]string{openapi.DocsPath: openapi.DocsContentSecurityPolicy},
	}))
	e.Use(middleware.BodyLimit(cfg.MaxBodySize, cfg.MaxUploadSize))
	e.Use(authMiddleware(cfg))
	e.Use(middleware.Audit(logger))

	// Public endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(be.checker))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Domain wiring
	parser := hl7v2.NewEngine()
	cache := messages.NewCache(cfg.LookupCacheSize, cfg.LookupCacheTTL)
	svc := messages.NewService(
		messages.NewUploadGate(blobs, be.files, logger),
		messages.NewCoordinator(blobs, be.files, be.messages, parser, logger),
		be.files,
		messages.NewResolver(be.messages, cache),
	)

	uploadLimit := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.UploadRateLimitRPS,
		BurstSize:         cfg.UploadRateLimitBurst,
	}
	if uploadLimit.RequestsPerSecond <= 0 {
		uploadLimit = middleware.DefaultRateLimitConfig()
	}

	apiV1 := e.Group("/api/v1")
	msgHandler := messages.NewHandler(svc, logger)
	msgHandler.RegisterRoutes(apiV1, middleware.RateLimit(uploadLimit))
	parserHandler := hl7v2.NewHandler(parser)
	parserHandler.RegisterRoutes(apiV1)

	// API docs
	docs := openapi.NewGenerator("HL7 Telescoper API", version)
	msgHandler.DescribeRoutes(docs)
	parserHandler.DescribeRoutes(docs)
	docs.RegisterRoutes(e)

	return e
}
