package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/localmart/localmart-api/api/swagger"
	"github.com/localmart/localmart-api/internal/handler"
	"github.com/localmart/localmart-api/internal/middleware"
	"github.com/localmart/localmart-api/internal/models"
	"github.com/localmart/localmart-api/internal/repository"
	"github.com/localmart/localmart-api/internal/service"
	"github.com/localmart/localmart-api/pkg/cache"
	"github.com/localmart/localmart-api/pkg/config"
	"github.com/localmart/localmart-api/pkg/database"
	"github.com/localmart/localmart-api/pkg/jobs"
	"github.com/localmart/localmart-api/pkg/logger"
	corsmiddleware "github.com/localmart/localmart-api/pkg/middleware/cors"
	reqidmiddleware "github.com/localmart/localmart-api/pkg/middleware/requestid"
)

// @title Localmart API
// @version 1.0.0
// @description Marketplace authentication and account service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, claim cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	issuer, err := service.NewAccessTokenIssuer(service.IssuerConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.Expiration,
	})
	if err != nil {
		logr.Sugar().Fatalw("failed to configure token issuer", "error", err)
	}

	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	resetRepo := repository.NewResetTokenRepository(db)
	claimRepo := repository.NewClaimRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	tokenService := service.NewRefreshTokenService(tokenRepo, logr, metrics, service.RefreshTokenConfig{
		TTL:           cfg.JWT.RefreshExpiration,
		MaxChainDepth: cfg.Auth.MaxChainDepth,
	})
	claimService := service.NewClaimService(claimRepo, cacheRepo, metrics, logr, cfg.Auth.ClaimCacheTTL)

	mailer := service.NewLogMailer(logr)
	resetQueue := service.NewResetQueue(mailer, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		Logger:     logr,
	})
	resetQueue.Start(context.Background())
	defer resetQueue.Stop()
	notifier := service.NewQueueNotifier(resetQueue)

	authService := service.NewAuthService(userRepo, tokenService, resetRepo, claimService, issuer, notifier, nil, logr, metrics, service.AuthServiceConfig{
		ResetTokenTTL: cfg.Auth.ResetTokenTTL,
		FrontendURL:   cfg.Auth.FrontendURL,
	})
	userService := service.NewUserService(userRepo, tokenService, nil, logr)

	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	sessionHandler := handler.NewSessionHandler(tokenService)
	claimHandler := handler.NewClaimHandler(claimService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/register", authHandler.Register)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/forgot-password", authHandler.ForgotPassword)
		auth.POST("/reset-password", authHandler.ResetPassword)

		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	users := api.Group("/users", middleware.JWT(authService))
	{
		users.GET("", middleware.RequireRoles(models.RoleAdmin), userHandler.List)
		users.GET("/:id", middleware.AdminOrSelf(), userHandler.Get)
		users.PUT("/:id", middleware.AdminOrSelf(), userHandler.Update)
		users.DELETE("/:id", middleware.AdminOrSelf(), userHandler.Delete)
		users.PUT("/:id/role", middleware.RequireRoles(models.RoleAdmin), userHandler.ChangeRole)

		users.GET("/:id/sessions", middleware.AdminOrSelf(), sessionHandler.List)
		users.DELETE("/:id/sessions", middleware.AdminOrSelf(), sessionHandler.RevokeAll)

		users.GET("/:id/claims", middleware.RequireRoles(models.RoleAdmin), claimHandler.List)
		users.POST("/:id/claims", middleware.RequireRoles(models.RoleAdmin), middleware.Audit(userRepo, "claim.grant", "claim"), claimHandler.Grant)
		users.DELETE("/:id/claims/:name", middleware.RequireRoles(models.RoleAdmin), middleware.Audit(userRepo, "claim.revoke", "claim"), claimHandler.Revoke)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
