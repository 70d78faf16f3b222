package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/kentiva/ops-api/api/swagger"
	"github.com/kentiva/ops-api/internal/handler"
	"github.com/kentiva/ops-api/internal/middleware"
	"github.com/kentiva/ops-api/internal/models"
	"github.com/kentiva/ops-api/internal/repository"
	"github.com/kentiva/ops-api/internal/service"
	"github.com/kentiva/ops-api/internal/shield"
	"github.com/kentiva/ops-api/pkg/cache"
	"github.com/kentiva/ops-api/pkg/config"
	"github.com/kentiva/ops-api/pkg/database"
	"github.com/kentiva/ops-api/pkg/logger"
	corsmiddleware "github.com/kentiva/ops-api/pkg/middleware/cors"
	reqidmiddleware "github.com/kentiva/ops-api/pkg/middleware/requestid"
)

// @title Kentiva Ops API
// @version 1.0.0
// @description Multi-tenant security core: sessions, service tokens and threat detection
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	var bucketStore shield.BucketStore = shield.NewMemoryBucketStore()
	if cfg.Shield.UseRedisBuckets {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		defer redisClient.Close()
		bucketStore = shield.NewRedisBucketStore(redisClient, cfg.Shield.FailedLoginWindow)
	}

	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewTokenRepository(db)
	apiTokenRepo := repository.NewAPITokenRepository(db)
	eventRepo := repository.NewSecurityEventRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	metrics := service.NewMetricsService()
	audits := service.NewAuditDispatcher(auditRepo, logr)

	detector := shield.NewDetector(bucketStore, eventRepo, auditRepo, cfg.Shield, logr, nil)
	detector.Metrics = metrics

	authService := service.NewAuthService(userRepo, tokenRepo, detector, audits, metrics, nil, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		Audience:           cfg.JWT.Audience,
	}, nil)
	apiTokenService := service.NewAPITokenService(apiTokenRepo, audits, metrics, nil, logr, cfg.APIToken, nil)
	eventService := service.NewSecurityEventService(eventRepo, logr)
	userService := service.NewUserService(userRepo, tokenRepo, detector, audits, logr)

	authHandler := handler.NewAuthHandler(authService)
	apiTokenHandler := handler.NewAPITokenHandler(apiTokenService)
	eventHandler := handler.NewSecurityEventHandler(eventService)
	userHandler := handler.NewUserHandler(userService)
	metricsHandler := handler.NewMetricsHandler(metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	guard := middleware.Guard(authService, apiTokenService)

	v1 := r.Group(cfg.APIPrefix)
	{
		auth := v1.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.Refresh)
			auth.POST("/logout", authHandler.Logout)
			auth.GET("/me", guard, authHandler.Me)
		}

		apiTokens := v1.Group("/api-tokens", guard,
			middleware.RequireRoles(models.RoleOwner, models.RoleAdmin),
			middleware.RequireScope(models.ScopeTokensManage))
		{
			apiTokens.POST("", apiTokenHandler.Create)
			apiTokens.GET("", apiTokenHandler.List)
			apiTokens.DELETE("/:id", apiTokenHandler.Revoke)
		}

		events := v1.Group("/security-events", guard,
			middleware.RequireRoles(models.RoleOwner, models.RoleAdmin),
			middleware.RequireScope(models.ScopeEventsReview))
		{
			events.GET("", eventHandler.List)
			events.GET("/export", eventHandler.Export)
			events.POST("/:id/resolve", eventHandler.Resolve)
		}

		users := v1.Group("/users", guard,
			middleware.RequireRoles(models.RoleOwner, models.RoleAdmin),
			middleware.RequireScope(models.ScopeUsersManage))
		{
			users.POST("/:id/deactivate", userHandler.Deactivate)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
