package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/campuskit/leaveflow/api/swagger"
	"github.com/campuskit/leaveflow/internal/handler"
	"github.com/campuskit/leaveflow/internal/middleware"
	"github.com/campuskit/leaveflow/internal/models"
	"github.com/campuskit/leaveflow/internal/repository"
	"github.com/campuskit/leaveflow/internal/service"
	"github.com/campuskit/leaveflow/pkg/cache"
	"github.com/campuskit/leaveflow/pkg/config"
	"github.com/campuskit/leaveflow/pkg/database"
	"github.com/campuskit/leaveflow/pkg/logger"
	corsmiddleware "github.com/campuskit/leaveflow/pkg/middleware/cors"
	reqidmiddleware "github.com/campuskit/leaveflow/pkg/middleware/requestid"
	"github.com/campuskit/leaveflow/pkg/storage"
)

// @title LeaveFlow API
// @version 1.0.0
// @description Leave application approval workflow service
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

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Leave.StatsCacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, continuing without cache", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Leave.StatsCacheTTL, logr, true)
		}
	}

	userRepo := repository.NewUserRepository(db)
	appRepo := repository.NewApplicationRepository(db)

	auditSvc := service.NewAuditService(userRepo, service.AuditServiceConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.MaxRetries,
		RetryDelay: cfg.Audit.RetryDelay,
	}, logr)

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "leaveflow",
	})
	appSvc := service.NewApplicationService(appRepo, userRepo, auditSvc, cacheSvc, metricsSvc, validate, logr)
	statsSvc := service.NewStatsService(appRepo, cacheSvc, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(appRepo, store, signer, auditSvc, service.ExportConfig{
			APIPrefix: cfg.APIPrefix,
			ResultTTL: cfg.Exports.SignedURLTTL,
		}, logr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	auditSvc.Start(ctx)
	defer auditSvc.Stop()

	if exportSvc != nil && cfg.Exports.CleanupInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Exports.CleanupInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					exportSvc.Cleanup()
				}
			}
		}()
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	appHandler := handler.NewApplicationHandler(appSvc, statsSvc)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	if exportSvc != nil {
		// Downloads authenticate through the signed token, not a JWT.
		exportHandler := handler.NewExportHandler(exportSvc)
		api.GET("/leave/export/:token",
			middleware.Audit(auditSvc, models.AuditActionLeaveDownload, "leave_register"),
			exportHandler.Download)

		exports := api.Group("/leave")
		exports.Use(middleware.JWT(authSvc))
		exports.GET("/export",
			middleware.RequireRoles(models.RoleTeacher, models.RoleTrainingOfficer, models.RoleAdmin),
			exportHandler.Generate)
	}

	leave := api.Group("/leave")
	leave.Use(middleware.JWT(authSvc))

	leave.POST("/apply", middleware.RequireRoles(models.RoleStudent), appHandler.Submit)
	leave.GET("/my-applications", middleware.RequireRoles(models.RoleStudent), appHandler.MyApplications)
	leave.GET("/pending-teacher", middleware.RequireRoles(models.RoleTeacher), appHandler.PendingTeacher)
	leave.GET("/pending-to", middleware.RequireRoles(models.RoleTrainingOfficer), appHandler.PendingTo)
	leave.GET("/all", middleware.RequireRoles(models.RoleAdmin), appHandler.All)
	leave.GET("/stats",
		middleware.RequireRoles(models.RoleTeacher, models.RoleTrainingOfficer, models.RoleAdmin),
		appHandler.Stats)
	leave.GET("/:id", appHandler.Get)
	leave.PUT("/:id/start-teacher-review", middleware.RequireRoles(models.RoleTeacher), appHandler.StartTeacherReview)
	leave.PUT("/:id/teacher-review", middleware.RequireRoles(models.RoleTeacher), appHandler.TeacherReview)
	leave.PUT("/:id/start-to-review", middleware.RequireRoles(models.RoleTrainingOfficer), appHandler.StartToReview)
	leave.PUT("/:id/to-review", middleware.RequireRoles(models.RoleTrainingOfficer), appHandler.ToReview)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
