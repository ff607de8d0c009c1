package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/formacenter/cfm-api/api/swagger"
	"github.com/formacenter/cfm-api/internal/handler"
	"github.com/formacenter/cfm-api/internal/middleware"
	"github.com/formacenter/cfm-api/internal/models"
	"github.com/formacenter/cfm-api/internal/notification"
	"github.com/formacenter/cfm-api/internal/repository"
	"github.com/formacenter/cfm-api/internal/service"
	"github.com/formacenter/cfm-api/pkg/cache"
	"github.com/formacenter/cfm-api/pkg/config"
	"github.com/formacenter/cfm-api/pkg/database"
	"github.com/formacenter/cfm-api/pkg/logger"
	corsmiddleware "github.com/formacenter/cfm-api/pkg/middleware/cors"
	reqidmiddleware "github.com/formacenter/cfm-api/pkg/middleware/requestid"
)

// @title CFM API
// @version 1.0.0
// @description Course session scheduling and enrollment lifecycle API
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	sessionRepo := repository.NewSessionRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	trainerRepo := repository.NewTrainerRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.DefaultTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	notifier := notification.NewLogNotifier(logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	courseSvc := service.NewCourseService(courseRepo, groupRepo, logr)
	sessionSvc := service.NewSessionService(sessionRepo, courseRepo, studentRepo, trainerRepo, cacheSvc, metricsSvc, cfg.Timetable.CacheTTL, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, courseRepo, notifier, metricsSvc, validate, logr)
	exportSvc := service.NewExportService(enrollmentSvc, sessionSvc, logr, nil, nil)

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, sessionSvc, enrollmentSvc)
	sessionHandler := handler.NewSessionHandler(sessionSvc, exportSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, exportSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	protected.GET("/auth/me", authHandler.Me)

	protected.GET("/courses", courseHandler.List)
	protected.GET("/courses/:id", courseHandler.Get)
	protected.GET("/courses/:id/groups", courseHandler.Groups)
	protected.GET("/courses/:id/sessions", courseHandler.Sessions)
	protected.GET("/courses/:id/enrollments/count", courseHandler.EnrollmentCount)
	protected.GET("/courses/:id/enrollments/export", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), enrollmentHandler.ExportCourseCSV)

	protected.GET("/sessions", sessionHandler.List)
	protected.GET("/sessions/conflicts", sessionHandler.CheckConflicts)
	protected.POST("/sessions", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), sessionHandler.Create)
	protected.PUT("/sessions/:id", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), sessionHandler.Update)
	protected.DELETE("/sessions/:id", middleware.RequireRoles(models.RoleAdmin), sessionHandler.Delete)

	protected.GET("/timetables/students/:id", sessionHandler.StudentTimetable)
	protected.GET("/timetables/students/:id/pdf", sessionHandler.StudentTimetablePDF)
	protected.GET("/timetables/trainers/:id", sessionHandler.TrainerTimetable)
	protected.GET("/timetables/trainers/:id/pdf", sessionHandler.TrainerTimetablePDF)

	protected.GET("/enrollments", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), enrollmentHandler.List)
	protected.GET("/enrollments/export", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), enrollmentHandler.ExportCSV)
	protected.GET("/enrollments/:id", enrollmentHandler.Get)
	protected.POST("/enrollments", enrollmentHandler.Create)
	protected.PUT("/enrollments/:id/confirm", middleware.RequireRoles(models.RoleAdmin, models.RoleTrainer), enrollmentHandler.Confirm)
	protected.PUT("/enrollments/:id/cancel", enrollmentHandler.Cancel)
	protected.DELETE("/enrollments/:id", middleware.RequireRoles(models.RoleAdmin), enrollmentHandler.Delete)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
