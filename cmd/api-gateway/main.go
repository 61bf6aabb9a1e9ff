package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/journal-api/api/swagger"
	"github.com/noah-isme/journal-api/internal/handler"
	"github.com/noah-isme/journal-api/internal/middleware"
	"github.com/noah-isme/journal-api/internal/models"
	"github.com/noah-isme/journal-api/internal/repository"
	"github.com/noah-isme/journal-api/internal/service"
	"github.com/noah-isme/journal-api/migrations"
	"github.com/noah-isme/journal-api/pkg/cache"
	"github.com/noah-isme/journal-api/pkg/config"
	"github.com/noah-isme/journal-api/pkg/database"
	"github.com/noah-isme/journal-api/pkg/jobs"
	"github.com/noah-isme/journal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/journal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/journal-api/pkg/middleware/requestid"
	"github.com/noah-isme/journal-api/pkg/schoolday"
	"github.com/noah-isme/journal-api/pkg/storage"
)

// @title School Journal API
// @version 1.0.0
// @description Daily student journal with teacher review, stats and exports
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db.DB, migrations.FS, logr, "up"); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	var cacheRepo *repository.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, continuing without cache", zap.Error(err))
		} else {
			cacheRepo = repository.NewCacheRepository(client, logr)
			defer cacheRepo.Close() //nolint:errcheck
		}
	}
	if cacheRepo == nil {
		cacheRepo = repository.NewCacheRepository(nil, logr)
	}

	validate, err := service.NewValidator(cfg.Journal.RatingMin, cfg.Journal.RatingMax)
	if err != nil {
		logr.Fatal("failed to build validator", zap.Error(err))
	}

	boundary := schoolday.NewBoundary(
		schoolday.WithUTCOffset(cfg.Journal.UTCOffset),
		schoolday.WithWeekendSkipping(cfg.Journal.SkipWeekends),
	)

	entryRepo := repository.NewEntryRepository(db)
	userRepo := repository.NewUserRepository(db)
	logRepo := repository.NewActionLogRepository(db)
	reportRepo := repository.NewReportRepository(db)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Stats.CacheTTL, logr, cacheRepo.Enabled())
	statsSvc := service.NewStatsService(entryRepo, userRepo, cacheSvc, logr, service.StatsConfig{
		RatingMin: cfg.Journal.RatingMin,
		RatingMax: cfg.Journal.RatingMax,
		CacheTTL:  cfg.Stats.CacheTTL,
	})
	submissionSvc := service.NewSubmissionService(entryRepo, userRepo, boundary, statsSvc, metricsSvc, validate, logr, service.SubmissionConfig{
		Policy:    schoolday.Policy(cfg.Journal.SubmissionPolicy),
		RatingMin: cfg.Journal.RatingMin,
		RatingMax: cfg.Journal.RatingMax,
	})
	reviewSvc := service.NewReviewService(entryRepo, statsSvc, metricsSvc, validate, logr)
	authSvc := service.NewAuthService(userRepo, logRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	userSvc := service.NewUserService(userRepo, statsSvc, validate, logr)
	adminSvc := service.NewAdminService(entryRepo, logRepo, statsSvc, logr)
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Journal:  submissionSvc,
		Stats:    statsSvc,
		Entries:  entryRepo,
		Logs:     logRepo,
		Metrics:  metricsSvc,
		Boundary: boundary,
		Logger:   logr,
	})

	var notifier service.Notifier = service.NewLogNotifier(logr)
	if cacheRepo.Enabled() {
		notifier = service.NewRedisNotifier(cacheRepo, cfg.Reminders.Channel)
	}
	reminderSvc := service.NewReminderService(userRepo, statsSvc, notifier, boundary, metricsSvc, logr, service.ReminderConfig{
		SkipWeekends: cfg.Journal.SkipWeekends,
	})

	scheduler := jobs.NewCron(boundary.Location(), logr)
	if cfg.Reminders.Enabled {
		if err := scheduler.Add("reminders", jobs.DailySpec(cfg.Reminders.Hour, cfg.Reminders.Minute), reminderSvc.Run); err != nil {
			logr.Fatal("failed to schedule reminders", zap.Error(err))
		}
	}

	var (
		reportHandler *handler.ReportHandler
		reportQueue   *jobs.Queue
		reportSvc     *service.ReportService
	)
	if cfg.Reports.Enabled {
		fileStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Fatal("failed to prepare report storage", zap.Error(err))
		}
		exportSvc := service.NewExportService(entryRepo, statsSvc, fileStore, logr, service.ExportConfig{
			ResultTTL: cfg.Reports.SignedURLTTL,
		})
		worker := service.NewReportWorker(reportRepo, exportSvc, metricsSvc, cfg.Reports.WorkerRetries, logr)
		reportQueue = jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
			OnResult: func(job jobs.Job, err error, elapsed time.Duration) {
				if err != nil {
					logr.Debug("report attempt failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Duration("elapsed", elapsed), zap.Error(err))
				}
			},
		})
		reportSvc = service.NewReportService(service.ReportServiceParams{
			Repo:      reportRepo,
			Queue:     reportQueue,
			Files:     exportSvc,
			Signer:    storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL),
			Logs:      logRepo,
			Boundary:  boundary,
			Validator: validate,
			Logger:    logr,
			Config: service.ReportServiceConfig{
				APIPrefix:       cfg.APIPrefix,
				ResultTTL:       cfg.Reports.SignedURLTTL,
				CleanupInterval: cfg.Reports.CleanupInterval,
				WeeklyFormat:    models.ReportFormat(cfg.Reports.WeeklyFormat),
			},
		})
		reportHandler = handler.NewReportHandler(reportSvc)

		reportQueue.Start(ctx)
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)

		if cfg.Reports.WeeklyEnabled {
			spec := jobs.WeeklySpec(cfg.Reports.WeeklyWeekday, cfg.Reports.WeeklyHour, 0)
			if err := scheduler.Add("weekly-report", spec, reportSvc.ScheduleWeekly); err != nil {
				logr.Fatal("failed to schedule weekly report", zap.Error(err))
			}
		}
	}

	scheduler.Start(ctx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, readinessChecks(db, cacheRepo), logr)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(submissionSvc, dashboardSvc)
	teacherHandler := handler.NewTeacherHandler(reviewSvc, dashboardSvc, statsSvc, boundary)
	userHandler := handler.NewUserHandler(userSvc)
	adminHandler := handler.NewAdminHandler(adminSvc, dashboardSvc)

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)
	if reportHandler != nil {
		api.GET("/export/:token", reportHandler.Download)
	}

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))
	secured.GET("/auth/me", authHandler.Me)

	student := secured.Group("/student", middleware.RequireRoles(models.RoleStudent))
	student.POST("/entries", studentHandler.Submit)
	student.GET("/entries", studentHandler.History)
	student.GET("/entries/today", studentHandler.Today)
	student.GET("/dashboard", studentHandler.Dashboard)

	teacher := secured.Group("/teacher", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
	teacher.GET("/dashboard", teacherHandler.Dashboard)
	teacher.POST("/entries/:id/review", teacherHandler.Review)
	teacher.GET("/records", teacherHandler.Records)
	teacher.GET("/stats", teacherHandler.Stats)

	admin := secured.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/dashboard", adminHandler.Dashboard)
	admin.GET("/users", userHandler.List)
	admin.GET("/users/:id", userHandler.Get)
	admin.POST("/users", userHandler.Upsert)
	admin.DELETE("/users/:id", userHandler.Delete)
	admin.POST("/entries/reset", adminHandler.ResetEntries)
	admin.POST("/logs/clear", adminHandler.ClearLogs)
	admin.GET("/logs", adminHandler.ListLogs)

	if reportHandler != nil {
		reports := secured.Group("/reports", middleware.RequireRoles(models.RoleTeacher, models.RoleAdmin))
		reports.POST("", reportHandler.Create)
		reports.GET("/:id", reportHandler.Status)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("http shutdown", zap.Error(err))
	}
	scheduler.Stop()
	if reportQueue != nil {
		reportQueue.Stop()
	}
}

func readinessChecks(db *sqlx.DB, cacheRepo *repository.CacheRepository) map[string]handler.ReadinessCheck {
	checks := map[string]handler.ReadinessCheck{
		"database": db.PingContext,
	}
	if cacheRepo.Enabled() {
		checks["redis"] = cacheRepo.Ping
	}
	return checks
}
