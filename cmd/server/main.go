package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"storyreel/internal/api/handler"
	"storyreel/internal/config"
	"storyreel/internal/core/postgres/repository"
	"storyreel/internal/domain"
	infraredis "storyreel/internal/infrastructure/redis"
	"storyreel/internal/llmobserve"
	"storyreel/internal/reconciler"
	"storyreel/internal/service"
	"storyreel/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration:", err)
	}

	// TranslateError turns driver-level unique violations into
	// gorm.ErrDuplicatedKey, which the submitter's dedupe path relies on.
	db, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}
	if err := db.AutoMigrate(&domain.Task{}, &domain.TaskEvent{}); err != nil {
		log.Fatal("failed to migrate schema:", err)
	}

	redisClient, err := infraredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal("failed to connect to redis:", err)
	}

	taskRepo := repository.NewTaskRepository(db)
	eventRepo := repository.NewEventRepository(db)
	queue := infraredis.NewRedisQueue(redisClient)
	bus := infraredis.NewRedisEventBus(redisClient)

	publisher := service.NewPublisher(eventRepo, bus)
	submitter := service.NewSubmitter(taskRepo, queue, publisher)
	taskSvc := service.NewTaskService(taskRepo, publisher)
	stateSvc := service.NewStateService(taskRepo)
	adapter := llmobserve.NewRouteTaskAdapter(submitter)

	// Crash recovery before any worker can pull new work.
	if _, err := taskSvc.ResetProcessingOnStartup(ctx); err != nil {
		log.Fatal("failed to reset orphaned processing tasks:", err)
	}

	registry := worker.InitRegistry()
	pool := worker.NewWorker(queue, taskRepo, taskSvc, registry)
	pool.StartPool(ctx, cfg.Worker.Concurrency)

	sweeper := reconciler.New(
		taskSvc,
		time.Duration(cfg.Worker.SweepIntervalSeconds)*time.Second,
		time.Duration(cfg.Worker.HeartbeatStaleSeconds)*time.Second,
		cfg.Worker.SweepLimit,
	)
	go sweeper.Start(ctx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	taskHandler := handler.NewTaskHandler(adapter, taskSvc, stateSvc)
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", taskHandler.SubmitTask)
		api.GET("/tasks", taskHandler.ListTasks)
		api.GET("/tasks/:id", taskHandler.GetTask)
		api.POST("/tasks/:id/cancel", taskHandler.CancelTask)
		api.POST("/tasks/target-states", taskHandler.QueryTargetStates)
		api.POST("/tasks/dismiss", taskHandler.DismissTasks)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.Printf("server starting on :%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
	if err := redisClient.Close(); err != nil {
		log.Printf("redis close error: %v", err)
	}
}
