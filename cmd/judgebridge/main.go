package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"judgebridge/internal/common/cache"
	commonmw "judgebridge/internal/common/http/middleware"
	"judgebridge/internal/common/mq"
	"judgebridge/internal/common/ratelimit"
	"judgebridge/internal/common/storage"
	"judgebridge/internal/common/workerpool"
	"judgebridge/internal/engine"
	"judgebridge/internal/task/controller"
	"judgebridge/internal/task/event"
	"judgebridge/internal/task/service"
	"judgebridge/internal/task/store"
	"judgebridge/pkg/utils/logger"
	"judgebridge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judgebridge.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "judgebridge stopped", zap.Error(err))
	}
}

func run(appCfg *AppConfig) error {
	ctx := context.Background()

	taskStore := store.Open(ctx, appCfg.Store)
	defer func() {
		_ = taskStore.Close()
	}()

	engineClient, err := engine.NewClient(appCfg.Engine)
	if err != nil {
		return fmt.Errorf("init engine client: %w", err)
	}

	publisher, closePublishers, err := buildPublisher(ctx, appCfg)
	if err != nil {
		return err
	}
	defer closePublishers()

	pool := workerpool.New(appCfg.Bridge.Pool)
	taskService, err := service.NewService(service.Config{
		Store:        taskStore,
		Engine:       engineClient,
		Pool:         pool,
		Publisher:    publisher,
		Poll:         appCfg.Bridge.Poll,
		FetchUnknown: appCfg.FetchUnknownEnabled(),
		Timeouts:     appCfg.Bridge.Timeouts,
	})
	if err != nil {
		_ = pool.Close(ctx)
		return fmt.Errorf("init task service: %w", err)
	}

	limiter, closeLimiter := buildLimiter(ctx, appCfg)
	defer closeLimiter()

	httpServer := buildHTTPServer(appCfg, taskService, limiter)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		_ = taskService.Close(ctx)
		return fmt.Errorf("init http listener: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judgebridge http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("engine", appCfg.Engine.BaseURL),
			zap.Bool("callbacks", appCfg.CallbacksEnabled()),
			zap.String("store", taskStore.Name()),
			zap.Int("workers", appCfg.Bridge.Pool.Workers),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	closeCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(closeCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	if err := taskService.Close(closeCtx); err != nil {
		logger.Error(ctx, "poller shutdown failed", zap.Error(err))
	}
	return nil
}

// buildPublisher assembles the completion sinks: Kafka when brokers are set,
// the object storage archive when an endpoint is set.
func buildPublisher(ctx context.Context, appCfg *AppConfig) (event.CompletionPublisher, func(), error) {
	var sinks event.MultiPublisher
	var closers []func() error
	closeAll := func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}

	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			return nil, func() {}, fmt.Errorf("init kafka producer: %w", err)
		}
		mqPublisher := event.NewMQCompletionPublisher(producer, appCfg.Bridge.CompletionTopic)
		closers = append(closers, mqPublisher.Close)
		sinks = append(sinks, mqPublisher)
		logger.Info(ctx, "completion events enabled", zap.String("topic", appCfg.Bridge.CompletionTopic))
	}

	if appCfg.Archive.MinIO.Configured() {
		objects, err := storage.NewMinIOStorage(appCfg.Archive.MinIO)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("init result archive: %w", err)
		}
		bucketCtx, cancel := context.WithTimeout(ctx, appCfg.Bridge.Timeouts.Publish)
		err = objects.EnsureBucket(bucketCtx, appCfg.Archive.MinIO.Bucket, appCfg.Archive.MinIO.Region)
		cancel()
		if err != nil {
			logger.Warn(ctx, "result archive bucket check failed", zap.String("bucket", appCfg.Archive.MinIO.Bucket), zap.Error(err))
		}
		sinks = append(sinks, event.NewArchivePublisher(objects, appCfg.Archive.MinIO.Bucket, appCfg.Archive.Prefix))
		logger.Info(ctx, "result archive enabled", zap.String("bucket", appCfg.Archive.MinIO.Bucket))
	}

	switch len(sinks) {
	case 0:
		return event.NopPublisher{}, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

// buildLimiter shares limits through Redis when the task store uses it and
// counts in memory otherwise.
func buildLimiter(ctx context.Context, appCfg *AppConfig) (ratelimit.Limiter, func()) {
	if !appCfg.Server.RateLimit.Enabled() {
		return nil, func() {}
	}
	if appCfg.Store.Redis.Configured() {
		client, err := cache.NewRedisClient(ctx, appCfg.Store.Redis)
		if err == nil {
			logger.Info(ctx, "rate limits enabled", zap.String("backend", "redis"))
			return ratelimit.NewRedisLimiter(client, appCfg.Bridge.Timeouts.Store), func() { _ = client.Close() }
		}
		logger.Warn(ctx, "rate limit redis unavailable, counting in memory", zap.Error(err))
	}
	logger.Info(ctx, "rate limits enabled", zap.String("backend", "memory"))
	return ratelimit.NewMemoryLimiter(), func() {}
}

func buildHTTPServer(appCfg *AppConfig, taskService *service.Service, limiter ratelimit.Limiter) *http.Server {
	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      buildRouter(appCfg, taskService, limiter),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func buildRouter(appCfg *AppConfig, taskService *service.Service, limiter ratelimit.Limiter) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.CORSMiddleware(appCfg.Server.CORS))
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.Metrics())
	router.Use(commonmw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok", "store": taskService.StoreName()})
	})
	router.GET("/metrics", commonmw.MetricsHandler())

	taskController := controller.NewTaskController(taskService, controller.Config{
		EnableCallbacks: appCfg.CallbacksEnabled(),
		PublicURL:       appCfg.Bridge.PublicURL,
	})
	api := router.Group("/api")
	submitLimit := commonmw.RateLimitMiddleware(limiter, "submit", appCfg.Server.RateLimit.Submit)
	callbackLimit := commonmw.RateLimitMiddleware(limiter, "callback", appCfg.Server.RateLimit.Callback)
	api.POST("/submit", submitLimit, taskController.Submit)
	api.GET("/result/:token", taskController.Result)
	api.GET("/tasks", taskController.List)
	api.POST("/callback", callbackLimit, taskController.Callback)
	api.PUT("/callback", callbackLimit, taskController.Callback)
	api.GET("/languages", taskController.Languages)

	return router
}
