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
	"time"

	"ojsubmit/internal/common/cache"
	"ojsubmit/internal/common/db"
	commonmw "ojsubmit/internal/common/http/middleware"
	"ojsubmit/internal/common/mq"
	"ojsubmit/internal/common/storage"
	"ojsubmit/internal/judge/repository"
	"ojsubmit/internal/submit/controller"
	submitRepo "ojsubmit/internal/submit/repository"
	"ojsubmit/internal/submit/service"
	"ojsubmit/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/submit_service.yaml"

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
	ctx := context.Background()

	mysqlDB, err := db.NewMySQL(appCfg.Database)
	if err != nil {
		logger.Error(ctx, "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka)
	if err != nil {
		logger.Error(ctx, "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	objStorage, err := buildStorage(ctx, appCfg)
	if err != nil {
		logger.Error(ctx, "init object storage failed", zap.Error(err))
		return
	}

	submissionRepo := submitRepo.NewSubmissionRepositoryWithTTL(mysqlDB, redisCache, appCfg.Submit.SubmissionCacheTTL, appCfg.Submit.SubmissionEmptyTTL)
	statusRepo := repository.NewStatusRepository(redisCache, submissionRepo, appCfg.Submit.StatusTTL, appCfg.Submit.StatusEmptyTTL)

	submitService, err := service.NewSubmitService(service.Config{
		SubmissionRepo:  submissionRepo,
		StatusRepo:      statusRepo,
		Storage:         objStorage,
		MQ:              mqClient,
		Cache:           redisCache,
		Topics:          appCfg.Topics,
		SourceBucket:    appCfg.Submit.SourceBucket,
		SourceKeyPrefix: appCfg.Submit.SourceKeyPrefix,
		MaxCodeBytes:    appCfg.Submit.MaxCodeBytes,
		Languages:       appCfg.Submit.Languages,
		IdempotencyTTL:  appCfg.Submit.IdempotencyTTL,
		BatchLimit:      appCfg.Submit.BatchLimit,
		RateLimit:       appCfg.Submit.RateLimit,
		Timeouts:        appCfg.Submit.Timeouts,
	})
	if err != nil {
		logger.Error(ctx, "init submit service failed", zap.Error(err))
		return
	}

	if err := mqClient.SubscribeWithOptions(ctx, appCfg.Submit.StatusFinalTopic, submitService.HandleFinalStatusMessage, appCfg.Submit.StatusFinalConsumer.SubscribeOptions()); err != nil {
		logger.Error(ctx, "subscribe status final topic failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(ctx, "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, controller.NewSubmitController(submitService))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "submit http server started", zap.String("addr", appCfg.Server.Addr))
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

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	_ = mqClient.Stop()
}

func buildStorage(ctx context.Context, cfg *AppConfig) (storage.ObjectStorage, error) {
	if cfg.MinIO.Endpoint == "" {
		logger.Warn(ctx, "minio endpoint not set, sources are kept in memory")
		return storage.NewMemoryStorage(), nil
	}
	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if err := objStorage.EnsureBucket(ctx, cfg.Submit.SourceBucket); err != nil {
		return nil, err
	}
	return objStorage, nil
}

func buildHTTPServer(cfg ServerConfig, submitController *controller.SubmitController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	submitController.RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
