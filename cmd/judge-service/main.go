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
	"ojsubmit/internal/judge/archive"
	"ojsubmit/internal/judge/controller"
	"ojsubmit/internal/judge/repository"
	"ojsubmit/internal/judge/service"
	submitRepo "ojsubmit/internal/submit/repository"
	"ojsubmit/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

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

	redisCache, err := cache.NewRedisCache(appCfg.Redis)
	if err != nil {
		logger.Error(ctx, "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	var finalStore repository.FinalStatusStore
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQL(appCfg.Database)
		if err != nil {
			logger.Error(ctx, "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		finalStore = submitRepo.NewSubmissionRepository(mysqlDB, redisCache)
	}

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
	codec, err := archive.NewCodec(zstd.EncoderLevelFromZstd(appCfg.Archive.Level))
	if err != nil {
		logger.Error(ctx, "init archive codec failed", zap.Error(err))
		return
	}
	defer codec.Close()

	statusRepo := repository.NewStatusRepository(redisCache, finalStore, appCfg.Status.TTL, appCfg.Status.EmptyTTL)
	statusPublisher := repository.NewMQStatusEventPublisher(mqClient, appCfg.Topics.StatusFinal)
	judgeSvc, err := service.NewService(service.Config{
		StatusRepo:     statusRepo,
		Publisher:      statusPublisher,
		Archiver:       archive.NewArchiver(objStorage, appCfg.Archive.Bucket, codec, appCfg.Archive.Timeout),
		StatusTimeout:  appCfg.Status.Timeout,
		PublishTimeout: appCfg.Status.PublishTimeout,
		WorkerPoolSize: appCfg.Worker.PoolSize,
		SlotWait:       appCfg.Worker.SlotWait,
		Requeue: service.RequeuePolicy{
			Queue:           mqClient,
			RetryTopic:      appCfg.Topics.Retry,
			DeadLetterTopic: appCfg.Topics.DeadLetter,
			MaxAttempts:     appCfg.Worker.PoolRetryMax,
			BaseDelay:       appCfg.Worker.PoolRetryBase,
			MaxDelay:        appCfg.Worker.PoolRetryMaxD,
		},
	})
	if err != nil {
		logger.Error(ctx, "init judge service failed", zap.Error(err))
		return
	}

	subscriptions := map[string]mq.HandlerFunc{
		appCfg.Topics.Results:  judgeSvc.HandleResultMessage,
		appCfg.Topics.Progress: judgeSvc.HandleProgressMessage,
	}
	if appCfg.Topics.Retry != "" {
		subscriptions[appCfg.Topics.Retry] = judgeSvc.HandleResultMessage
	}
	for topic, handler := range subscriptions {
		if err := mqClient.SubscribeWithOptions(ctx, topic, handler, appCfg.Consumer.SubscribeOptions()); err != nil {
			logger.Error(ctx, "subscribe kafka failed", zap.String("topic", topic), zap.Error(err))
			return
		}
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(ctx, "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, controller.NewJudgeController(judgeSvc))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
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
		logger.Warn(ctx, "minio endpoint not set, archives are kept in memory")
		return storage.NewMemoryStorage(), nil
	}
	objStorage, err := storage.NewMinIOStorage(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	if err := objStorage.EnsureBucket(ctx, cfg.Archive.Bucket); err != nil {
		return nil, err
	}
	return objStorage, nil
}

func buildHTTPServer(cfg ServerConfig, judgeController *controller.JudgeController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())
	judgeController.RegisterRoutes(router)

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
