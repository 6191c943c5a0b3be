package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"video_platform_service/internal/video/app"
	"video_platform_service/internal/video/repository"
	"video_platform_service/pkg/cache"
	"video_platform_service/pkg/config"
	"video_platform_service/pkg/database"
	"video_platform_service/pkg/logger"
	"video_platform_service/pkg/queue"

	"go.uber.org/zap"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ProcessingWorker, config.EnvConfig.ProcessingWorkerLogPath)

	cfg := config.LoadConfig[config.Worker](config.EnvConfig.ProcessingWorker, config.EnvConfig.ProcessingWorkerYAMLPath)

	// 1. 連線 PostgreSQL
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		cfg.PostgreSQL.Host, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database, cfg.PostgreSQL.Port)
	db, err := database.NewPGConnection(database.Connection{
		ConnectStr: dsn,

		RetryCount:    cfg.PostgreSQL.RetryCount,
		RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
	})
	if err != nil {
		logger.Log.Fatal(
			"Unable to connect to postgreSQL database after retries",
			zap.String("address", fmt.Sprintf("[%s]", dsn)),
			zap.Error(err),
		)
	}

	videoRepo := repository.NewVideoRepo(db)
	if err := videoRepo.AutoMigrate(); err != nil {
		log.Fatalf("資料表遷移失敗: %v", err)
	}

	// 2. 初始化 MinIO 客戶端
	minioClient, err := database.NewMinIOConnection(database.MinIOConnection{
		Endpoint:   fmt.Sprintf("%s:%d", cfg.MinIO.Host, cfg.MinIO.Port),
		User:       cfg.MinIO.User,
		Password:   cfg.MinIO.Password,
		BucketName: cfg.MinIO.BucketName,
		UseSSL:     cfg.MinIO.UseSSL,

		RetryCount:    cfg.MinIO.RetryCount,
		RetryInterval: cfg.MinIO.RetryInterval,
	})
	if err != nil {
		logger.Log.Fatal("Unable to connect to minio after retries", zap.Error(err))
	}

	// 3. cache store，.env 有 Redis sentinel 設定就走 Redis，否則退回記憶體快取
	var cacheStore cache.CacheStore = cache.NewMemoryCache()
	if masterName, sentinelAddrs := config.GetRedisSetting(); len(sentinelAddrs) > 0 {
		redisClient, err := database.NewRedisClient(masterName, sentinelAddrs, cfg.Redis.RedisDB)
		if err != nil {
			logger.Log.Fatal(fmt.Sprintf("connect redis err : %v", err))
		}
		defer redisClient.Close()
		cacheStore = cache.NewRedisCache(redisClient)
	}

	// 4. 依設定選 job queue 後端
	visibilityTimeout := time.Duration(cfg.Queue.VisibilityTimeout) * time.Second
	retryBaseDelay := time.Duration(cfg.Queue.RetryBaseDelay) * time.Second

	var jobQueue queue.JobQueue
	switch cfg.Queue.Backend {
	case "postgres":
		pool, err := database.NewDatabaseConnection(database.Connection{
			ConnectStr:    fmt.Sprintf("postgres://%s:%s@%s:%d/%s", cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.Database),
			RetryCount:    cfg.PostgreSQL.RetryCount,
			RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
		})
		if err != nil {
			log.Fatalf("PostgreSQL 連線失敗: %v", err)
		}
		defer pool.Close()

		pgQueue := queue.NewPostgresQueue(pool, visibilityTimeout, retryBaseDelay)
		if err := pgQueue.Migrate(context.Background()); err != nil {
			log.Fatalf("job 資料表遷移失敗: %v", err)
		}
		jobQueue = pgQueue
	case "rabbitmq":
		rabbitURL := fmt.Sprintf("amqp://%s:%s@%s:%s/", cfg.RabbitMQ.User, cfg.RabbitMQ.Password, cfg.RabbitMQ.IP, cfg.RabbitMQ.Port)
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    rabbitURL,
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: time.Duration(cfg.RabbitMQ.RetryInterval),
		})
		if err != nil {
			log.Fatalf("RabbitMQ 連線失敗: %v", err)
		}
		defer conn.Close()

		rabbitChannel, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, cfg.RabbitMQ.RetryInterval)
		if err != nil {
			log.Fatalf("取得 RabbitMQ Channel 失敗: %v", err)
		}
		defer rabbitChannel.Close()

		jobQueue = queue.NewRabbitQueue(rabbitChannel, retryBaseDelay)
	default:
		jobQueue = queue.NewMemoryQueue(visibilityTimeout, retryBaseDelay)
	}

	// 5. Kafka 事件發佈，連不上就退回 Nop
	var events app.EventPublisher = app.NopEventPublisher{}
	if len(cfg.KafKa.Brokers) > 0 {
		kafkaWriter, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
			Brokers:       cfg.KafKa.Brokers,
			Topic:         cfg.KafKa.Topic,
			RetryCount:    cfg.KafKa.RetryCount,
			RetryInterval: time.Duration(cfg.KafKa.RetryInterval),
		})
		if err != nil {
			logger.Log.Warn(fmt.Sprintf("Kafka Writer 建立失敗，改用 Nop publisher: %v", err))
		} else {
			defer kafkaWriter.Close()
			events = app.NewKafkaEventPublisher(kafkaWriter)
		}
	}

	worker := app.NewWorker(jobQueue, videoRepo, minioClient,
		app.NewFFmpegProcessor(), events, cacheStore,
		cfg.Queue.Name,
		time.Duration(cfg.PollInterval)*time.Second,
		cfg.OutputBaseDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker.Start(ctx)
	logger.Log.Info("worker stopped")
}
