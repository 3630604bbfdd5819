package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"docchat/internal/ai"
	"docchat/internal/cache"
	"docchat/internal/config"
	"docchat/internal/ingest"
	"docchat/internal/model"
	mysqlClient "docchat/internal/platform/mysql"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	"docchat/internal/repository"
	"docchat/internal/vectorstore"
	"docchat/internal/vectorstore/qdrant"
	"docchat/internal/vectorstore/sqlstore"
	"docchat/internal/worker"
)

type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	LLM          *ai.OpenAICompatibleClient
	VectorStore  vectorstore.Store
	HistoryCache *cache.HistoryCache
	Dispatcher   *rabbitmqClient.IngestPublisher
	IngestWorker *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQL, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlClient.Migrate(mysqlDB, &model.Document{}, &model.Message{}); err != nil {
		return nil, err
	}

	store, err := newVectorStore(ctx, cfg, mysqlDB)
	if err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		return nil, err
	}

	llm := ai.NewOpenAICompatibleClient(ai.ClientConfig{
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		EmbeddingModel:    cfg.LLM.EmbeddingModel,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Timeout:           time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})

	pipeline := ingest.NewPipeline(
		repository.NewDocumentRepository(mysqlDB),
		ingest.NewHTTPFetcher(time.Duration(cfg.Ingest.FetchTimeoutSeconds)*time.Second, cfg.Ingest.MaxFileBytes),
		ingest.PageParser{},
		llm,
		store,
		ingest.Options{
			MaxPages:    cfg.RAG.MaxPages,
			BatchSize:   cfg.RAG.EmbeddingBatchSize,
			Concurrency: cfg.RAG.EmbeddingConcurrency,
		},
		logger,
	)
	ingestWorker := worker.NewIngestWorker(mqConn, pipeline, cfg.RabbitMQ.IngestQueue, cfg.RabbitMQ.Prefetch, logger)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:      cfg,
		Logger:      logger,
		MySQL:       mysqlDB,
		Redis:       redisCli,
		MQConn:      mqConn,
		LLM:         llm,
		VectorStore: store,
		HistoryCache: cache.NewHistoryCache(
			redisCli,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		),
		Dispatcher:   rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue),
		IngestWorker: ingestWorker,
		StartedAt:    time.Now(),
	}, nil
}

func newVectorStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (vectorstore.Store, error) {
	switch cfg.VectorStore.Driver {
	case "qdrant":
		store := qdrant.New(qdrant.Config{
			BaseURL:    cfg.VectorStore.QdrantURL,
			APIKey:     cfg.VectorStore.QdrantAPIKey,
			Collection: cfg.VectorStore.QdrantCollection,
		})
		if err := store.EnsureCollection(ctx, cfg.VectorStore.Dimensions); err != nil {
			return nil, fmt.Errorf("prepare qdrant collection failed: %w", err)
		}
		return store, nil
	default:
		store := sqlstore.New(db)
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		return store, nil
	}
}

func (a *App) Close() error {
	var closeErr error
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
