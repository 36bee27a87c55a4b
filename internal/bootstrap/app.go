package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/storage"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"gorm.io/gorm"

	"docchat/internal/abort"
	"docchat/internal/ai"
	"docchat/internal/answer"
	appsvc "docchat/internal/app"
	"docchat/internal/cache"
	"docchat/internal/config"
	"docchat/internal/ingest"
	"docchat/internal/job"
	"docchat/internal/model"
	"docchat/internal/objectstore"
	gcsClient "docchat/internal/platform/gcs"
	mysqlClient "docchat/internal/platform/mysql"
	rabbitmqClient "docchat/internal/platform/rabbitmq"
	redisClient "docchat/internal/platform/redis"
	weaviateClient "docchat/internal/platform/weaviate"
	"docchat/internal/repository"
	"docchat/internal/retrieval"
	"docchat/internal/vectorstore"
	"docchat/internal/worker"
)

type App struct {
	Config *config.Config
	Logger *slog.Logger

	MySQL     *gorm.DB
	Redis     *redis.Client
	MQConn    *amqp.Connection
	Weaviate  *wv.Client
	GCS       *storage.Client
	Publisher *rabbitmqClient.MessagePublisher

	MessageWorker *worker.MessagePersistWorker

	Chat      *appsvc.ChatService
	Documents *appsvc.DocumentService
	Sessions  *appsvc.SessionService
	Feedback  *appsvc.FeedbackService

	StartedAt time.Time
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Session{},
		&model.Message{},
		&model.ActiveDocument{},
		&model.Chunk{},
		&model.Document{},
		&model.RetrievalFeedback{},
		&model.RetrievalStat{},
	); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}
	return nil
}

// EnsureVectorSchema creates the chunk class in weaviate when missing.
func EnsureVectorSchema(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	client, err := weaviateClient.New(ctx, cfg.Weaviate.Host, cfg.Weaviate.Scheme, cfg.Weaviate.APIKey)
	if err != nil {
		return err
	}
	if err := vectorstore.NewWeaviate(client, nil, cfg.Weaviate.ClassName, logger).EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure weaviate schema failed: %w", err)
	}
	return nil
}

// OpenMySQL connects with the configured pool settings.
func OpenMySQL(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	return mysqlClient.New(ctx, mysqlClient.Options{
		DSN:     cfg.MySQLDSN(),
		Verbose: cfg.IsDev(),
	})
}

// New connects every dependency and wires the services. Redis and RabbitMQ
// are optional; without them state stays process-local and messages are
// written synchronously.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := NewLogger(os.Stdout, cfg.App.Env, cfg.App.LogFormat, cfg.App.LogLevel)
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	db, err := OpenMySQL(ctx, cfg)
	if err != nil {
		return err
	}
	a.MySQL = db
	if err := Migrate(db); err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		if a.Redis, err = redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
			return err
		}
	}
	if cfg.RabbitMQ.Enabled {
		if a.MQConn, err = rabbitmqClient.New(ctx, cfg.RabbitMQ.URL); err != nil {
			return err
		}
	}
	if a.Weaviate, err = weaviateClient.New(ctx, cfg.Weaviate.Host, cfg.Weaviate.Scheme, cfg.Weaviate.APIKey); err != nil {
		return err
	}
	if cfg.Storage.Bucket != "" {
		if a.GCS, err = gcsClient.New(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config
	logger := a.Logger

	sessionRepo := repository.NewSessionRepository(a.MySQL)
	messageRepo := repository.NewMessageRepository(a.MySQL)
	bindingRepo := repository.NewActiveDocumentRepository(a.MySQL)
	chunkRepo := repository.NewChunkRepository(a.MySQL)
	documentRepo := repository.NewDocumentRepository(a.MySQL)
	feedbackRepo := repository.NewFeedbackRepository(a.MySQL)

	usedTTL := time.Duration(cfg.Memory.UsedChunksTTLSeconds) * time.Second
	var (
		abortStore abort.Store
		memory     interface {
			answer.ChunkMemory
			appsvc.UsedChunkClearer
		}
		historyCache appsvc.HistoryCache
		invalidator  worker.HistoryInvalidator
	)
	if a.Redis != nil {
		hc := cache.NewHistoryCache(a.Redis,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second)
		abortStore = abort.NewRedisStore(a.Redis)
		memory = cache.NewRedisChunkMemory(a.Redis, usedTTL)
		historyCache, invalidator = hc, hc
	} else {
		abortStore = abort.NewMemoryStore()
		memory = cache.NewLocalChunkMemory(usedTTL)
	}
	aborts := abort.NewCoordinator(abortStore, time.Duration(cfg.Memory.AbortTTLSeconds)*time.Second, logger)

	var publisher appsvc.MessagePublisher
	if a.MQConn != nil {
		a.Publisher = rabbitmqClient.NewMessagePublisher(a.MQConn, cfg.RabbitMQ.MessagePersistQueue)
		publisher = a.Publisher
		a.MessageWorker = worker.NewMessagePersistWorker(a.MQConn, messageRepo, invalidator, cfg.RabbitMQ.MessagePersistQueue, logger)
		if err := a.MessageWorker.Start(ctx); err != nil {
			return fmt.Errorf("start message worker failed: %w", err)
		}
	}
	history := appsvc.NewChatHistory(messageRepo, publisher, historyCache, logger)

	embedder := ai.NewEmbedder(ai.EmbeddingConfig{
		BaseURL: cfg.LLM.EmbeddingURL,
		APIKey:  cfg.LLM.EmbeddingAPIKey,
		Model:   cfg.LLM.EmbeddingModel,
	})
	vectors := vectorstore.NewWeaviate(a.Weaviate, embedder, cfg.Weaviate.ClassName, logger)
	if err := vectors.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure weaviate schema failed: %w", err)
	}

	var objects objectstore.Store = objectstore.NewLocal(cfg.Storage.LocalDir)
	if a.GCS != nil {
		objects = objectstore.NewGCS(a.GCS, cfg.Storage.Bucket)
	}

	chunkStore := retrieval.NewChunkStore(chunkRepo)
	var reranker retrieval.Reranker
	if cfg.Reranker.BaseURL != "" {
		reranker = ai.NewHTTPReranker(ai.RerankerConfig{
			BaseURL: cfg.Reranker.BaseURL,
			APIKey:  cfg.Reranker.APIKey,
			Model:   cfg.Reranker.Model,
			Timeout: time.Duration(cfg.Reranker.TimeoutSeconds) * time.Second,
		})
	}
	engine := retrieval.NewEngine(vectors, chunkStore, chunkStore, reranker, retrieval.Options{
		CandidateK:        cfg.Retrieval.CandidateK,
		DetailedExtraK:    cfg.Retrieval.DetailedExtraK,
		KeywordLimit:      cfg.Retrieval.KeywordLimit,
		TopK:              cfg.Retrieval.TopK,
		DetailedExtraTopK: cfg.Retrieval.DetailedExtraTK,
	}, logger)

	orchestrator := answer.New(answer.Deps{
		Aborts:     aborts,
		Retriever:  engine,
		Loader:     chunkStore,
		Memory:     memory,
		History:    history,
		Generators: generators(cfg),
		Guard:      answer.NewGuard(cfg.LLM.RemoteProvider, cfg.Guard.MaxRequestsPerMinute, cfg.Guard.MaxConcurrentStreams),
		Limits: answer.Limits{
			MaxTokens:     cfg.Guard.MaxTokens,
			LiteMaxTokens: cfg.Guard.LiteMaxTokens,
		},
		Stats:  appsvc.NewRetrievalStats(feedbackRepo),
		Logger: logger,
	})

	tracker := job.NewTracker(aborts, bindingRepo, logger)
	streams := appsvc.NewStreams()
	pipeline := ingest.NewPipeline(objects, ingest.NewPDFParser(), embedder, vectors, chunkRepo, documentRepo, logger)

	a.Chat = appsvc.NewChatService(tracker, bindingRepo, sessionRepo, aborts, streams, orchestrator, history, logger)
	a.Documents = appsvc.NewDocumentService(tracker, sessionRepo, objects, documentRepo, pipeline, bindingRepo, memory, cfg.Storage.MaxUploadMB, logger)
	a.Sessions = appsvc.NewSessionService(sessionRepo, tracker, bindingRepo, memory, history, aborts, streams, logger)
	a.Feedback = appsvc.NewFeedbackService(feedbackRepo, sessionRepo, logger)
	return nil
}

// generators builds one backend per answer mode. The remote backend is only
// configured when an API key is present; with PreferRemote it also serves the
// base mode.
func generators(cfg *config.Config) answer.Generators {
	local := func(model string) ai.Generator {
		if model == "" {
			return nil
		}
		return ai.NewOpenAIGenerator(ai.GeneratorConfig{
			BaseURL:  cfg.LLM.LocalBaseURL,
			Model:    model,
			Provider: "local",
		})
	}
	gens := answer.Generators{
		Lite: local(cfg.LLM.LiteModel),
		Base: local(cfg.LLM.LocalModel),
	}
	if cfg.LLM.RemoteAPIKey != "" {
		gens.Net = ai.NewOpenAIGenerator(ai.GeneratorConfig{
			BaseURL:  cfg.LLM.RemoteBaseURL,
			APIKey:   cfg.LLM.RemoteAPIKey,
			Model:    cfg.LLM.RemoteModel,
			Provider: cfg.LLM.RemoteProvider,
			Remote:   true,
		})
		if cfg.LLM.PreferRemote {
			gens.Base = gens.Net
		}
	}
	return gens
}

// HealthChecks returns one probe per dependency; nil marks a dependency
// that is disabled by configuration.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"mysql": func(ctx context.Context) error {
			sqlDB, err := a.MySQL.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"weaviate": func(ctx context.Context) error {
			ready, err := a.Weaviate.Misc().ReadyChecker().Do(ctx)
			if err != nil {
				return err
			}
			if !ready {
				return errors.New("weaviate is not ready")
			}
			return nil
		},
		"redis":    nil,
		"rabbitmq": nil,
	}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	if a.MQConn != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if a.MQConn.IsClosed() {
				return errors.New("rabbitmq connection closed")
			}
			return nil
		}
	}
	return checks
}

func (a *App) Close() error {
	var closeErr error
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.GCS != nil {
		if err := a.GCS.Close(); err != nil {
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
