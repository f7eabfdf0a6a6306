// Package app wires the application components together: database pool,
// Genkit, stores, retrieval pipeline, and the chat orchestrator.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/uzhavan/uzhavan/db"
	"github.com/uzhavan/uzhavan/internal/chat"
	"github.com/uzhavan/uzhavan/internal/config"
	"github.com/uzhavan/uzhavan/internal/genai"
	"github.com/uzhavan/uzhavan/internal/knowledge"
	"github.com/uzhavan/uzhavan/internal/log"
	"github.com/uzhavan/uzhavan/internal/rag"
	"github.com/uzhavan/uzhavan/internal/session"
)

// App holds the wired application components.
type App struct {
	Config *config.Config
	Logger log.Logger
	Pool   *pgxpool.Pool
	Genkit *genkit.Genkit

	SessionStore   *session.Store
	KnowledgeStore *knowledge.Store
	Indexer        *knowledge.Indexer
	Orchestrator   *chat.Orchestrator
}

// Setup runs migrations, opens the database pool, initializes Genkit, and
// wires stores, retrieval, and the orchestrator. Call Close when done.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	pool, err := providePool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	g, err := genai.Init(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("initializing genkit: %w", err)
	}

	embedder := genai.Embedder(g, cfg.EmbedderModel)

	sessionStore := session.NewStore(pool, logger)
	knowledgeStore := knowledge.NewStore(pool, embedder, logger)
	indexer := knowledge.NewIndexer(knowledgeStore, logger)
	pipeline := rag.NewPipeline(knowledgeStore, cfg.RetrievalTopK, logger)

	generator, err := genai.NewGenerator(g, genai.GeneratorConfig{
		ModelName:   cfg.FullModelName(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	orchestrator, err := chat.New(chat.Config{
		Store:         sessionStore,
		Retriever:     pipeline,
		Generator:     generator,
		HistoryWindow: cfg.HistoryWindow,
		Instruction:   cfg.SystemInstruction,
		Logger:        logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	return &App{
		Config:         cfg,
		Logger:         logger,
		Pool:           pool,
		Genkit:         g,
		SessionStore:   sessionStore,
		KnowledgeStore: knowledgeStore,
		Indexer:        indexer,
		Orchestrator:   orchestrator,
	}, nil
}

// Close releases held resources.
func (a *App) Close() error {
	if a.Pool != nil {
		a.Pool.Close()
	}
	return nil
}

// providePool runs migrations and opens a configured connection pool.
func providePool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
