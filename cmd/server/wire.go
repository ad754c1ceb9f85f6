package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/allfoodsicily/draftdesk/internal/api"
	"github.com/allfoodsicily/draftdesk/internal/cloudsql"
	"github.com/allfoodsicily/draftdesk/internal/config"
	"github.com/allfoodsicily/draftdesk/internal/database"
	"github.com/allfoodsicily/draftdesk/internal/delivery"
	"github.com/allfoodsicily/draftdesk/internal/generation"
	"github.com/allfoodsicily/draftdesk/internal/ingestion"
	"github.com/allfoodsicily/draftdesk/internal/logging"
	"github.com/allfoodsicily/draftdesk/internal/metrics"
	"github.com/allfoodsicily/draftdesk/internal/orchestrator"
	"github.com/allfoodsicily/draftdesk/internal/retry"
	"github.com/allfoodsicily/draftdesk/internal/selection"
	"github.com/allfoodsicily/draftdesk/internal/sources"
	"github.com/allfoodsicily/draftdesk/internal/telegram"
)

// maxItemsPerSource caps what one feed or page contributes to a run.
const maxItemsPerSource = 20

// app holds the long-lived components shared by the server and --now modes.
type app struct {
	supervisor *orchestrator.Supervisor
	registry   *sources.Registry
	telegram   *telegram.Client // nil without a bot token
	health     api.HealthFunc
	db         *sql.DB
}

// Close releases the database pool, if any.
func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// build wires the pipeline. collector may be nil, in which case pipeline
// metrics are not recorded.
func build(ctx context.Context, cfg config.Config, collector *metrics.HTTPCollector, logger *slog.Logger) (*app, error) {
	registry, err := sources.Load(cfg.Pipeline.SourcesFile)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	logger.Info("source registry loaded", "sources", registry.Len())

	var (
		observers []orchestrator.Observer
		pipeline  *metrics.Pipeline
	)
	if collector != nil {
		pipeline, err = metrics.NewPipeline(collector.Registerer())
		if err != nil {
			return nil, fmt.Errorf("init pipeline metrics: %w", err)
		}
		observers = append(observers, orchestrator.NewMetricsObserver(pipeline))
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Pipeline.RetryMaxAttempts
	policy.BaseDelay = cfg.Pipeline.RetryBaseDelay
	policy.MaxDelay = cfg.Pipeline.RetryMaxDelay
	if pipeline != nil {
		policy.Observer = func(op string, attempt int, err error) {
			pipeline.RetryAttempt(op)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Pipeline.FetchTimeout}
	fetcher := ingestion.NewStrategyFetcher(httpClient, maxItemsPerSource)
	sourceCollector := ingestion.NewCollector(fetcher, logging.Component(logger, "collector"), ingestion.CollectorConfig{
		ConcurrentFetches: cfg.Pipeline.MaxConcurrentFetches,
		FetchTimeout:      cfg.Pipeline.FetchTimeout,
		RetryPolicy:       policy,
	})

	text, image := buildModels(cfg.Generation)
	generator := generation.NewGenerator(text, image, generation.GeneratorConfig{
		MinWords:           cfg.Pipeline.MinWords,
		MaxWords:           cfg.Pipeline.MaxWords,
		IllustrationPolicy: cfg.Pipeline.IllustrationPolicy,
		RetryPolicy:        policy,
	}, logging.Component(logger, "generator"))
	batch := generation.NewBatch(generator, generation.BatchConfig{
		MaxConcurrent: cfg.Pipeline.MaxConcurrentGenerations,
		Timeout:       cfg.Pipeline.BatchTimeout,
	}, logging.Component(logger, "batch"))

	// Long polling needs a client timeout above the poll window.
	botClient := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL, &http.Client{Timeout: 90 * time.Second})
	deliverer := telegram.NewDeliverer(botClient, cfg.Telegram.ChatID, logging.Component(logger, "telegram"))
	dispatcher := delivery.NewDispatcher(deliverer, delivery.NewRenderer(cfg.Schedule.Location), policy, logging.Component(logger, "dispatcher"))

	a := &app{registry: registry}
	if cfg.Telegram.BotToken != "" {
		a.telegram = botClient
	}

	history, err := a.openHistory(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	selectionConfig := selection.DefaultConfig()
	selectionConfig.MinTopics = cfg.Pipeline.MinTopics
	selectionConfig.MaxTopics = cfg.Pipeline.MaxTopics

	a.supervisor = orchestrator.New(orchestrator.Dependencies{
		Registry:   registry,
		Collector:  sourceCollector,
		Selection:  selectionConfig,
		Generator:  batch,
		Dispatcher: dispatcher,
		History:    history,
		Validate:   cfg.Validate,
		Observers:  observers,
	}, logger)

	return a, nil
}

// buildModels picks the text provider and, when enabled, the image provider.
func buildModels(cfg config.GenerationConfig) (generation.TextGenerator, generation.ImageGenerator) {
	oai := generation.NewOpenAI(generation.OpenAIConfig{
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
		ImageModel: cfg.OpenAIImageModel,
		BaseURL:    cfg.OpenAIBaseURL,
	})

	var text generation.TextGenerator = oai
	if cfg.TextProvider == "anthropic" {
		text = generation.NewAnthropic(generation.AnthropicConfig{
			APIKey: cfg.AnthropicAPIKey,
			Model:  cfg.AnthropicModel,
		})
	}

	var image generation.ImageGenerator
	if cfg.ImagesEnabled {
		image = oai
	}
	return text, image
}

// openHistory connects the Postgres topic history, or falls back to memory
// when no database is configured.
func (a *app) openHistory(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (orchestrator.History, error) {
	if cfg.URL == "" {
		logger.Info("no DATABASE_URL, topic history kept in memory")
		return database.NewMemoryTopicHistory(cfg.HistoryRetention), nil
	}

	logger.Info("database configuration", "config", cloudsql.Describe(cfg.URL))
	dbConfig := database.DefaultConfig()
	dbConfig.URL = cfg.URL
	db, err := database.Connect(ctx, dbConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.RunMigrations(ctx, db, database.Migrations, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database connected", "stats", database.Stats(db))

	repo := database.NewTopicHistoryRepository(db, cfg.HistoryRetention)
	if removed, err := repo.Prune(ctx); err != nil {
		logger.Warn("failed to prune topic history", "error", err)
	} else if removed > 0 {
		logger.Info("pruned topic history", "removed", removed)
	}

	a.db = db
	a.health = func(ctx context.Context) error {
		return database.HealthCheck(ctx, db)
	}
	return repo, nil
}
