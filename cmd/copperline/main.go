package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nidhogg/copperline/internal/api"
	"github.com/nidhogg/copperline/internal/chat"
	"github.com/nidhogg/copperline/internal/config"
	convctx "github.com/nidhogg/copperline/internal/context"
	"github.com/nidhogg/copperline/internal/provider"
	"github.com/nidhogg/copperline/internal/retrieval"
	pgstore "github.com/nidhogg/copperline/internal/store"
	"github.com/nidhogg/copperline/internal/token"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/copperline.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fallback, _ := zap.NewDevelopment()
		fallback.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting Copperline...", zap.String("config", cfgPath))

	// Provider catalog
	catalog := provider.NewCatalog(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Priority: pc.Priority,
		}
		switch pc.Type {
		case "openai":
			catalog.Register(provider.NewOpenAIProvider(provCfg, logger), pc.Models, pc.Priority)
		case "anthropic":
			catalog.Register(provider.NewAnthropicProvider(provCfg, logger), pc.Models, pc.Priority)
		case "mistral":
			catalog.Register(provider.NewMistralProvider(provCfg, logger), pc.Models, pc.Priority)
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}

	client := provider.NewClient(catalog, streamTimeout(cfg.Chat.StreamTimeout, logger), logger)
	orch := provider.NewOrchestrator(catalog, client, logger)

	// Token counting: precise when the encoding loads, heuristic otherwise.
	encoding := cfg.Chat.TokenEncoding
	if encoding == "" {
		encoding = "cl100k_base"
	}
	var counter *token.Counter
	if est, tkErr := token.NewTiktoken(encoding); tkErr != nil {
		logger.Warn("tiktoken encoding unavailable, using heuristic estimates", zap.Error(tkErr))
		counter = token.NewCounter(nil)
	} else {
		counter = token.NewCounter(est)
	}

	// PostgreSQL store
	var store *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(context.Background(), cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without persistence", zap.Error(pgErr))
		} else {
			migrationsDir := cfg.Chat.MigrationsDir
			if migrationsDir == "" {
				migrationsDir = "migrations"
			}
			if mErr := ps.Migrate(context.Background(), migrationsDir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			store = ps
		}
	}
	if store == nil {
		logger.Fatal("a PostgreSQL DSN is required; conversations cannot be kept in memory")
	}

	// Persisted provider toggles take effect before the first request.
	if rows, rErr := store.ListProviders(context.Background()); rErr != nil {
		logger.Warn("failed to load provider registrations", zap.Error(rErr))
	} else {
		for _, row := range rows {
			if _, ok := catalog.Provider(row.ID); ok && !row.Enabled {
				catalog.SetEnabled(row.ID, false)
			}
		}
	}

	// CRM snapshots, cached in Redis when available.
	var crm chat.CRMProvider = store
	var cache *pgstore.SnapshotCache
	if cfg.Database.Redis.URL != "" {
		c, cErr := pgstore.NewSnapshotCache(cfg.Database.Redis.URL, store, snapshotTTL(cfg.Chat.SnapshotTTL, logger), logger)
		if cErr != nil {
			logger.Warn("Redis unavailable, CRM snapshots uncached", zap.Error(cErr))
		} else {
			cache = c
			crm = c
		}
	}

	// Note retrieval over Qdrant.
	var retriever chat.Retriever
	var notes api.NoteIndexer
	var qdrant *retrieval.QdrantClient
	if cfg.Database.Qdrant.Host != "" {
		qc, qErr := retrieval.NewQdrantClient(retrieval.QdrantConfig{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if qErr != nil {
			logger.Warn("Qdrant unavailable, running without note retrieval", zap.Error(qErr))
		} else {
			embedder := retrieval.NewEmbedder(retrieval.EmbedderConfig{
				Provider:  cfg.Embedding.Provider,
				Endpoint:  cfg.Embedding.Endpoint,
				Model:     cfg.Embedding.Model,
				APIKey:    cfg.Embedding.APIKey,
				Dimension: cfg.Embedding.Dimension,
			})
			searcher := retrieval.NewSearcher(embedder, qc, logger)
			if iErr := searcher.Init(context.Background()); iErr != nil {
				logger.Warn("Qdrant collection init failed, running without note retrieval", zap.Error(iErr))
			} else {
				qdrant = qc
				retriever = searcher
				notes = searcher
			}
		}
	}

	summarizer := convctx.NewSummarizer(orch, catalog, logger)
	svc := chat.NewService(catalog, orch, counter, summarizer, store, crm, retriever, logger)
	handler := api.NewHandler(svc, catalog, store, store, notes, logger)

	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Copperline listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Copperline...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	if cache != nil {
		cache.Close()
	}
	if qdrant != nil {
		qdrant.Close()
	}
	store.Close()
}

func newLogger(level string) *zap.Logger {
	var logger *zap.Logger
	var err error
	switch level {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func streamTimeout(raw string, logger *zap.Logger) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid stream_timeout, using default", zap.String("value", raw))
		return 0
	}
	return d
}

func snapshotTTL(raw string, logger *zap.Logger) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("invalid snapshot_ttl, using default", zap.String("value", raw))
		return 0
	}
	return d
}
