package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/davrin/sqlmentor/internal/api"
	"github.com/davrin/sqlmentor/internal/audit"
	"github.com/davrin/sqlmentor/internal/config"
	"github.com/davrin/sqlmentor/internal/embedding"
	"github.com/davrin/sqlmentor/internal/executor"
	"github.com/davrin/sqlmentor/internal/ingest"
	"github.com/davrin/sqlmentor/internal/loop"
	"github.com/davrin/sqlmentor/internal/memory"
	"github.com/davrin/sqlmentor/internal/provider"
	"github.com/davrin/sqlmentor/internal/retrieve"
	"github.com/davrin/sqlmentor/internal/schema"
	"github.com/davrin/sqlmentor/internal/validate"
	"github.com/davrin/sqlmentor/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting SQL Mentor...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/sqlmentor.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	ctx := context.Background()

	// Initialize provider router
	router := provider.NewRouter(logger)
	for _, pc := range cfg.Providers {
		provCfg := provider.Config{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
		}
	}
	if cfg.Models.Generation.Provider != "" {
		router.Bind(provider.PurposeGenerate, cfg.Models.Generation.Provider)
	}
	if cfg.Models.Extraction.Provider != "" {
		router.Bind(provider.PurposeExtract, cfg.Models.Extraction.Provider)
	}

	// Initialize knowledge memory store
	var store memory.Store
	var pgStore *memory.Postgres
	if cfg.Database.Memory.DSN != "" {
		ps, pgErr := memory.NewPostgres(cfg.Database.Memory.DSN, logger)
		if pgErr != nil {
			logger.Fatal("knowledge database unavailable", zap.Error(pgErr))
		}
		if mErr := ps.Migrate(ctx, "migrations"); mErr != nil {
			logger.Fatal("migration failed", zap.Error(mErr))
		}
		pgStore = ps
		store = ps
	} else {
		logger.Warn("no memory DSN configured, knowledge will not survive restarts")
		store = memory.NewInMem(logger)
	}

	// Connect the target database and load its schema catalog
	if cfg.Database.Target.DSN == "" {
		logger.Fatal("database.target.dsn is required")
	}
	targetPool, err := pgxpool.New(ctx, cfg.Database.Target.DSN)
	if err != nil {
		logger.Fatal("target database unavailable", zap.Error(err))
	}
	catalog, err := schema.Load(ctx, targetPool, logger)
	if err != nil {
		logger.Fatal("load target schema", zap.Error(err))
	}

	// Attempt recorder: Redis when configured, in-memory otherwise
	var recorder audit.Recorder
	var redisRec *audit.Redis
	if cfg.Database.Redis.URL != "" {
		rr, rErr := audit.NewRedis(cfg.Database.Redis.URL, 0, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, keeping attempt records in memory", zap.Error(rErr))
		} else {
			redisRec = rr
			recorder = rr
		}
	}
	if recorder == nil {
		recorder = audit.NewInMem(0)
	}

	// Core loop components
	retrCfg := retrieve.DefaultConfig()
	if cfg.Retrieval.TopK > 0 {
		retrCfg.TopK = cfg.Retrieval.TopK
	}
	if cfg.Retrieval.TagWeight > 0 {
		retrCfg.TagWeight = cfg.Retrieval.TagWeight
	}
	if cfg.Retrieval.FuzzyWeight > 0 {
		retrCfg.FuzzyWeight = cfg.Retrieval.FuzzyWeight
	}
	if cfg.Retrieval.VectorWeight > 0 {
		retrCfg.VectorWeight = cfg.Retrieval.VectorWeight
	}
	retriever := retrieve.New(store, catalog, retrCfg, logger)
	ingestor := ingest.New(store, router, catalog, cfg.Models.Extraction.Model, logger)

	// Optional semantic ranking via embeddings + Qdrant
	var index *vectorstore.Index
	if cfg.Embedding.Endpoint != "" && cfg.Database.Qdrant.Host != "" {
		embedder := embedding.NewClient(embedding.Config{
			Endpoint:  cfg.Embedding.Endpoint,
			Model:     cfg.Embedding.Model,
			APIKey:    cfg.Embedding.APIKey,
			Dimension: cfg.Embedding.Dimension,
		})
		idx, vErr := vectorstore.NewIndex(vectorstore.Config{
			Host: cfg.Database.Qdrant.Host,
			Port: cfg.Database.Qdrant.Port,
		})
		if vErr != nil {
			logger.Warn("Qdrant unavailable, running without semantic ranking", zap.Error(vErr))
		} else if iErr := idx.Init(ctx, uint64(embedder.Dimension())); iErr != nil {
			logger.Warn("Qdrant init failed, running without semantic ranking", zap.Error(iErr))
			idx.Close()
		} else {
			index = idx
			retriever.SetSemanticRanker(retrieve.NewVectorRanker(embedder, index, 0))
			ingestor.SetSemanticIndex(embedder, index)
			logger.Info("Semantic ranking enabled")
		}
	}

	exec := executor.NewPG(targetPool, cfg.Validator.MaxRows, logger)
	validator := validate.New(catalog, exec, time.Duration(cfg.Validator.TimeoutSeconds)*time.Second, logger)
	orch := loop.New(catalog, retriever, ingestor, validator, router, recorder, cfg.Models.Generation.Model, logger)

	// Build HTTP handler
	handler := api.NewHandler(orch, store, catalog, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("SQL Mentor listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down SQL Mentor...")
	srv.Shutdown(context.Background())
	targetPool.Close()
	if pgStore != nil {
		pgStore.Close()
	}
	if redisRec != nil {
		redisRec.Close()
	}
	if index != nil {
		index.Close()
	}
}
