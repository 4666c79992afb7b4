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
	"go.uber.org/zap"

	"github.com/nidhogg/bugsmith/internal/api"
	"github.com/nidhogg/bugsmith/internal/capability"
	"github.com/nidhogg/bugsmith/internal/config"
	"github.com/nidhogg/bugsmith/internal/docindex"
	"github.com/nidhogg/bugsmith/internal/events"
	"github.com/nidhogg/bugsmith/internal/input"
	"github.com/nidhogg/bugsmith/internal/notify"
	pgstore "github.com/nidhogg/bugsmith/internal/store"
	"github.com/nidhogg/bugsmith/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer func() { logger.Sync() }()

	logger.Info("Starting bugsmith...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/bugsmith.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Rebuild the logger at the configured level.
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.Server.ZapLevel())
	if rebuilt, buildErr := zapCfg.Build(); buildErr == nil {
		logger.Sync()
		logger = rebuilt
	}

	// Capability gateway with the configured analysis backend.
	gw := capability.NewGateway(time.Duration(cfg.Analysis.TaskTimeoutSec)*time.Second, logger)
	capabilityIDs := []string{
		capability.CapErrorExtractor,
		capability.CapCodeAnalyzer,
		capability.CapDocRetriever,
		capability.CapFixGenerator,
		capability.CapMultimodalAnalyzer,
	}
	switch cfg.Analysis.Mode {
	case "gemini":
		geminiCfg := capability.GeminiConfig{
			Endpoint: cfg.Analysis.Endpoint,
			APIKey:   cfg.Analysis.APIKey,
			Model:    cfg.Analysis.Model,
		}
		for _, id := range capabilityIDs {
			gw.Register(capability.NewGemini(id, geminiCfg, logger))
		}
		logger.Info("Analysis backend: gemini", zap.String("model", cfg.Analysis.Model))
	default:
		for _, id := range capabilityIDs {
			gw.Register(capability.NewHeuristic(id, logger))
		}
		logger.Info("Analysis backend: heuristic")
	}

	// Vector-backed documentation search replaces the offline retriever when
	// enabled.
	var index *docindex.Index
	var docs api.DocIndexer
	if cfg.DocIndex.Enabled {
		embedder := docindex.NewHTTPEmbedder(docindex.EmbeddingConfig{
			Endpoint:  cfg.DocIndex.Embedding.Endpoint,
			Model:     cfg.DocIndex.Embedding.Model,
			APIKey:    cfg.DocIndex.Embedding.APIKey,
			Dimension: cfg.DocIndex.Embedding.Dimension,
		})
		idx, idxErr := docindex.Open(context.Background(), docindex.Config{
			Host:       cfg.Database.Qdrant.Host,
			Port:       cfg.Database.Qdrant.Port,
			Collection: cfg.DocIndex.Collection,
		}, embedder, logger)
		if idxErr != nil {
			logger.Warn("Qdrant unavailable, using offline doc retriever", zap.Error(idxErr))
		} else {
			index = idx
			docs = index
			gw.Register(docindex.NewRetriever(index, logger))
			logger.Info("Documentation index online")
		}
	}

	// Workflow store: Postgres when configured, in-memory otherwise.
	var (
		wfStore workflow.Store
		purger  api.SessionPurger
	)
	memStore := workflow.NewMemoryStore()
	wfStore, purger = memStore, memStore
	var pg *pgstore.Store
	if cfg.Database.Postgres.DSN != "" {
		ps, pgErr := pgstore.New(cfg.Database.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, keeping workflows in memory", zap.Error(pgErr))
		} else {
			if mErr := ps.Migrate(context.Background(), "migrations"); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			wfStore, purger = ps, ps
			pg = ps
		}
	}

	// Progress events over Redis Streams.
	var execOpts []workflow.ExecutorOption
	var bus *events.Bus
	if cfg.Database.Redis.URL != "" {
		b, busErr := events.NewBus(cfg.Database.Redis.URL, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, running without progress events", zap.Error(busErr))
		} else {
			bus = b
			execOpts = append(execOpts, workflow.WithEvents(bus))
			logger.Info("Progress event bus online")
		}
	}

	// Completion notifications.
	var notifiers []notify.Notifier
	var discord *notify.DiscordNotifier
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.Channel, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable", zap.Error(dErr))
		} else {
			discord = dn
			notifiers = append(notifiers, dn)
		}
	}
	if len(notifiers) > 0 {
		execOpts = append(execOpts, workflow.WithNotifier(notify.NewBroadcaster(logger, notifiers...)))
	}

	executor := workflow.NewExecutor(gw, wfStore, logger, execOpts...)
	statusSvc := workflow.NewStatusService(wfStore)
	buffers := input.NewManager(logger)

	handler := api.NewHandler(buffers, executor, statusSvc, wfStore, purger, gw,
		docs, cfg.Uploads.Dir, cfg.Uploads.MaxSizeMB, logger)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("bugsmith listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down bugsmith...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	executor.Wait()
	if bus != nil {
		bus.Close()
	}
	if pg != nil {
		pg.Close()
	}
	if index != nil {
		index.Close()
	}
	if discord != nil {
		discord.Close()
	}
}
