// Package app wires configuration into a running orchestrator. Both the HTTP
// server and the one-shot scan command build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"scanpilot/internal/analyzer"
	"scanpilot/internal/config"
	"scanpilot/internal/dao"
	"scanpilot/internal/database"
	"scanpilot/internal/metrics"
	"scanpilot/internal/notification"
	"scanpilot/internal/registry"
	"scanpilot/internal/services"
	"scanpilot/pkg/engine"
	"scanpilot/pkg/logger"
	"scanpilot/pkg/runner"
	"scanpilot/pkg/tools"

	"gorm.io/gorm"
)

type Options struct {
	// UseDatabase enables the gorm store when the config allows it.
	UseDatabase bool
	// WatchCatalog hot-reloads the catalog file on change.
	WatchCatalog bool
	// ToolTimeout overrides scanner.default_timeout when non-zero.
	ToolTimeout time.Duration
	// Summarizer replaces the configured model client. Used by tests.
	Summarizer analyzer.Summarizer
	// CommandRunner replaces process execution. Used by tests.
	CommandRunner runner.CommandRunner
}

type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	Catalog      *tools.Catalog
	Registry     *registry.Registry
	Orchestrator *services.Orchestrator
	Chat         *services.ChatService
	Metrics      *metrics.Metrics

	watcher *tools.Watcher
	db      *gorm.DB
	stop    context.CancelFunc
}

func New(cfg *config.Config, log *logger.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: log, Metrics: metrics.New()}

	catalog, err := loadCatalog(cfg.Scanner.CatalogFile)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog
	if opts.WatchCatalog && cfg.Scanner.CatalogFile != "" {
		a.watcher = tools.NewWatcher(cfg.Scanner.CatalogFile, catalog, log)
	}

	var regOpts []registry.Option
	var store *dao.Store
	if opts.UseDatabase && cfg.Database.Enabled {
		db, err := database.InitDB(cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		store = dao.NewStore(db)
		regOpts = append(regOpts, registry.WithPersister(store))
	}
	a.Registry = registry.New(log, regOpts...)

	if store != nil {
		scans, findings, err := store.LoadAll()
		if err != nil {
			a.closeDB()
			return nil, fmt.Errorf("load stored scans: %w", err)
		}
		a.Registry.Restore(scans, findings)
		log.WithFields(logger.Fields{"scans": len(scans), "findings": len(findings)}).Info("Restored scan history")
	}

	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = newSummarizer(cfg.Analyzer, log)
	}
	az := analyzer.New(summarizer, cfg.Analyzer.Timeout, log)

	commands := opts.CommandRunner
	if commands == nil {
		commands = runner.NewExecCommandRunner(cfg.Scanner.MaxOutputBytes)
	}

	toolTimeout := cfg.Scanner.DefaultTimeout
	if opts.ToolTimeout > 0 {
		toolTimeout = opts.ToolTimeout
	}

	executorOpts := []engine.OptFunc{
		engine.WithFanOut(cfg.Scanner.FanOut),
		engine.WithToolTimeout(toolTimeout),
		engine.WithCancellationChecker(a.Registry),
		engine.WithObserver(a.Metrics),
	}
	if cfg.Scanner.ScanLogDir != "" {
		executorOpts = append(executorOpts, engine.WithScanLogDir(cfg.Scanner.ScanLogDir))
	}
	executor := engine.NewExecutor(runner.NewToolRunner(commands, log), az, log, executorOpts...)

	queue := engine.NewQueue(cfg.Scanner.MaxConcurrentScans, log)
	a.Metrics.RegisterQueue(queue)

	orchOpts := []services.Option{services.WithQueue(queue), services.WithMetrics(a.Metrics)}
	if notifier := newNotifier(cfg.Notification, log); notifier != nil {
		orchOpts = append(orchOpts, services.WithNotifier(notifier))
	}
	a.Orchestrator = services.NewOrchestrator(a.Registry, catalog, executor, log, orchOpts...)
	a.Chat = services.NewChatService(az, a.Registry, log)

	if store != nil {
		a.Orchestrator.RecoverInterrupted()
	}
	return a, nil
}

// Start launches background helpers. They stop on Close.
func (a *App) Start(ctx context.Context) {
	ctx, a.stop = context.WithCancel(ctx)
	if a.watcher == nil {
		return
	}
	go func() {
		if err := a.watcher.Watch(ctx); err != nil {
			a.Logger.WithFields(logger.Fields{"error": err}).Error("Tool catalog watcher stopped")
		}
	}()
}

// Close waits for running scans, then releases the database.
func (a *App) Close(ctx context.Context) error {
	if a.stop != nil {
		a.stop()
	}
	err := a.Orchestrator.Shutdown(ctx)
	return errors.Join(err, a.closeDB())
}

func (a *App) closeDB() error {
	if a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func loadCatalog(path string) (*tools.Catalog, error) {
	if path == "" {
		return tools.DefaultCatalog(), nil
	}
	defs, err := tools.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return tools.NewCatalog(defs)
}

func newSummarizer(cfg config.AnalyzerConfig, log *logger.Logger) analyzer.Summarizer {
	summarizer, err := analyzer.NewAnthropicSummarizer(analyzer.AnthropicConfig{
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		MaxTokens:         int64(cfg.MaxTokens),
		RequestsPerMinute: cfg.RequestsPerMinute,
	})
	if err != nil {
		log.WithFields(logger.Fields{"error": err}).Warn("Analyzer not configured, scans will fail at summarization")
		return analyzer.UnconfiguredSummarizer{}
	}
	return summarizer
}

func newNotifier(cfg config.NotificationConfig, log *logger.Logger) notification.Notifier {
	if !cfg.Enabled {
		log.Info("Discord notifications disabled")
		return nil
	}
	client, err := notification.NewNotificationClient(cfg.DiscordToken, cfg.DiscordChannelID)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize Discord client")
		return nil
	}
	log.Info("Discord notifications enabled")
	return client
}
