package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/bobmcallan/quant-portal/internal/analysis"
	"github.com/bobmcallan/quant-portal/internal/assets"
	"github.com/bobmcallan/quant-portal/internal/common"
	"github.com/bobmcallan/quant-portal/internal/config"
	"github.com/bobmcallan/quant-portal/internal/handlers"
	"github.com/bobmcallan/quant-portal/internal/history"
	"github.com/bobmcallan/quant-portal/internal/interfaces"
	"github.com/bobmcallan/quant-portal/internal/mcp"
	"github.com/bobmcallan/quant-portal/internal/metrics"
	"github.com/bobmcallan/quant-portal/internal/storage"
)

// App holds all application components and dependencies.
type App struct {
	Config *config.Config
	Logger *common.Logger

	Storage  interfaces.StorageManager
	History  *history.Store
	Metrics  *metrics.Metrics
	Analyzer *analysis.Client
	Catalog  *assets.Catalog

	// HTTP handlers
	HealthHandler  *handlers.HealthHandler
	VersionHandler *handlers.VersionHandler
	ReportsHandler *handlers.ReportsHandler
	AnalyzeHandler *handlers.AnalyzeHandler
	AssetsHandler  *handlers.AssetsHandler
	MCPHandler     *mcp.Handler
}

// New initializes the application with all dependencies.
func New(cfg *config.Config, logger *common.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	env := strings.ToLower(strings.TrimSpace(cfg.Environment))
	if env != "prod" && env != "dev" && env != "" {
		logger.Warn().
			Str("environment", cfg.Environment).
			Msg("unrecognized environment value, defaulting to prod behavior")
	}

	if err := a.initStorage(); err != nil {
		return nil, err
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Catalog = catalog

	a.Analyzer = analysis.NewClient(logger, analysis.Options{
		BaseURL:           cfg.Analysis.URL,
		Timeout:           cfg.Analysis.GetTimeout(),
		RequestsPerMinute: cfg.Analysis.RequestsPerMinute,
		BreakerFailures:   cfg.Analysis.BreakerFailures,
		BreakerCooldown:   cfg.Analysis.GetBreakerCooldown(),
		Observer:          a.Metrics,
	})

	a.initHandlers()

	logger.Info().
		Str("storage", a.Storage.Backend()).
		Int("reports", a.History.Len()).
		Msg("application initialization complete")

	return a, nil
}

// initStorage opens the configured backend and loads the report history.
func (a *App) initStorage() error {
	mgr, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", a.Config.Storage.Backend, err)
	}
	a.Storage = mgr

	a.History = NewHistory(mgr.KeyValueStorage(), a.Logger, &a.Config.History, a.Metrics)
	a.History.Initialize(context.Background())
	return nil
}

// NewHistory creates a report history store from config. It is shared with
// the CLI's offline history commands.
func NewHistory(kv interfaces.KeyValueStorage, logger *common.Logger, cfg *config.HistoryConfig, observer history.Observer) *history.Store {
	return history.New(kv, logger, history.Options{
		Key:              cfg.Key,
		MaxRecords:       cfg.MaxRecords,
		AutoSelectLatest: cfg.AutoSelectLatest,
		Dedupe:           cfg.Dedupe,
		Observer:         observer,
	})
}

func loadCatalog(cfg *config.Config) (*assets.Catalog, error) {
	if cfg.Assets.File == "" {
		return assets.Default(), nil
	}
	return assets.LoadFile(cfg.Assets.File)
}

// initHandlers initializes all HTTP handlers.
func (a *App) initHandlers() {
	a.HealthHandler = handlers.NewHealthHandler(a.Logger, a.History, a.Storage.Backend())
	a.VersionHandler = handlers.NewVersionHandler(a.Logger)
	a.ReportsHandler = handlers.NewReportsHandler(a.Logger, a.History)
	a.AnalyzeHandler = handlers.NewAnalyzeHandler(a.Logger, a.Analyzer, a.History)
	a.AssetsHandler = handlers.NewAssetsHandler(a.Logger, a.Catalog)

	if a.Config.MCP.Enabled {
		a.MCPHandler = mcp.NewHandler(a.Logger, mcp.Deps{
			Store:    a.History,
			Analyzer: a.Analyzer,
			Catalog:  a.Catalog,
		})
	}

	a.Logger.Debug().Msg("HTTP handlers initialized")
}

// Close closes all application resources.
func (a *App) Close() error {
	if a.Storage == nil {
		return nil
	}
	return a.Storage.Close()
}
