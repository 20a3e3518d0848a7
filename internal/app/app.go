// Package app wires configuration, storage, rules and the query coordinator
// into one object shared by the CLI commands and the HTTP API.
package app

import (
	"fmt"
	"log/slog"

	"github.com/Zerofisher/haestore/internal/config"
	"github.com/Zerofisher/haestore/pkg/extract"
	"github.com/Zerofisher/haestore/pkg/ingest"
	"github.com/Zerofisher/haestore/pkg/query"
	"github.com/Zerofisher/haestore/pkg/rules"
	"github.com/Zerofisher/haestore/pkg/store/sqlite"
)

// App holds the long-lived components of a haestore process.
type App struct {
	Config      *config.Config
	Log         *slog.Logger
	Store       *sqlite.SQLiteStore
	Pool        *query.Pool
	Coordinator *query.Coordinator
	Rules       *rules.Engine // nil when no rules file is configured
	Aggregator  *extract.Aggregator
	Recorder    *ingest.Recorder
}

// Options tweaks how New opens the store.
type Options struct {
	// ReadOnly opens the database without write access or schema setup.
	ReadOnly bool
}

// New builds an App from cfg. A store that cannot be opened does not fail
// New: the App runs degraded and every storage operation falls back to its
// empty result. Only a broken rules file is fatal.
func New(cfg *config.Config, log *slog.Logger, opts Options) (*App, error) {
	if log == nil {
		log = slog.Default()
	}

	a := &App{
		Config:     cfg,
		Log:        log,
		Aggregator: extract.NewAggregator(cfg.Extract.Boundary),
	}

	if cfg.Rules.File != "" {
		engine, err := rules.Load(cfg.Rules.File, a.Aggregator)
		if err != nil {
			return nil, fmt.Errorf("load rules: %w", err)
		}
		a.Rules = engine
		log.Debug("rules loaded", "file", cfg.Rules.File, "count", len(engine.Rules()))
	}

	dbPath, err := config.ResolveDatabasePath(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = sqlite.Open(sqlite.Config{
		DBPath:           dbPath,
		ReadOnly:         opts.ReadOnly,
		WAL:              cfg.Storage.WAL,
		CompressPayloads: cfg.Storage.CompressPayloads,
		Logger:           log,
	})
	if !a.Store.Available() {
		log.Warn("message history unavailable", "path", dbPath)
	}

	a.Pool = query.NewPool(cfg.Query.Workers)
	a.Coordinator = query.NewCoordinator(a.Store,
		query.WithPool(a.Pool),
		query.WithLogger(log),
		query.WithPageSize(cfg.Query.PageSize),
	)

	recOpts := []ingest.Option{
		ingest.WithAggregator(a.Aggregator),
		ingest.WithDedup(cfg.Ingest.Dedup),
		ingest.WithScope(cfg.Ingest.Scope),
		ingest.WithRefresher(a.Coordinator),
		ingest.WithPool(a.Pool),
		ingest.WithLogger(log),
	}
	if a.Rules != nil {
		recOpts = append(recOpts, ingest.WithEngine(a.Rules), ingest.WithHighlighter(a.Rules))
	}
	a.Recorder = ingest.NewRecorder(a.Store, recOpts...)

	return a, nil
}

// Close stops the coordinator, drains the pool and closes the store.
func (a *App) Close() error {
	a.Coordinator.Close()
	a.Pool.Close()
	return a.Store.Close()
}
