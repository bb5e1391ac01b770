package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/avramidis/strategem/internal/config"
	"github.com/avramidis/strategem/internal/database"
	"github.com/avramidis/strategem/internal/domain"
	"github.com/avramidis/strategem/internal/jobs"
	"github.com/avramidis/strategem/internal/modules/monitor"
	"github.com/avramidis/strategem/internal/modules/quotes"
	"github.com/avramidis/strategem/internal/modules/runs"
	"github.com/avramidis/strategem/internal/modules/series"
	"github.com/avramidis/strategem/internal/modules/simulation"
	"github.com/avramidis/strategem/internal/modules/strategy"
	"github.com/avramidis/strategem/internal/modules/universe"
	"github.com/avramidis/strategem/internal/report"
	"github.com/avramidis/strategem/pkg/logger"
)

// app wires configuration, databases, repositories and services for one
// command invocation.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	tickersDB  *database.DB
	runsDB     *database.DB
	monitorsDB *database.DB

	tickers  domain.TickerRepo
	quotes   domain.QuoteRepo
	runs     domain.RunRepo
	monitors domain.MonitorRepo

	store    *series.Store
	registry *strategy.Registry
	kernel   *simulation.Kernel

	executor   *jobs.Executor
	dispatcher *jobs.Dispatcher
	locks      *jobs.LockManager
	monitorSvc *monitor.Service
	updateSvc  *quotes.UpdateService
	sources    *quotes.SourceRegistry
	daily      *jobs.DailyRunner
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	tickersDB, runsDB, monitorsDB, err := database.OpenAll(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		log:        log,
		tickersDB:  tickersDB,
		runsDB:     runsDB,
		monitorsDB: monitorsDB,
	}

	a.tickers = universe.NewTickerRepository(tickersDB.Conn(), log)
	a.quotes = universe.NewQuoteRepository(tickersDB.Conn(), log)
	a.runs = runs.NewRepository(runsDB.Conn(), log)
	a.monitors = monitor.NewRepository(monitorsDB.Conn(), log)

	a.store = series.NewStore(a.quotes, a.tickers, log)
	a.registry = strategy.DefaultRegistry()
	a.kernel = simulation.NewKernel(log)
	optimizer := simulation.NewOptimizer(a.registry, a.kernel, log)

	a.executor = jobs.NewExecutor(a.runs, a.store, a.registry, a.kernel, optimizer, log)
	a.locks = jobs.NewLockManager(cfg.VarDir, log)
	a.monitorSvc = monitor.NewService(a.monitors, a.tickers, a.quotes, a.store, a.registry, a.kernel, log)

	a.sources = quotes.NewSourceRegistry()
	a.sources.Register(quotes.NewBreakerSource(quotes.NewStubSource(), log))
	if cfg.CSVDir != "" {
		a.sources.Register(quotes.NewCSVSource(cfg.CSVDir))
	}
	a.updateSvc = quotes.NewUpdateService(a.tickers, a.quotes, a.sources, cfg.QuoteConcurrency, log)

	binary, err := os.Executable()
	if err != nil {
		binary = os.Args[0]
	}
	a.dispatcher = jobs.NewDispatcher(a.runs, binary,
		time.Duration(cfg.JobTimeoutMinutes)*time.Minute,
		time.Duration(cfg.PendingRestartMinutes)*time.Minute, log)

	var notify *report.NotifyTarget
	if cfg.SMTPHost != "" {
		notify = &report.NotifyTarget{
			SMTPHost: cfg.SMTPHost,
			SMTPPort: cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		}
	}
	a.daily = jobs.NewDailyRunner(a.locks, a.updateSvc, a.monitorSvc, notify, log)

	return a, nil
}

func (a *app) close() {
	for _, db := range []*database.DB{a.tickersDB, a.runsDB, a.monitorsDB} {
		if db != nil {
			if err := db.Close(); err != nil {
				a.log.Warn().Err(err).Str("db", db.Name()).Msg("Failed to close database")
			}
		}
	}
}
