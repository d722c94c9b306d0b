// Package daemon wires the tgsd components into an fx application with
// clean startup and shutdown ordering.
package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/tgsd/internal/backfill"
	"github.com/matheus3301/tgsd/internal/bus"
	"github.com/matheus3301/tgsd/internal/command"
	"github.com/matheus3301/tgsd/internal/config"
	"github.com/matheus3301/tgsd/internal/counter"
	"github.com/matheus3301/tgsd/internal/ingest"
	"github.com/matheus3301/tgsd/internal/instance"
	"github.com/matheus3301/tgsd/internal/lock"
	"github.com/matheus3301/tgsd/internal/logging"
	"github.com/matheus3301/tgsd/internal/merger"
	"github.com/matheus3301/tgsd/internal/notify"
	"github.com/matheus3301/tgsd/internal/query"
	"github.com/matheus3301/tgsd/internal/registry"
	"github.com/matheus3301/tgsd/internal/status"
	"github.com/matheus3301/tgsd/internal/store"
	"github.com/matheus3301/tgsd/internal/tg"
	"github.com/matheus3301/tgsd/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	Instance   string
	ConfigPath string        // optional override for testing; empty = use default
	BotFactory tg.BotFactory // optional override for testing; nil = real Bot API
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCounter,
			provideAdapter,
			provideClient,
			provideRegistry,
			provideMerger,
			provideIngestor,
			provideCoordinator,
			provideQueryEngine,
			provideNotifier,
			provideRouter,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = instance.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := instance.EnsureDir(p.Instance); err != nil {
		return nil, err
	}
	return logging.New(instance.LogPath(p.Instance), p.Instance)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.Instance))
	l, err := lock.Acquire(instance.Dir(p.Instance))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := instance.IndexDBPath(p.Instance)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	stored, upgraded, err := db.EnsureSchemaVersion()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if upgraded {
		logger.Info("record schema upgraded, backfill jobs reset",
			zap.Int("from", stored), zap.Int("to", store.RecordSchemaVersion))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCounter(p Params, cfg *config.Config, logger *zap.Logger) (counter.Store, error) {
	path := cfg.Counter.Path
	if path == "" {
		path = instance.CounterDBPath()
	}
	namespace := cfg.Counter.Namespace
	if namespace == "" {
		namespace = p.Instance
	}
	s, err := counter.OpenSQLite(path, namespace)
	if err != nil {
		return nil, err
	}
	logger.Info("counter store opened", zap.String("path", path), zap.String("namespace", namespace))
	return s, nil
}

func provideAdapter(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*tg.Adapter, error) {
	opts := tg.Options{
		Token:      cfg.Telegram.Token,
		Proxy:      cfg.Telegram.Proxy,
		AdminChats: cfg.Telegram.AdminChats,
	}
	if p.BotFactory != nil {
		return tg.NewWithFactory(opts, b, nil, p.BotFactory, logger)
	}
	return tg.New(opts, b, nil, logger)
}

func provideClient(a *tg.Adapter) transport.Client {
	return a
}

func provideRegistry(db *store.DB, client transport.Client, cfg *config.Config, logger *zap.Logger) *registry.Registry {
	return registry.New(db, client, cfg.Index.MonitorAll, cfg.Index.ExcludedChats, logger)
}

func provideMerger(db *store.DB, b *bus.Bus, logger *zap.Logger) *merger.Merger {
	return merger.New(db, b, logger)
}

func provideIngestor(m *merger.Merger, reg *registry.Registry, counters counter.Store, b *bus.Bus, logger *zap.Logger) *ingest.Ingestor {
	return ingest.New(m, reg, counters, b, logger)
}

func provideCoordinator(db *store.DB, m *merger.Merger, client transport.Client, b *bus.Bus, counters counter.Store, cfg *config.Config, logger *zap.Logger) *backfill.Coordinator {
	opts := backfill.Options{
		BatchSize:     cfg.Index.BatchSize,
		MaxBuffer:     cfg.Index.MaxBuffer,
		Floor:         cfg.Index.BackfillFloor,
		ProgressEvery: time.Duration(cfg.Index.StatusInterval) * time.Second,
	}
	return backfill.New(db, m, client, b, counters, opts, logger)
}

func provideQueryEngine(db *store.DB, counters counter.Store, cfg *config.Config, logger *zap.Logger) *query.Engine {
	return query.New(db, counters, cfg.Index.PageLen, logger)
}

func provideNotifier(client transport.Client, b *bus.Bus, reg *registry.Registry, cfg *config.Config, logger *zap.Logger) *notify.Notifier {
	interval := time.Duration(cfg.Index.StatusInterval) * time.Second
	return notify.New(client, b, reg, cfg.Telegram.AdminChats, interval, logger)
}

func provideRouter(reg *registry.Registry, engine *query.Engine, coord *backfill.Coordinator, db *store.DB, counters counter.Store, logger *zap.Logger) *command.Router {
	return command.New(reg, engine, coord, db, counters, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	lk *lock.Lock,
	machine *status.Machine,
	db *store.DB,
	counters counter.Store,
	adapter *tg.Adapter,
	reg *registry.Registry,
	ingestor *ingest.Ingestor,
	coord *backfill.Coordinator,
	notifier *notify.Notifier,
	router *command.Router,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			adapter.SetCommander(router)

			// Every previously registered chat resumes monitoring.
			if err := reg.LoadCache(); err != nil {
				return err
			}

			_ = machine.Transition(status.Connecting)
			if err := adapter.Start(context.Background()); err != nil {
				_ = machine.Transition(status.Error)
				return err
			}

			ingestor.Start(context.Background())
			coord.Start(context.Background())
			notifier.Start(context.Background())

			_ = machine.Transition(status.Syncing)
			if err := coord.Resume(); err != nil {
				logger.Warn("failed to resume backfill jobs", zap.Error(err))
			}
			if err := reg.StartScheduledRefresh(cfg.Index.RefreshCron); err != nil {
				logger.Warn("name refresh schedule rejected", zap.Error(err))
			}

			_ = machine.Transition(status.Ready)
			logger.Info("daemon ready", zap.Int("tracked_chats", len(reg.List())))
			return nil
		},
		OnStop: func(_ context.Context) error {
			reg.StopScheduledRefresh()
			coord.Stop()
			ingestor.Stop()
			notifier.Stop()
			adapter.Stop()
			if err := counters.Close(); err != nil {
				logger.Warn("error closing counter store", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
