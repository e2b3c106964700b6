package autoload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"github.com/greenbuild/autoload/pkg/assessment"
	"github.com/greenbuild/autoload/pkg/auditlog"
	"github.com/greenbuild/autoload/pkg/ha"
	"github.com/greenbuild/autoload/pkg/jobs"
	"github.com/greenbuild/autoload/pkg/pipeline"
	"github.com/greenbuild/autoload/pkg/progress"
	"github.com/greenbuild/autoload/pkg/records"
	"github.com/greenbuild/autoload/pkg/storage"
)

// Config gathers the configuration of every component.
type Config struct {
	Database *records.DatabaseConfig
	Storage  *storage.StorageConfig
	Jobs     *jobs.JobConfig
	Progress *progress.TrackerConfig
	Wait     *pipeline.WaitConfig
	Lock     *ha.LockConfig
	// FieldSpecs declare measurement headers explicitly.
	FieldSpecs []assessment.FieldSpec
}

// DefaultConfig returns the default configuration of every component.
func DefaultConfig() *Config {
	return &Config{
		Database: records.DefaultDatabaseConfig(),
		Storage:  storage.DefaultStorageConfig(),
		Jobs:     jobs.DefaultJobConfig(),
		Progress: progress.DefaultTrackerConfig(),
		Wait:     pipeline.DefaultWaitConfig(),
		Lock:     ha.DefaultLockConfig(),
	}
}

// ConfigFromEnv loads every component's configuration from AUTOLOAD_*
// environment variables.
func ConfigFromEnv() *Config {
	return &Config{
		Database: records.DatabaseConfigFromEnv(),
		Storage:  storage.StorageConfigFromEnv(),
		Jobs:     jobs.JobConfigFromEnv(),
		Progress: progress.TrackerConfigFromEnv(),
		Wait:     pipeline.WaitConfigFromEnv(),
		Lock:     ha.LockConfigFromEnv(),
	}
}

// App holds the wired components of one autoload process.
type App struct {
	DB       *gorm.DB
	Records  *records.Store
	Tasks    *jobs.TaskStore
	Tracker  *progress.CacheTracker
	Storage  storage.Backend
	Executor *jobs.Executor
	Service  *Service
	Logger   *slog.Logger
}

// Open connects to the database and the storage backend and wires the
// service. Metrics register with reg when it is not nil. Call Migrate before
// serving requests.
func Open(ctx context.Context, cfg *Config, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db, err := records.Open(cfg.Database)
	if err != nil {
		return nil, err
	}
	app, err := New(ctx, db, cfg, reg, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return app, nil
}

// New wires the service on an open database.
func New(ctx context.Context, db *gorm.DB, cfg *Config, reg prometheus.Registerer, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	backend, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app := &App{
		DB:      db,
		Records: records.NewStore(db),
		Tasks:   jobs.NewTaskStore(db),
		Tracker: progress.NewCacheTracker(cfg.Progress),
		Storage: backend,
		Logger:  logger,
	}
	app.Executor = jobs.NewExecutor(app.Tasks, app.Records, backend, app.Tracker, cfg.Jobs, logger.With("component", "jobs"))

	metrics := pipeline.NewMetrics(reg)
	waiter := pipeline.NewWaiter(app.Tracker, cfg.Wait, metrics, logger.With("component", "wait"))
	orchestrator := pipeline.NewOrchestrator(app.Records, backend, app.Executor, waiter, metrics, logger.With("component", "pipeline"))
	engine := assessment.NewEngine(db, assessment.NewExtractor(cfg.FieldSpecs...), logger.With("component", "assessment"))
	app.Service = NewService(orchestrator, engine, logger)
	return app, nil
}

// Migrate creates or updates every table while holding the migration lock.
func (a *App) Migrate(ctx context.Context, lock *ha.LockConfig) error {
	locker := ha.NewMigrationLocker(a.DB, lock, a.Logger)
	return locker.WithLock(ctx, func() error {
		migrators := []interface{ AutoMigrate() error }{
			a.Records,
			a.Tasks,
			auditlog.NewStore(a.DB),
			assessment.NewStore(a.DB),
		}
		var errs []error
		for _, m := range migrators {
			if err := m.AutoMigrate(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// NewWorkerPool creates the pool that executes queued import tasks.
func (a *App) NewWorkerPool() *jobs.WorkerPool {
	return a.Executor.NewWorkerPool()
}

// Close releases the database connection.
func (a *App) Close() error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
