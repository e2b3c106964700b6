package ha

import (
	"context"
	"fmt"
	"hash/crc32"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker runs schema migration while holding a database-wide lock so
// replicas starting together never AutoMigrate concurrently.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker for the database dialect.
// PostgreSQL uses advisory locks; SQLite and MySQL use a lock table, which is
// created immediately so that concurrent callers never see a missing table.
func NewMigrationLocker(db *gorm.DB, cfg *LockConfig, logger *slog.Logger) MigrationLocker {
	if cfg == nil {
		cfg = DefaultLockConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if db == nil || !cfg.Enabled {
		return noopLocker{}
	}
	if db.Dialector.Name() == "postgres" {
		return &advisoryLocker{
			db:     db,
			lockID: int64(crc32.ChecksumIEEE([]byte(cfg.Name))),
			logger: logger,
		}
	}
	_ = db.AutoMigrate(&lockRow{})
	return &tableLocker{db: db, cfg: cfg, logger: logger}
}

type noopLocker struct{}

func (noopLocker) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

type advisoryLocker struct {
	db     *gorm.DB
	lockID int64
	logger *slog.Logger
}

func (l *advisoryLocker) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	l.logger.Info("migration lock acquired", "kind", "advisory", "lock_id", l.lockID)
	defer func() {
		if err := l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error; err != nil {
			l.logger.Error("release migration advisory lock", "error", err)
		}
	}()

	return fn()
}

// lockRow is the table-based lock for databases without advisory locks.
type lockRow struct {
	ID       string    `gorm:"primaryKey;column:id;type:varchar(128)"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by;type:varchar(255)"`
}

func (lockRow) TableName() string { return "autoload_migration_lock" }

// tableLocker relies on primary-key uniqueness: only one insert of the lock
// row can succeed. Rows older than StaleAfter are treated as abandoned.
type tableLocker struct {
	db     *gorm.DB
	cfg    *LockConfig
	logger *slog.Logger
}

func (l *tableLocker) WithLock(ctx context.Context, fn func() error) error {
	row := lockRow{ID: l.cfg.Name, LockedBy: l.cfg.Identity}

	attempts := l.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	acquired := false
	for i := 0; i < attempts; i++ {
		l.db.WithContext(ctx).
			Where("id = ? AND locked_at < ?", row.ID, time.Now().Add(-l.cfg.StaleAfter)).
			Delete(&lockRow{})

		row.LockedAt = time.Now()
		if lastErr = l.db.WithContext(ctx).Create(&row).Error; lastErr == nil {
			acquired = true
			break
		}
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.cfg.RetryInterval):
		}
	}
	if !acquired {
		return fmt.Errorf("acquire migration lock after %d attempts: %w", attempts, lastErr)
	}
	l.logger.Info("migration lock acquired", "kind", "table", "holder", row.LockedBy)

	defer func() {
		l.db.Where("id = ?", row.ID).Delete(&lockRow{})
	}()

	return fn()
}
