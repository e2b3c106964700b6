package records

import (
	"fmt"
	"os"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DatabaseConfig selects and configures the database.
type DatabaseConfig struct {
	Driver   string // sqlite, postgres or mysql. Default sqlite.
	DSN      string // Driver-specific DSN. Default autoload.db.
	LogLevel string // silent, error, warn or info. Default warn.
}

// DefaultDatabaseConfig returns a local SQLite configuration.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Driver:   "sqlite",
		DSN:      "autoload.db",
		LogLevel: "warn",
	}
}

// DatabaseConfigFromEnv loads config from environment variables.
// AUTOLOAD_DB_DRIVER, AUTOLOAD_DB_DSN, AUTOLOAD_DB_LOG_LEVEL
func DatabaseConfigFromEnv() *DatabaseConfig {
	cfg := DefaultDatabaseConfig()
	if v := os.Getenv("AUTOLOAD_DB_DRIVER"); v != "" {
		cfg.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("AUTOLOAD_DB_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("AUTOLOAD_DB_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	return cfg
}

// Open connects to the configured database.
func Open(cfg *DatabaseConfig) (*gorm.DB, error) {
	if cfg == nil {
		cfg = DefaultDatabaseConfig()
	}
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres", "postgresql":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	if _, ok := dialector.(*sqlite.Dialector); ok {
		// SQLite has a single writer.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

func logLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
