// pkg/db/repository.go
package db

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/smith3v/couple-devotional/pkg/config"
	"github.com/smith3v/couple-devotional/pkg/logger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Open connects to the configured database. The caller owns the handle and
// passes it to every service explicitly.
func Open(cfg config.DatabaseConfig, logging config.LoggingConfig) (*gorm.DB, error) {
	gormLogger, gormErr := newGormLogger(logging.GormLevel, defaultSlowThreshold)
	if gormErr != nil {
		logger.Error("invalid gorm log level", "value", logging.GormLevel, "error", gormErr)
	}
	gormCfg := &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	}

	var (
		gdb *gorm.DB
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "postgres":
		gdb, err = gorm.Open(postgres.Open(postgresDSN(cfg)), gormCfg)
	case "sqlite":
		gdb, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormCfg)
		if err == nil {
			err = SerializeWriters(gdb)
		}
	default:
		err = fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}
	return gdb, nil
}

// Migrate creates or updates every table.
func Migrate(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	if err := gdb.AutoMigrate(AllModels()...); err != nil {
		logger.Error("failed to auto-migrate database", "error", err)
		return err
	}
	return nil
}

// SerializeWriters pins sqlite to a single connection. Transactions then queue
// on the pool instead of failing with SQLITE_BUSY, which gives the same
// one-writer-at-a-time guarantee row locks give on postgres.
func SerializeWriters(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(1)
	return nil
}

// Close releases the connection pool behind gdb.
func Close(gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// ForUpdate adds a row lock to the next query. The sqlite dialect drops the
// clause; the single-connection pool serializes writers there instead.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func postgresDSN(cfg config.DatabaseConfig) string {
	if strings.TrimSpace(cfg.DSN) != "" {
		return cfg.DSN
	}
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return "host=" + cfg.Host +
		" user=" + cfg.User +
		" password=" + cfg.Password +
		" dbname=" + cfg.DBName +
		" port=" + strconv.Itoa(cfg.Port) +
		" sslmode=" + sslMode
}

func sqliteDSN(path string) string {
	if strings.TrimSpace(path) == "" {
		return "file:devotional?mode=memory&cache=shared"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_foreign_keys=on"
}
