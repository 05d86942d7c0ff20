package sqlite

import (
	"fmt"
	"strings"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewSQLite opens the local durable store. SkipDefaultTransaction keeps every
// storage operation in its own short-lived transaction; no transaction spans
// multiple steps, so concurrent handlers never contend on long-held locks.
func NewSQLite(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("%w: database path is required", domain.ErrStorageUnavailable)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open sqlite at %s: %v", domain.ErrStorageUnavailable, path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get underlying sql.DB: %v", domain.ErrStorageUnavailable, err)
	}

	// One writer at a time; WAL still allows concurrent readers.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("%w: failed to ping sqlite: %v", domain.ErrStorageUnavailable, err)
	}

	return db, nil
}

// IsLocked reports whether an error indicates the database file is held by
// another open connection. Schema upgrades hitting this are warnings, not
// hard failures; they are retried on the next open.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
