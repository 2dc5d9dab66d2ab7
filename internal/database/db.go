package database

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/NotiFansly/dashbot/internal/models"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	sqlitecgo "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	TypeSQLite    = "sqlite"
	TypeSQLiteCGO = "sqlite-cgo"
	TypePostgres  = "postgres"
)

const (
	retryAttempts = 3
	retryBackoff  = 100 * time.Millisecond
)

// Init opens the database for the given backend and migrates the schema.
// The sqlite backends are pinned to a single connection so that an in-memory
// DSN keeps one database for the lifetime of the process.
func Init(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case TypePostgres:
		dialector = postgres.Open(dsn)
	case TypeSQLiteCGO:
		dialector = sqlitecgo.Open(dsn)
	case TypeSQLite, "":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database type %q", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dbType, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if dbType != TypePostgres {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := db.AutoMigrate(&models.EmbedDraft{}, &models.ServiceStatus{}, &models.APIHealthStat{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	log.Printf("Database ready (%s)", dbType)
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting database handle: %v", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database: %v", err)
	}
}

// WithRetry runs fn up to three times with a linear backoff. Record-not-found
// is returned immediately since retrying cannot change it.
func WithRetry(fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		err = fn()
		if err == nil || errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, ErrNotFound) {
			return err
		}
		if attempt < retryAttempts {
			time.Sleep(time.Duration(attempt) * retryBackoff)
		}
	}
	return err
}
