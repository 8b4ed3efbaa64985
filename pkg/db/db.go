package db

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/scitex/scitex-cloud/pkg/signals"
)

// Config holds database connection configuration
type Config struct {
	// URL is the database connection URL (defaults to DATABASE_URL env var)
	URL string
	// LogLevel is the gateway log level; "debug" turns on SQL logging
	LogLevel string
	// Log receives SQL logging when it is turned on
	Log logrus.FieldLogger
	// Signals is optional - if provided, model hooks send lifecycle signals through it
	Signals *signals.Dispatcher
}

// Connect establishes a database connection.
// If no URL is provided, it reads from DATABASE_URL environment variable.
func Connect(cfg Config) (*gorm.DB, error) {
	dbURL := cfg.URL
	if dbURL == "" {
		dbURL = URL()
	}
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if cfg.LogLevel == "debug" && cfg.Log != nil {
		gormLogger = logger.New(logrusWriter{cfg.Log}, logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Info,
		})
	}

	db, err := gorm.Open(
		postgres.New(postgres.Config{
			DSN:                  dbURL,
			PreferSimpleProtocol: true, // disables implicit prepared statement usage
		}),
		&gorm.Config{
			Logger: gormLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Signals != nil {
		db = db.WithContext(signals.WithDispatcher(context.Background(), cfg.Signals))
	}

	return db, nil
}

// Ping checks that the database answers.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// URL returns the database URL from environment.
// Returns empty string if DATABASE_URL is not set.
func URL() string {
	return os.Getenv("DATABASE_URL")
}

type logrusWriter struct {
	log logrus.FieldLogger
}

func (w logrusWriter) Printf(format string, args ...interface{}) {
	w.log.WithField("component", "gorm").Debugf(format, args...)
}
