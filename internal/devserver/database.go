package devserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bulletin/internal/config"
	"bulletin/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// queryLog implements gorm's logger on top of slog and records every
// statement in the store query histogram.
type queryLog struct {
	out   *slog.Logger
	level logger.LogLevel
}

func newQueryLog() *queryLog {
	return &queryLog{out: observability.GlobalLogger.Logger.With(slog.String("component", "store")), level: logger.Warn}
}

func (q *queryLog) LogMode(level logger.LogLevel) logger.Interface {
	return &queryLog{out: q.out, level: level}
}

func (q *queryLog) emit(ctx context.Context, at logger.LogLevel, msg string, args ...any) {
	if q.level < at {
		return
	}
	switch at {
	case logger.Error:
		q.out.ErrorContext(ctx, msg, args...)
	case logger.Warn:
		q.out.WarnContext(ctx, msg, args...)
	default:
		q.out.InfoContext(ctx, msg, args...)
	}
}

func (q *queryLog) Info(ctx context.Context, msg string, data ...interface{}) {
	q.emit(ctx, logger.Info, fmt.Sprintf(msg, data...))
}

func (q *queryLog) Warn(ctx context.Context, msg string, data ...interface{}) {
	q.emit(ctx, logger.Warn, fmt.Sprintf(msg, data...))
}

func (q *queryLog) Error(ctx context.Context, msg string, data ...interface{}) {
	q.emit(ctx, logger.Error, fmt.Sprintf(msg, data...))
}

func (q *queryLog) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	failed := err != nil && !errors.Is(err, gorm.ErrRecordNotFound)

	outcome := "ok"
	if failed {
		outcome = "error"
	}
	observability.StoreQueries.WithLabelValues(outcome).Observe(took.Seconds())

	if q.level == logger.Silent {
		return
	}
	stmt, rows := fc()
	attrs := []any{slog.String("sql", stmt), slog.Int64("rows", rows), slog.Duration("took", took)}
	switch {
	case failed:
		q.emit(ctx, logger.Error, "store query failed", append(attrs, slog.String("error", err.Error()))...)
	case took > slowQuery:
		q.emit(ctx, logger.Warn, "slow store query", attrs...)
	default:
		q.emit(ctx, logger.Info, "store query", attrs...)
	}
}

// dialectorFor picks the gorm driver. Postgres without an explicit DSN is
// assembled from the DB_* keys.
func dialectorFor(cfg *config.Config) gorm.Dialector {
	if cfg.DBDriver != "postgres" {
		return sqlite.Open(cfg.DBDSN)
	}
	dsn := cfg.DBDSN
	if dsn == "" || dsn == "bulletin.db" {
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
	}
	return postgres.Open(dsn)
}

// Connect opens the configured database and migrates the schema.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(dialectorFor(cfg), &gorm.Config{Logger: newQueryLog()})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
	}

	if pool, err := db.DB(); err == nil {
		if cfg.DBDriver == "sqlite" {
			// Single writer. Also keeps a :memory: database alive between requests.
			pool.SetMaxOpenConns(1)
		} else {
			pool.SetMaxOpenConns(25)
			pool.SetMaxIdleConns(5)
			pool.SetConnMaxLifetime(5 * time.Minute)
		}
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	observability.GlobalLogger.Info("store ready", slog.String("driver", cfg.DBDriver))
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allRecords()...); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}
