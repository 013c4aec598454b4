package database

import (
	"campusconnect/backend/internal/config"
	"campusconnect/backend/internal/models"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
	"gorm.io/plugin/opentelemetry/tracing"
)

var DB *gorm.DB

const sqlitePrefix = "sqlite://"

// Models lists every table, parents before children.
func Models() []any {
	return []any{
		&models.User{},
		&models.Chat{},
		&models.Membership{},
		&models.Message{},
		&models.MessageRead{},
		&models.Poll{},
		&models.PollOption{},
		&models.Vote{},
	}
}

// Connect opens the primary database, registers read replicas and the
// tracing plugin, and runs migrations. The result is also stored in DB.
func Connect(cfg *config.Config, l *log.Logger) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	// Configure GORM logger
	gormLogger := logger.New(
		l.StandardLog(log.StandardLogOptions{ForceLevel: log.WarnLevel}),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gcfg := &gorm.Config{Logger: gormLogger, TranslateError: true}

	db, err := openWithRetry(dialector(cfg.DatabaseURL), gcfg, 8, 2*time.Second, l)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if db.Dialector.Name() == "sqlite" {
		// a single connection keeps an in-memory database alive and shared
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(max(cfg.DBMaxOpenConns/4, 2))
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	if replicas := cfg.ReplicaURLs(); len(replicas) > 0 {
		var readers []gorm.Dialector
		for _, r := range replicas {
			readers = append(readers, postgres.Open(r))
		}
		resolver := dbresolver.Register(dbresolver.Config{
			Replicas: readers,
			Policy:   dbresolver.RandomPolicy{},
		}).SetMaxOpenConns(cfg.DBMaxOpenConns).SetConnMaxLifetime(30 * time.Minute)
		if err := db.Use(resolver); err != nil {
			return nil, fmt.Errorf("register replicas: %w", err)
		}
		l.Info("Read replicas registered.", "count", len(readers))
	}

	if err := db.Use(tracing.NewPlugin()); err != nil {
		l.Warn("gorm tracing plugin not installed", "err", err)
	}

	l.Info("Database connection established.")

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	l.Info("Database migrated successfully.")

	DB = db
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

// dialector picks SQLite for sqlite:// URLs, which is handy for local runs
// and the seeder, and Postgres for everything else.
func dialector(dsn string) gorm.Dialector {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return sqlite.Open(strings.TrimPrefix(dsn, sqlitePrefix))
	}
	return postgres.Open(dsn)
}

func openWithRetry(d gorm.Dialector, cfg *gorm.Config, attempts int, sleep time.Duration, l *log.Logger) (*gorm.DB, error) {
	var last error
	for i := 1; i <= attempts; i++ {
		db, err := gorm.Open(d, cfg)
		if err == nil {
			sqlDB, err2 := db.DB()
			if err2 == nil {
				if last = pingWithTimeout(sqlDB, 2*time.Second); last == nil {
					return db, nil
				}
			} else {
				last = err2
			}
		} else {
			last = err
		}

		l.Warn("db open attempt failed", "attempt", i, "of", attempts, "err", last)
		if i == attempts {
			break
		}
		time.Sleep(sleep)
		if sleep < 8*time.Second {
			sleep *= 2
		}
	}
	return nil, last
}

func pingWithTimeout(sqlDB *sql.DB, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	return nil
}
