package infra

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"skillmart/internal/config"
	"skillmart/internal/models/db_models"
)

// OpenDatabase opens the configured store. Postgres is the production store; sqlite backs local
// runs. TranslateError maps driver unique violations to gorm.ErrDuplicatedKey.
func OpenDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.DBDriver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "file:skillmart.db?_busy_timeout=5000"
		}
		db, err = gorm.Open(sqlite.Open(dsn), gormCfg)
		if err == nil {
			// sqlite has a single writer; one connection avoids SQLITE_BUSY under concurrency.
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(1)
			}
		}
	default:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
		if err == nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(30 * time.Minute)
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.DBDriver, err)
	}

	if cfg.AutoMigrate {
		if err := db.AutoMigrate(db_models.AllModels()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
		log.Info("schema auto-migrated", zap.String("driver", cfg.DBDriver))
	}
	return db, nil
}

func CloseDatabase(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Error("get database instance", zap.Error(err))
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Error("close database connection", zap.Error(err))
		return
	}
	log.Info("database connection closed")
}
