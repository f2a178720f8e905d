package database

import (
	"fmt"

	"habitquest_backend/internal/config"
	"habitquest_backend/internal/model"
	applog "habitquest_backend/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg *config.DatabaseConfig, debug bool) (*gorm.DB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=%t&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.DBName,
		cfg.Charset,
		cfg.ParseTime,
	)

	level := logger.Warn
	if debug {
		level = logger.Info
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	applog.Log.Info("Database connection established", zap.String("host", cfg.Host), zap.String("db", cfg.DBName))

	err = db.AutoMigrate(
		&model.PlayerProfile{},
		&model.ActivityLog{},
		&model.Guild{},
		&model.GuildMembership{},
		&model.MissionClaim{},
	)
	if err != nil {
		return nil, err
	}

	applog.Log.Info("Database migration completed")
	return db, nil
}
