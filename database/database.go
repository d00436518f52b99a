// Package database 把 GORM 事务接入工作单元.
// 工作单元始终是外层边界：数据库先提交，事件随后才分发。
package database

import (
	"log/slog"
	"time"

	"github.com/wyfcoding/cqbus/config"
	"github.com/wyfcoding/cqbus/logging"
	"github.com/wyfcoding/cqbus/xerrors"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"
)

const defaultSlowThreshold = 200 * time.Millisecond

// DB 封装了 GORM 实例.
type DB struct {
	*gorm.DB
	cfg config.DatabaseConfig
}

// NewDB 打开数据库连接，注册 OpenTelemetry 插件与领域事件插件.
func NewDB(cfg config.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	var dialer gorm.Dialector

	switch cfg.Driver {
	case "mysql":
		dialer = mysql.Open(cfg.DSN)
	case "postgres":
		dialer = postgres.Open(cfg.DSN)
	default:
		return nil, xerrors.New(xerrors.ErrConfig, xerrors.CodeUnsupportedDriver, "unsupported database driver", cfg.Driver, nil)
	}

	slow := cfg.SlowThreshold
	if slow <= 0 {
		slow = defaultSlowThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}

	gormDB, err := gorm.Open(dialer, &gorm.Config{
		Logger:      logging.NewGormLogger(logger, slow),
		PrepareStmt: true,
	})
	if err != nil {
		return nil, xerrors.WrapInternal(err, "failed to open database connection")
	}

	if err := Setup(gormDB); err != nil {
		return nil, err
	}

	sqlDB, errDB := gormDB.DB()
	if errDB != nil {
		return nil, xerrors.WrapInternal(errDB, "failed to get underlying sql.DB")
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	return &DB{DB: gormDB, cfg: cfg}, nil
}

// Setup 为已打开的连接注册链路追踪与领域事件插件.
func Setup(db *gorm.DB) error {
	if err := db.Use(tracing.NewPlugin()); err != nil {
		return xerrors.WrapInternal(err, "failed to register gorm otel plugin")
	}
	if err := db.Use(&EventPlugin{}); err != nil {
		return xerrors.WrapInternal(err, "failed to register gorm event plugin")
	}
	return nil
}

// Driver 返回当前连接使用的驱动名.
func (db *DB) Driver() string {
	return db.cfg.Driver
}

// RawDB 暴露原始 GORM 实例.
func (db *DB) RawDB() *gorm.DB {
	return db.DB
}
