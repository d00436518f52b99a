// Package bootstrap 按配置组装日志、追踪、指标、数据库与工作单元.
package bootstrap

import (
	"context"
	"log/slog"

	"github.com/wyfcoding/cqbus/config"
	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/database"
	"github.com/wyfcoding/cqbus/logging"
	"github.com/wyfcoding/cqbus/metrics"
	"github.com/wyfcoding/cqbus/tracing"
	"github.com/wyfcoding/cqbus/uow"
)

// Runtime 持有组装好的基础设施，Close 按相反顺序释放.
type Runtime struct {
	Config     *config.Config
	Logger     *logging.Logger
	Metrics    *metrics.Metrics
	Bus        *cqrs.InMemBus
	UnitOfWork *uow.UnitOfWork
	DB         *database.DB // 未配置 database.driver 时为 nil
	cleanups   []func()
}

// Load 读取配置文件后调用 New.
func Load(serviceName, path string, bus *cqrs.InMemBus) (*Runtime, error) {
	var cfg config.Config
	if err := config.Load(path, &cfg); err != nil {
		slog.Error("failed to load config", "path", path, "error", err)
		return nil, err
	}
	return New(serviceName, &cfg, bus)
}

// New 根据已加载的配置组装运行时。bus 为空时创建使用默认注册表的 InMemBus.
func New(serviceName string, cfg *config.Config, bus *cqrs.InMemBus) (*Runtime, error) {
	if bus == nil {
		bus = cqrs.NewInMemBus(nil)
	}

	logger := logging.NewFromConfig(logging.Config{
		Service:    serviceName,
		Module:     "cqbus",
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(logger.Logger)

	rt := &Runtime{Config: cfg, Logger: logger, Bus: bus}

	tracingCfg := cfg.Tracing
	if tracingCfg.ServiceName == "" {
		tracingCfg.ServiceName = serviceName
	}
	shutdown, err := tracing.InitTracer(tracingCfg)
	if err != nil {
		logger.Error("failed to init tracer", "error", err)
		return nil, err
	}
	rt.cleanups = append(rt.cleanups, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	})

	rt.Metrics = metrics.NewMetrics(serviceName)
	rt.Metrics.RegisterBuildInfo(serviceName, cfg.Version)
	if cfg.Metrics.Enabled && cfg.Metrics.Addr != "" {
		rt.cleanups = append(rt.cleanups, rt.Metrics.ExposeHttp(cfg.Metrics.Addr))
	}

	if cfg.Database.Driver != "" {
		db, err := database.NewDB(cfg.Database, logger.Logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.DB = db
		rt.cleanups = append(rt.cleanups, func() {
			if sqlDB, err := db.DB.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})
	}

	rt.UnitOfWork = uow.FromConfig(bus, cfg.UnitOfWork,
		uow.WithLogger(logger.Logger),
		uow.WithMetrics(uow.NewMetrics(rt.Metrics)),
	)

	logger.Info("cqbus runtime initialized",
		"uow", rt.UnitOfWork.Name(),
		"collector", cfg.UnitOfWork.Collector,
		"autocommit", cfg.UnitOfWork.Autocommit)
	return rt, nil
}

// Close 释放资源.
func (r *Runtime) Close() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
	r.cleanups = nil
}
