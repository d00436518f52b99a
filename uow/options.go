package uow

import (
	"log/slog"

	"github.com/wyfcoding/cqbus/config"
	"github.com/wyfcoding/cqbus/cqrs"
)

// Option 定义工作单元的配置选项.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	registry     *cqrs.Registry
	metrics      *Metrics
	newCollector CollectorFactory
	name         string
	autocommit   bool
}

// WithLogger 设置日志记录器，默认 slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRegistry 设置校验消息所用的注册表.
// 默认取 Dispatcher 提供的注册表，否则使用 cqrs.DefaultRegistry()。
func WithRegistry(r *cqrs.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithAutocommit 开启后，事务之外发出的事件会立即分发；关闭时返回 ErrNoTransaction.
func WithAutocommit(on bool) Option {
	return func(o *options) { o.autocommit = on }
}

// WithCollector 设置每个事务的事件缓冲区实现，默认 NewDedupeFifo.
func WithCollector(f CollectorFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newCollector = f
		}
	}
}

// WithMetrics 记录 Prometheus 指标.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithName 设置工作单元名称，出现在日志与指标标签中.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// FromConfig 根据配置文件的 unit_of_work 段创建工作单元，opts 在配置之后生效.
func FromConfig(d cqrs.Dispatcher, cfg config.UnitOfWorkConfig, opts ...Option) *UnitOfWork {
	base := []Option{WithName(cfg.Name), WithAutocommit(cfg.Autocommit)}
	if cfg.Collector == config.CollectorFifo {
		base = append(base, WithCollector(NewFifo))
	}
	return New(d, append(base, opts...)...)
}
