// Package uow 实现带嵌套事务的工作单元。
//
// 事务内发出的事件先缓存在当前事务中：嵌套事务提交时并入父事务，回滚时丢弃（持久事件除外），
// 最外层事务提交后才统一分发给订阅者。事务栈保存在 context.Context 中，
// 因此每个请求或 goroutine 的调用链各自持有独立的栈，同一个 UnitOfWork 可以被并发复用。
package uow

import (
	"context"
	"log/slog"
	"time"

	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/tracing"
	"github.com/wyfcoding/cqbus/xerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var _ cqrs.UnitOfWork = (*UnitOfWork)(nil)

type txKey struct {
	u *UnitOfWork
}

// UnitOfWork 事务栈管理器，生命周期不限，可跨多个事务周期复用.
type UnitOfWork struct {
	dispatcher   cqrs.Dispatcher
	registry     *cqrs.Registry
	logger       *slog.Logger
	metrics      *Metrics
	newCollector CollectorFactory
	key          txKey
	name         string
	autocommit   bool
}

// New 创建工作单元，d 不能为空.
func New(d cqrs.Dispatcher, opts ...Option) *UnitOfWork {
	o := options{
		logger:       slog.Default(),
		newCollector: NewDedupeFifo,
		name:         "default",
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		if rp, ok := d.(cqrs.RegistryProvider); ok {
			o.registry = rp.Registry()
		} else {
			o.registry = cqrs.DefaultRegistry()
		}
	}

	u := &UnitOfWork{
		dispatcher:   d,
		registry:     o.registry,
		logger:       o.logger.With("module", "uow", "uow", o.name),
		metrics:      o.metrics,
		newCollector: o.newCollector,
		name:         o.name,
		autocommit:   o.autocommit,
	}
	u.key = txKey{u: u}
	return u
}

// Name 返回工作单元名称.
func (u *UnitOfWork) Name() string { return u.name }

// Begin 开启一个事务，父事务是 ctx 中最内层的未关闭事务.
// 返回的 context 必须传给配对的 Commit 或 Rollback。
func (u *UnitOfWork) Begin(ctx context.Context) context.Context {
	tx := newTransaction(u, u.current(ctx))
	u.logger.DebugContext(ctx, "transaction begun", "transaction", tx.id, "depth", tx.depth)
	return NewContext(context.WithValue(ctx, u.key, tx), u)
}

// Commit 关闭 ctx 中最内层的事务。嵌套事务的事件并入父事务，根事务的事件在返回前分发完毕。
// 没有事务、事务已关闭或仍有未关闭的子事务时 panic。
func (u *UnitOfWork) Commit(ctx context.Context) {
	tx := u.mustInnermost(ctx, "commit")
	tx.commit(u.detach(ctx))
	u.metrics.transaction(u.name, "commit", tx.Root())
	u.logger.DebugContext(ctx, "transaction committed", "transaction", tx.id, "depth", tx.depth)
}

// Rollback 关闭 ctx 中最内层的事务并丢弃非持久事件.
// 约定违规时与 Commit 一样 panic。
func (u *UnitOfWork) Rollback(ctx context.Context) {
	tx := u.mustInnermost(ctx, "rollback")
	tx.rollback(u.detach(ctx))
	u.metrics.transaction(u.name, "rollback", tx.Root())
	u.logger.DebugContext(ctx, "transaction rolled back", "transaction", tx.id, "depth", tx.depth)
}

// Do 在新事务中执行 fn：返回 nil 时提交，返回错误或 panic 时回滚.
// 错误原样返回，panic 在回滚后原样重新抛出。
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	txCtx := u.Begin(ctx)
	committed := false
	defer func() {
		if committed {
			return
		}
		r := recover()
		if r == nil {
			u.Rollback(txCtx)
			return
		}
		u.rollbackUnwinding(ctx, txCtx, r)
		panic(r)
	}()

	if err = fn(txCtx); err != nil {
		return err
	}
	committed = true
	u.Commit(txCtx)
	return nil
}

// rollbackUnwinding 在 fn panic 后回滚。回滚本身违反约定而 panic 时，
// 原始 panic 值记入日志并附加到新的 panic 值上，不会丢失。
func (u *UnitOfWork) rollbackUnwinding(ctx, txCtx context.Context, cause any) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		u.logger.ErrorContext(ctx, "rollback failed while unwinding a panic", "panic", cause, "rollback_panic", r)
		if xe, ok := r.(*xerrors.Error); ok {
			panic(xe.WithContext("panic", cause))
		}
		panic(r)
	}()
	u.Rollback(txCtx)
}

// Depth 返回 ctx 中未关闭事务的层数，空闲时为 0.
func (u *UnitOfWork) Depth(ctx context.Context) int {
	n := 0
	for tx := u.current(ctx); tx != nil; tx = tx.parent {
		n++
	}
	return n
}

// InTransaction 报告 ctx 是否处于本工作单元的事务中.
func (u *UnitOfWork) InTransaction(ctx context.Context) bool {
	return u.current(ctx) != nil
}

// Transaction 返回 ctx 中最内层的未关闭事务，不存在时返回 nil.
func (u *UnitOfWork) Transaction(ctx context.Context) *Transaction {
	return u.current(ctx)
}

// EmitEvent 把事件缓存到当前事务.
// 不在事务中时：自动提交模式立即分发，否则返回包装 ErrNoTransaction 的错误。
func (u *UnitOfWork) EmitEvent(ctx context.Context, evt cqrs.Event) error {
	if err := u.registry.ValidateEvent(evt); err != nil {
		return err
	}

	name := evt.EventName()
	if tx := u.current(ctx); tx != nil {
		tx.collectEvent(evt)
		u.metrics.emitted(u.name, name)
		return nil
	}

	if !u.autocommit {
		return xerrors.FailedPrecondition(xerrors.CodeNoTransaction, "no transaction in progress", ErrNoTransaction).
			WithContext("event", name)
	}

	u.metrics.emitted(u.name, name)
	u.handleEvents(ctx, []cqrs.Event{evt})
	return nil
}

// HandleCommand 查找并同步执行命令处理器，处理器的返回值与错误原样返回.
func (u *UnitOfWork) HandleCommand(ctx context.Context, cmd cqrs.Command) (any, error) {
	if err := u.registry.ValidateCommand(cmd); err != nil {
		return nil, err
	}

	name := cmd.CommandName()
	handler, err := u.dispatcher.CommandHandler(cmd)
	if err != nil {
		u.logger.ErrorContext(ctx, "no command handler registered", "command", name, "error", err)
		return nil, err
	}

	ctx, span := tracing.StartSpan(ctx, "uow.command", trace.WithAttributes(
		attribute.String("cqbus.command", name),
		attribute.String("cqbus.uow", u.name),
	))
	defer span.End()

	start := time.Now()
	result, err := handler.HandleCommand(ctx, cmd, u)
	duration := time.Since(start)

	if err != nil {
		tracing.SetError(ctx, err)
		u.logger.ErrorContext(ctx, "command dispatch failed", "command", name, "error", err, "duration", duration)
		return result, err
	}

	u.logger.InfoContext(ctx, "command dispatched successfully", "command", name, "duration", duration)
	return result, nil
}

// handleEvents 最终分发，只能在没有未关闭事务的 context 上调用.
// 每个订阅者的错误和 panic 都被捕获并记录，不会影响其他订阅者或提交方。
func (u *UnitOfWork) handleEvents(ctx context.Context, events []cqrs.Event) {
	if tx := u.current(ctx); tx != nil {
		panic(xerrors.Programming(xerrors.CodeUnbalancedTransaction, "events dispatched inside a transaction", ErrUnbalancedTransaction).
			WithContext("transaction", tx.id))
	}
	if len(events) == 0 {
		return
	}

	ctx, span := tracing.StartSpan(ctx, "uow.flush", trace.WithAttributes(
		attribute.String("cqbus.uow", u.name),
		attribute.Int("cqbus.events", len(events)),
	))
	defer span.End()

	start := time.Now()
	for _, evt := range events {
		handlers := u.dispatcher.EventHandlers(evt)
		u.logger.DebugContext(ctx, "dispatching event", "event", evt.EventName(), "handlers", len(handlers))
		for _, h := range handlers {
			u.callHandler(ctx, h, evt)
		}
		u.metrics.dispatched(u.name, evt.EventName())
	}
	u.metrics.flushed(u.name, time.Since(start))
}

func (u *UnitOfWork) callHandler(ctx context.Context, h cqrs.EventHandler, evt cqrs.Event) {
	var (
		catcher panics.Catcher
		err     error
	)
	catcher.Try(func() {
		err = h.HandleEvent(ctx, evt, u)
	})

	name, handler := evt.EventName(), cqrs.HandlerName(h)
	if r := catcher.Recovered(); r != nil {
		u.metrics.failed(u.name, name, handler)
		tracing.SetError(ctx, r.AsError())
		u.logger.ErrorContext(ctx, "event handler panicked",
			"event", name, "handler", handler, "panic", r.Value, "stack", string(r.Stack))
		return
	}
	if err != nil {
		u.metrics.failed(u.name, name, handler)
		tracing.SetError(ctx, err)
		u.logger.ErrorContext(ctx, "event handler failed", "event", name, "handler", handler, "error", err)
	}
}

func (u *UnitOfWork) innermost(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(u.key).(*Transaction)
	return tx
}

// current 跳过已关闭的事务，返回最近的未关闭祖先.
func (u *UnitOfWork) current(ctx context.Context) *Transaction {
	tx := u.innermost(ctx)
	for tx != nil && tx.isClosed() {
		tx = tx.parent
	}
	return tx
}

func (u *UnitOfWork) mustInnermost(ctx context.Context, op string) *Transaction {
	tx := u.innermost(ctx)
	if tx == nil {
		panic(xerrors.Programming(xerrors.CodeUnbalancedTransaction, op+" called without a transaction in progress", ErrUnbalancedTransaction).
			WithContext("uow", u.name))
	}
	return tx
}

// detach 屏蔽 ctx 中的事务，供最终分发使用.
func (u *UnitOfWork) detach(ctx context.Context) context.Context {
	return context.WithValue(ctx, u.key, (*Transaction)(nil))
}
