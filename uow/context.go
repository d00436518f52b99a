package uow

import (
	"context"

	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/xerrors"
)

type currentKey struct{}

// NewContext 把 u 设为 ctx 的当前工作单元。Begin 会自动调用.
// 框架集成代码（中间件、ORM 钩子）拿不到 u 时，通过 Current 取回。
func NewContext(ctx context.Context, u *UnitOfWork) context.Context {
	return context.WithValue(ctx, currentKey{}, u)
}

// Current 返回 ctx 的当前工作单元.
func Current(ctx context.Context) (*UnitOfWork, bool) {
	u, ok := ctx.Value(currentKey{}).(*UnitOfWork)
	return u, ok && u != nil
}

// EmitEvent 通过 ctx 的当前工作单元发出事件.
func EmitEvent(ctx context.Context, evt cqrs.Event) error {
	u, ok := Current(ctx)
	if !ok {
		return noUnitOfWork()
	}
	return u.EmitEvent(ctx, evt)
}

// HandleCommand 通过 ctx 的当前工作单元执行命令.
func HandleCommand(ctx context.Context, cmd cqrs.Command) (any, error) {
	u, ok := Current(ctx)
	if !ok {
		return nil, noUnitOfWork()
	}
	return u.HandleCommand(ctx, cmd)
}

func noUnitOfWork() error {
	return xerrors.FailedPrecondition(xerrors.CodeNoTransaction, "no unit of work in context", ErrNoUnitOfWork)
}
