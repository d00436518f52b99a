// Package middleware 提供了把工作单元接入 Gin 与 gRPC 的中间件实现。
// 生成摘要:
// 1) 每个请求一个工作单元事务，请求成功后才分发事件。
// 2) 处理器 panic 时先回滚再继续向上抛出，交给 Recovery 处理。
// 假设:
// 1) 响应状态码 >= 500 或 c.Errors 非空视为请求失败。
package middleware

import (
	"context"
	"net/http"

	"github.com/wyfcoding/cqbus/tracing"
	"github.com/wyfcoding/cqbus/uow"

	"github.com/gin-gonic/gin"
)

// UnitOfWork 返回一个 Gin 中间件，在工作单元事务中执行后续处理器.
// 处理器可以通过 uow.Current(c.Request.Context()) 或 uow.EmitEvent 发出事件。
func UnitOfWork(u *uow.UnitOfWork) gin.HandlerFunc {
	return func(c *gin.Context) {
		txCtx := u.Begin(c.Request.Context())
		c.Request = c.Request.WithContext(txCtx)
		tagTransaction(txCtx, u)

		closed := false
		defer func() {
			if closed {
				return
			}
			r := recover()
			u.Rollback(txCtx)
			if r != nil {
				panic(r)
			}
		}()

		c.Next()

		closed = true
		if failed(c) {
			u.Rollback(txCtx)
			return
		}
		u.Commit(txCtx)
	}
}

func failed(c *gin.Context) bool {
	return c.Writer.Status() >= http.StatusInternalServerError || len(c.Errors) > 0
}

// tagTransaction 把工作单元名称与根事务 ID 标记到请求 Span 上，便于与日志关联.
func tagTransaction(ctx context.Context, u *uow.UnitOfWork) {
	if tx := u.Transaction(ctx); tx != nil {
		tracing.AddTag(ctx, "cqbus.uow", u.Name())
		tracing.AddTag(ctx, "cqbus.transaction", tx.ID())
	}
}
