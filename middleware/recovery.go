package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc/panics"
	"github.com/wyfcoding/cqbus/uow"
	"github.com/wyfcoding/cqbus/xerrors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Recovery 把 panic 转换为 500 响应，应注册在 UnitOfWork 外层，
// 此时工作单元事务已经回滚。事务配对违规产生的 *xerrors.Error 会带上错误码。
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var catcher panics.Catcher
		catcher.Try(c.Next)

		r := catcher.Recovered()
		if r == nil {
			return
		}
		code := logPanic(c.Request.Context(), logger, r, "method", c.Request.Method, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"code": code,
			"msg":  "Internal Server Error",
		})
	}
}

// GRPCRecovery 是 Recovery 的 gRPC 一元拦截器版本，panic 转换为 codes.Internal。
func GRPCRecovery(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		var catcher panics.Catcher
		catcher.Try(func() {
			resp, err = handler(ctx, req)
		})

		if r := catcher.Recovered(); r != nil {
			logPanic(ctx, logger, r, "method", info.FullMethod)
			return nil, status.Error(codes.Internal, "internal error")
		}
		return resp, err
	}
}

func logPanic(ctx context.Context, logger *slog.Logger, r *panics.Recovered, attrs ...any) int {
	code := http.StatusInternalServerError
	if xe, ok := r.Value.(*xerrors.Error); ok {
		code = xe.Code
		attrs = append(attrs, "code", xe.Code, "context", xe.Context)
	}
	if u, ok := uow.Current(ctx); ok {
		attrs = append(attrs, "uow", u.Name())
	}
	attrs = append(attrs, "panic", r.Value, "stack", string(r.Stack))
	logger.ErrorContext(ctx, "panic recovered", attrs...)
	return code
}
