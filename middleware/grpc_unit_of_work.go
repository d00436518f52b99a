package middleware

import (
	"context"

	"github.com/wyfcoding/cqbus/uow"

	"google.golang.org/grpc"
)

// UnaryUnitOfWork 返回一个 gRPC 一元拦截器，handler 返回错误或 panic 时回滚，否则提交.
func UnaryUnitOfWork(u *uow.UnitOfWork) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		err = u.Do(ctx, func(ctx context.Context) error {
			tagTransaction(ctx, u)
			var herr error
			resp, herr = handler(ctx, req)
			return herr
		})
		return resp, err
	}
}
