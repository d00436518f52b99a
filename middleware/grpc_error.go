package middleware

import (
	"context"

	"github.com/wyfcoding/cqbus/xerrors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// GRPCErrorTranslator 返回一个 gRPC 一元拦截器，将 xerrors 错误（缺少处理器、消息非法等）转换为标准 gRPC 状态码。
// 应放在 UnaryUnitOfWork 外层，保证工作单元看到的是原始错误。
func GRPCErrorTranslator() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		if err == nil {
			return resp, nil
		}

		if _, ok := status.FromError(err); ok {
			return resp, err
		}

		if xe, ok := xerrors.FromError(err); ok {
			return resp, xe.ToGRPCStatus().Err()
		}

		return resp, err
	}
}
