package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// Tracing 返回 OpenTelemetry 追踪中间件，注册在 UnitOfWork 之前，使命令与事件分发的 Span 挂在请求 Span 之下。
func Tracing(serviceName string, opts ...otelgin.Option) gin.HandlerFunc {
	return otelgin.Middleware(serviceName, opts...)
}

// GRPCTracingServerOption 返回启用追踪的 gRPC ServerOption（基于 stats handler）。
func GRPCTracingServerOption(opts ...otelgrpc.Option) grpc.ServerOption {
	return grpc.StatsHandler(otelgrpc.NewServerHandler(opts...))
}
