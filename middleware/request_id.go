package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/wyfcoding/cqbus/contextx"
	"github.com/wyfcoding/cqbus/tracing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	HeaderXRequestID = "X-Request-ID"
	HeaderXTraceID   = "X-Trace-ID"
)

// gRPC metadata 的键必须是小写.
var (
	metadataRequestID = strings.ToLower(HeaderXRequestID)
	metadataTraceID   = strings.ToLower(HeaderXTraceID)
)

// withRequestID 沿用上游传入的请求 ID，没有时生成一个，并标记到当前 Span 上.
// 请求 ID 会出现在该请求产生的全部日志中，包括事件订阅者的日志。
func withRequestID(ctx context.Context, incoming string) (context.Context, string) {
	requestID := incoming
	if requestID == "" {
		requestID = uuid.NewString()
	}
	tracing.AddTag(ctx, "cqbus.request_id", requestID)
	return contextx.WithRequestID(ctx, requestID), requestID
}

// RequestID 返回一个用于生成或传递请求 ID 的 Gin 中间件。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, requestID := withRequestID(c.Request.Context(), c.GetHeader(HeaderXRequestID))
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderXRequestID, requestID)
		if traceID := tracing.GetTraceID(ctx); traceID != "" {
			c.Header(HeaderXTraceID, traceID)
		}

		c.Next()
	}
}

// GRPCRequestID 是 RequestID 的 gRPC 一元拦截器版本，ID 通过 metadata 传递.
func GRPCRequestID() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		var incoming string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(metadataRequestID); len(vals) > 0 {
				incoming = vals[0]
			}
		}

		ctx, requestID := withRequestID(ctx, incoming)
		header := metadata.Pairs(metadataRequestID, requestID)
		if traceID := tracing.GetTraceID(ctx); traceID != "" {
			header.Append(metadataTraceID, traceID)
		}
		_ = grpc.SetHeader(ctx, header)

		return handler(ctx, req)
	}
}
