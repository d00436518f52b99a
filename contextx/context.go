// Package contextx 提供了一组用于在 context.Context 中注入与提取请求级信息的工具函数。
// 它通过使用私有类型作为 Key，有效防止了跨包的 Key 冲突。
package contextx

import (
	"context"
)

type contextKey int

const (
	RequestIDKey contextKey = iota // 请求唯一标识 Key。
	DBTxKey                        // 数据库事务 Key。
)

// KeyNames 映射 Key 到日志字段名。
var KeyNames = map[contextKey]string{
	RequestIDKey: "request_id",
}

// WithRequestID 将请求 ID 注入到 Context 中。
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID 从 Context 中提取请求 ID。
func GetRequestID(ctx context.Context) string {
	if val, ok := ctx.Value(RequestIDKey).(string); ok {
		return val
	}
	return ""
}

// WithTx 将数据库事务实例（通常是 *gorm.DB）注入到 Context 中。
func WithTx(ctx context.Context, tx any) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// GetTx 从 Context 中尝试提取数据库事务实例。
func GetTx(ctx context.Context) any {
	return ctx.Value(DBTxKey)
}
