// Package logging 提供了统一的结构化日志（slog）封装，支持 OpenTelemetry 追踪上下文注入、
// 请求 ID 注入、日志切割以及 GORM 日志集成。
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wyfcoding/cqbus/contextx"

	"go.opentelemetry.io/otel/trace" // OpenTelemetry追踪
	"gopkg.in/natefinch/lumberjack.v2"
	"gorm.io/gorm/logger" // GORM的日志接口
)

var (
	// defaultLogger 是全局默认的Logger实例，采用单例模式。
	defaultLogger *Logger
	// once 用于确保InitLogger函数只被执行一次，保证defaultLogger的单例性。
	once sync.Once
	// level 由所有通过本包创建的 Handler 共享，支持运行时动态调整。
	level = new(slog.LevelVar)
)

// Config 定义日志配置
type Config struct {
	Service    string
	Module     string
	Level      string
	Format     string    // json 或 text，默认 json
	Output     io.Writer // 为空时输出到 stdout
	File       string    // 日志文件路径，非空时额外写入文件
	MaxSize    int       // 每个日志文件最大尺寸 (MB)
	MaxBackups int       // 保留旧日志文件的最大个数
	MaxAge     int       // 保留旧日志文件的最大天数
	Compress   bool      // 是否压缩旧日志
}

// Logger 结构体封装了原生的 `*slog.Logger`，并添加了服务名和模块名，方便在日志中区分来源。
type Logger struct {
	*slog.Logger
	Service string // 服务名称
	Module  string // 模块名称
}

// TraceHandler 是一个自定义的 `slog.Handler` 装饰器，
// 从 `context.Context` 中提取 `trace_id`、`span_id` 与 `request_id` 并注入到日志记录中。
type TraceHandler struct {
	slog.Handler
}

// Handle 方法实现了 `slog.Handler` 接口。
func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	spanCtx := trace.SpanContextFromContext(ctx)
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}
	if requestID := contextx.GetRequestID(ctx); requestID != "" {
		r.AddAttrs(slog.String(contextx.KeyNames[contextx.RequestIDKey], requestID))
	}
	return h.Handler.Handle(ctx, r)
}

// WithAttrs 保证装饰器在派生 Logger 后依然生效。
func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup 保证装饰器在派生 Logger 后依然生效。
func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel 将配置中的级别字符串转换为 slog.Level，未知值回退为 Info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel 动态调整所有 Logger 的输出级别，配置热更新时调用。
func SetLevel(s string) {
	level.Set(ParseLevel(s))
}

// NewFromConfig 创建一个新的Logger实例。
func NewFromConfig(cfg Config) *Logger {
	level.Set(ParseLevel(cfg.Level))

	replaceAttr := func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			a.Key = "timestamp"
		}
		return a
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceAttr}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	handlers := []slog.Handler{newHandler(cfg.Format, out, opts)}

	// 如果配置了文件路径，则额外使用 lumberjack 进行日志切割，文件始终为 JSON
	if cfg.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize, // MB
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
			Compress:   cfg.Compress,
		}
		handlers = append(handlers, slog.NewJSONHandler(fileWriter, opts))
	}

	traceHandler := &TraceHandler{Handler: newMultiHandler(handlers...)}

	l := slog.New(traceHandler).With(
		slog.String("service", cfg.Service),
		slog.String("module", cfg.Module),
	)

	return &Logger{
		Logger:  l,
		Service: cfg.Service,
		Module:  cfg.Module,
	}
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewLogger 是创建一个带有简单参数的 logger 的便捷入口。
func NewLogger(service, module string, lvl ...string) *Logger {
	l := "info"
	if len(lvl) > 0 {
		l = lvl[0]
	}
	return NewFromConfig(Config{
		Service: service,
		Module:  module,
		Level:   l,
	})
}

// InitLogger 初始化全局默认日志记录器，并设置为 slog 的默认实例。
func InitLogger(cfg Config) {
	once.Do(func() {
		defaultLogger = NewFromConfig(cfg)
		slog.SetDefault(defaultLogger.Logger)
	})
}

// Default 返回默认日志记录器实例
func Default() *Logger {
	if defaultLogger == nil {
		InitLogger(Config{Service: "default", Module: "default", Level: "info"})
	}
	return defaultLogger
}

// LogDuration 记录操作耗时
func LogDuration(ctx context.Context, l *slog.Logger, operation string, args ...any) func() {
	start := time.Now()
	return func() {
		logArgs := append(args, "duration", time.Since(start))
		l.DebugContext(ctx, fmt.Sprintf("%s finished", operation), logArgs...)
	}
}

// GormLogger 是一个自定义的GORM日志器，它实现了 `gorm.io/gorm/logger.Interface` 接口，
// 从而允许GORM将数据库操作日志输出到统一的slog日志系统中。
type GormLogger struct {
	logger        *slog.Logger  // 用于输出日志的slog实例
	SlowThreshold time.Duration // 慢查询阈值，超过此阈值的SQL查询将被记录为警告
}

// NewGormLogger 创建一个新的GormLogger实例。
func NewGormLogger(l *slog.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{
		logger:        l,
		SlowThreshold: slowThreshold,
	}
}

// LogMode 沿用当前 slog 级别配置，直接返回自身。
func (l *GormLogger) LogMode(logger.LogLevel) logger.Interface {
	return l
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	l.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	l.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	l.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

// Trace 记录SQL查询的详细信息，包括耗时、SQL语句和错误。
// 慢查询以Warn级别记录，错误查询以Error级别记录，普通查询以Debug级别记录。
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []any{
		slog.String("sql", sql),
		slog.Duration("elapsed", elapsed),
	}
	if rows != -1 {
		fields = append(fields, slog.Int64("rows", rows))
	}

	switch {
	case err != nil && err != logger.ErrRecordNotFound:
		fields = append(fields, slog.Any("error", err))
		l.logger.ErrorContext(ctx, "gorm trace error", fields...)
	case l.SlowThreshold != 0 && elapsed > l.SlowThreshold:
		fields = append(fields, slog.String("type", "slow_query"))
		l.logger.WarnContext(ctx, "gorm trace slow query", fields...)
	default:
		l.logger.DebugContext(ctx, "gorm trace", fields...)
	}
}
