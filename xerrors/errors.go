// Package xerrors 提供了总线与工作单元统一使用的增强型错误类型。
// 所有对外错误都包装一个包级哨兵错误，调用方可以使用 errors.Is 判断。
package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType 错误的大类
type ErrorType uint

const (
	ErrUnknown ErrorType = iota
	ErrInternal
	ErrInvalidArg
	ErrNotFound
	ErrAlreadyExists
	ErrFailedPrecondition
	ErrConfig      // 配置错误：注册阶段抛出，启动即失败
	ErrProgramming // 编程错误：违反作用域配对约定，作为 panic 值抛出
)

// Error 增强型错误结构
type Error struct {
	Type    ErrorType      `json:"type"`
	Code    int            `json:"code"`    // 业务自定义错误码
	Message string         `json:"message"` // 对外展示的友好消息
	Detail  string         `json:"detail"`  // 对内调试的详细信息
	Cause   error          `json:"-"`       // 原始错误
	Stack   []string       `json:"stack"`   // 堆栈追踪
	Context map[string]any `json:"context"` // 上下文数据 (消息名、事务 ID 等)
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %d: %s (Cause: %v)", e.Type.String(), e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %d: %s", e.Type.String(), e.Code, e.Message)
}

// Unwrap 实现 Go 1.13 解包接口
func (e *Error) Unwrap() error {
	return e.Cause
}

func (t ErrorType) String() string {
	names := [...]string{
		"Unknown", "Internal", "InvalidArg", "NotFound", "AlreadyExists",
		"FailedPrecondition", "Config", "Programming",
	}
	if int(t) >= len(names) {
		return "Unknown"
	}
	return names[t]
}

// --- 核心构造函数 ---

// New 创建新错误并自动捕获堆栈
func New(errType ErrorType, code int, message string, detail string, cause error) *Error {
	e := &Error{
		Type:    errType,
		Code:    code,
		Message: message,
		Detail:  detail,
		Cause:   cause,
		Context: make(map[string]any),
	}
	e.captureStack()
	return e
}

// captureStack 捕获当前调用栈 (深度限制 10 层)
func (e *Error) captureStack() {
	const depth = 10
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // 跳过 captureStack, New 和上层构造函数
	frames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := frames.Next()
		e.Stack = append(e.Stack, fmt.Sprintf("%s:%d (%s)", frame.File, frame.Line, frame.Function))
		if !more || len(e.Stack) >= depth {
			break
		}
	}
}

// --- 链式 API ---

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// --- 快捷构造工具 ---

// Config 创建配置类错误，cause 通常是调用方包内的哨兵错误。
func Config(code int, msg string, cause error) *Error {
	return New(ErrConfig, code, msg, "", cause)
}

// InvalidArg 创建参数非法错误。
func InvalidArg(code int, msg string, cause error) *Error {
	return New(ErrInvalidArg, code, msg, "", cause)
}

// NotFound 创建资源缺失错误。
func NotFound(code int, msg string, cause error) *Error {
	return New(ErrNotFound, code, msg, "", cause)
}

// FailedPrecondition 创建前置条件不满足错误。
func FailedPrecondition(code int, msg string, cause error) *Error {
	return New(ErrFailedPrecondition, code, msg, "", cause)
}

// Programming 创建编程错误，用作 panic 值。
func Programming(code int, msg string, cause error) *Error {
	return New(ErrProgramming, code, msg, "", cause)
}

// Wrap 包装现有错误并捕获堆栈
func Wrap(err error, errType ErrorType, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := FromError(err); ok {
		return New(e.Type, e.Code, msg, e.Detail, err)
	}
	return New(errType, int(errType), msg, "", err)
}

// WrapInternal 快速包装内部错误
func WrapInternal(err error, msg string) *Error {
	return Wrap(err, ErrInternal, msg)
}

// IsType 判断错误链中是否存在指定大类的 *Error。
func IsType(err error, errType ErrorType) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Type == errType {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// --- 协议转换 ---

// HTTPStatus 自动映射 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case ErrInvalidArg:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrAlreadyExists:
		return http.StatusConflict
	case ErrFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

// GRPCCode 自动映射 gRPC 状态码
func (e *Error) GRPCCode() codes.Code {
	switch e.Type {
	case ErrInvalidArg:
		return codes.InvalidArgument
	case ErrNotFound:
		return codes.NotFound
	case ErrAlreadyExists:
		return codes.AlreadyExists
	case ErrFailedPrecondition:
		return codes.FailedPrecondition
	case ErrConfig:
		return codes.Unimplemented
	default:
		return codes.Internal
	}
}

// ToGRPCStatus 将 Error 转换为 gRPC Status
func (e *Error) ToGRPCStatus() *status.Status {
	return status.New(e.GRPCCode(), e.Message)
}

// FromError 沿错误链查找第一个 *Error
func FromError(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
