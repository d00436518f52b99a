package cqrs

import (
	"errors"

	"github.com/wyfcoding/cqbus/xerrors"
)

var (
	// ErrInvalidMessageName 消息名为空或包含非法字符.
	ErrInvalidMessageName = errors.New("invalid message name")
	// ErrDuplicatedMessageName 同一个名称注册了不同的消息类型.
	ErrDuplicatedMessageName = errors.New("duplicated message name")
	// ErrRegistrySealed 注册表冻结后不再接受注册.
	ErrRegistrySealed = errors.New("message registry sealed")
	// ErrDuplicatedCommandHandler 同一命令注册了第二个处理器.
	ErrDuplicatedCommandHandler = errors.New("duplicated command handler")
	// ErrInvalidMessageType 订阅的消息未注册或类型不符.
	ErrInvalidMessageType = errors.New("invalid message type")
	// ErrInvalidCondition 订阅条件无法编译.
	ErrInvalidCondition = errors.New("invalid subscription condition")
	// ErrInvalidMessage 传入的消息未注册或不是期望的类型.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrMissingHandler 命令没有处理器.
	ErrMissingHandler = errors.New("no handler registered for command")
)

// InvalidMessage 构造参数类错误，调用方可以用 errors.Is(err, ErrInvalidMessage) 判断。
func InvalidMessage(name, detail string) *xerrors.Error {
	return xerrors.InvalidArg(xerrors.CodeInvalidMessage, "invalid message", ErrInvalidMessage).
		WithDetail("%s", detail).
		WithContext("message", name)
}

// MissingHandler 构造命令缺少处理器的错误。
func MissingHandler(name string) *xerrors.Error {
	return xerrors.NotFound(xerrors.CodeMissingHandler, "missing command handler", ErrMissingHandler).
		WithContext("command", name)
}

func configError(code int, msg, name string, sentinel error) *xerrors.Error {
	return xerrors.Config(code, msg, sentinel).WithContext("message", name)
}
