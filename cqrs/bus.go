// Package cqrs 提供命令查询职责分离的基础设施和接口定义。
//
// 命令（Command）由唯一的处理器执行并可返回结果；事件（Event）可以有零个或多个订阅者。
// 处理器的签名是固定的，总是接收消息本身与当前的工作单元句柄。
package cqrs

import (
	"context"
	"fmt"
)

// Command 命令接口标识。
type Command interface {
	// CommandName 返回命令名称，用于路由和日志。
	CommandName() string
}

// Event 事件接口标识。
type Event interface {
	// EventName 返回事件名称，用于订阅匹配和去重。
	EventName() string
}

// PersistentEvent 可选接口：Persistent 返回 true 的事件在事务回滚后依然会被分发。
type PersistentEvent interface {
	Event
	Persistent() bool
}

// DedupKeyer 可选接口：自定义事件去重时的相等性判断。
// 同名且 DedupKey 相同的两个事件视为同一事件。
type DedupKeyer interface {
	DedupKey() string
}

// IsPersistent 判断事件是否需要在回滚后保留。
func IsPersistent(evt Event) bool {
	p, ok := evt.(PersistentEvent)
	return ok && p.Persistent()
}

// UnitOfWork 是处理器可见的工作单元句柄。
type UnitOfWork interface {
	// EmitEvent 将事件缓存到当前事务，事务最终提交后才会分发。
	EmitEvent(ctx context.Context, evt Event) error
	// HandleCommand 查找命令的处理器并同步执行。
	HandleCommand(ctx context.Context, cmd Command) (any, error)
	// Do 在一个嵌套事务中执行 fn。
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// CommandHandler 命令处理器接口。
type CommandHandler interface {
	HandleCommand(ctx context.Context, cmd Command, uow UnitOfWork) (any, error)
}

// CommandHandlerFunc 函数适配器。
type CommandHandlerFunc func(ctx context.Context, cmd Command, uow UnitOfWork) (any, error)

// HandleCommand 实现 CommandHandler。
func (f CommandHandlerFunc) HandleCommand(ctx context.Context, cmd Command, uow UnitOfWork) (any, error) {
	return f(ctx, cmd, uow)
}

// EventHandler 事件处理器接口，返回值只用于日志记录。
type EventHandler interface {
	HandleEvent(ctx context.Context, evt Event, uow UnitOfWork) error
}

// EventHandlerFunc 函数适配器。
type EventHandlerFunc func(ctx context.Context, evt Event, uow UnitOfWork) error

// HandleEvent 实现 EventHandler。
func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt Event, uow UnitOfWork) error {
	return f(ctx, evt, uow)
}

// Dispatcher 负责把消息解析为处理器，工作单元只依赖这两个查询。
type Dispatcher interface {
	// CommandHandler 返回命令唯一的处理器，不存在时返回包装 ErrMissingHandler 的错误。
	CommandHandler(cmd Command) (CommandHandler, error)
	// EventHandlers 返回事件的有序订阅者列表，可以为空。
	EventHandlers(evt Event) []EventHandler
}

// RegistryProvider 由持有消息注册表的 Dispatcher 实现，工作单元据此校验消息。
type RegistryProvider interface {
	Registry() *Registry
}

// HandlerName 返回用于日志的处理器名称。
func HandlerName(h any) string {
	if n, ok := h.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", h)
}
