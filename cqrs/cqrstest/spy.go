// Package cqrstest 提供用于测试的处理器替身，记录每一次调用.
package cqrstest

import (
	"context"
	"sync"

	"github.com/wyfcoding/cqbus/cqrs"
)

// EventSpy 记录收到的事件，可选地委托给 Fn.
// 以指针订阅，同一个 Spy 重复订阅会被总线去重。
type EventSpy struct {
	Fn    func(ctx context.Context, evt cqrs.Event, uow cqrs.UnitOfWork) error
	calls []cqrs.Event
	mu    sync.Mutex
}

// NewEventSpy 创建事件替身.
func NewEventSpy(fn func(ctx context.Context, evt cqrs.Event, uow cqrs.UnitOfWork) error) *EventSpy {
	return &EventSpy{Fn: fn}
}

// HandleEvent 实现 cqrs.EventHandler.
func (s *EventSpy) HandleEvent(ctx context.Context, evt cqrs.Event, uow cqrs.UnitOfWork) error {
	s.mu.Lock()
	s.calls = append(s.calls, evt)
	s.mu.Unlock()

	if s.Fn != nil {
		return s.Fn(ctx, evt, uow)
	}
	return nil
}

// Calls 返回调用记录的副本.
func (s *EventSpy) Calls() []cqrs.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cqrs.Event(nil), s.calls...)
}

// Count 返回调用次数.
func (s *EventSpy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Names 按调用顺序返回事件名.
func (s *EventSpy) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.calls))
	for i, evt := range s.calls {
		names[i] = evt.EventName()
	}
	return names
}

// Reset 清空调用记录.
func (s *EventSpy) Reset() {
	s.mu.Lock()
	s.calls = nil
	s.mu.Unlock()
}

// CommandSpy 记录收到的命令.
type CommandSpy struct {
	Fn    func(ctx context.Context, cmd cqrs.Command, uow cqrs.UnitOfWork) (any, error)
	calls []cqrs.Command
	mu    sync.Mutex
}

// NewCommandSpy 创建命令替身.
func NewCommandSpy(fn func(ctx context.Context, cmd cqrs.Command, uow cqrs.UnitOfWork) (any, error)) *CommandSpy {
	return &CommandSpy{Fn: fn}
}

// HandleCommand 实现 cqrs.CommandHandler.
func (s *CommandSpy) HandleCommand(ctx context.Context, cmd cqrs.Command, uow cqrs.UnitOfWork) (any, error) {
	s.mu.Lock()
	s.calls = append(s.calls, cmd)
	s.mu.Unlock()

	if s.Fn != nil {
		return s.Fn(ctx, cmd, uow)
	}
	return nil, nil
}

// Calls 返回调用记录的副本.
func (s *CommandSpy) Calls() []cqrs.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cqrs.Command(nil), s.calls...)
}

// Count 返回调用次数.
func (s *CommandSpy) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
