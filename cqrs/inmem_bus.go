package cqrs

import (
	"cmp"
	"context"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/wyfcoding/cqbus/xerrors"
)

// SubscribeOption 订阅选项.
type SubscribeOption func(*subscription)

// WithPriority 设置订阅优先级，数值越大越先执行，默认 0.
func WithPriority(priority int) SubscribeOption {
	return func(s *subscription) { s.priority = priority }
}

// WithHandlerName 为订阅命名。同名订阅在一次查询中只保留第一个，日志也使用该名称。
func WithHandlerName(name string) SubscribeOption {
	return func(s *subscription) { s.name = name }
}

// WithCondition 附加一个 expr 布尔表达式，可引用 event 与 name 两个变量.
func WithCondition(expression string) SubscribeOption {
	return func(s *subscription) { s.condition = expression }
}

type subscription struct {
	matcher   Matcher
	handler   EventHandler
	program   *vm.Program
	name      string
	condition string
	priority  int
	seq       uint64
}

func (s *subscription) key() (any, bool) {
	if s.name != "" {
		return namedKey(s.name), true
	}
	v := reflect.ValueOf(s.handler)
	if v.Comparable() {
		return s.handler, true
	}
	return nil, false
}

type namedKey string

// namedHandler 让带名称的订阅在日志中显示名称.
type namedHandler struct {
	EventHandler
	name string
}

func (h namedHandler) Name() string { return h.name }

// InMemBus 内存版 Dispatcher：命令表加上带优先级的事件订阅列表.
// 订阅应在启动阶段完成，运行期查询只读。
type InMemBus struct { //nolint:govet
	registry *Registry
	commands map[string]CommandHandler
	subs     []*subscription
	seq      uint64
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewInMemBus 创建总线，reg 为空时使用 DefaultRegistry.
func NewInMemBus(reg *Registry) *InMemBus {
	if reg == nil {
		reg = DefaultRegistry()
	}
	return &InMemBus{
		registry: reg,
		commands: make(map[string]CommandHandler),
		logger:   slog.Default().With("module", "cqrs"),
	}
}

// Registry 实现 RegistryProvider.
func (b *InMemBus) Registry() *Registry {
	return b.registry
}

// SubscribeCommand 为命令注册唯一的处理器.
func (b *InMemBus) SubscribeCommand(name string, h CommandHandler) error {
	d, ok := b.registry.Lookup(name)
	if !ok || d.Kind != KindCommand {
		return configError(xerrors.CodeInvalidMessageType, "subscribed name is not a registered command", name, ErrInvalidMessageType)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.commands[name]; exists {
		return configError(xerrors.CodeDuplicatedHandler, "command handler already registered", name, ErrDuplicatedCommandHandler)
	}
	b.commands[name] = h
	return nil
}

// SubscribeEvent 添加一个事件订阅.
// 去重按处理器值进行，函数类型（EventHandlerFunc、OnEvent 的包装）不可比较，
// 重复订阅同一个函数时需要用 WithHandlerName 指定名称才会去重。
func (b *InMemBus) SubscribeEvent(m Matcher, h EventHandler, opts ...SubscribeOption) error {
	if c, ok := m.(matcherChecker); ok {
		if err := c.check(b.registry); err != nil {
			return err
		}
	}

	s := &subscription{matcher: m, handler: h}
	for _, opt := range opts {
		opt(s)
	}

	if s.condition != "" {
		program, err := expr.Compile(s.condition)
		if err != nil {
			return xerrors.Config(xerrors.CodeInvalidCondition, "failed to compile subscription condition", ErrInvalidCondition).
				WithDetail("%v", err).
				WithContext("condition", s.condition)
		}
		s.program = program
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	s.seq = b.seq
	b.subs = append(b.subs, s)
	return nil
}

// CommandHandler 实现 Dispatcher.
func (b *InMemBus) CommandHandler(cmd Command) (CommandHandler, error) {
	name := cmd.CommandName()

	b.mu.RLock()
	h, ok := b.commands[name]
	b.mu.RUnlock()

	if !ok {
		return nil, MissingHandler(name)
	}
	return h, nil
}

// EventHandlers 实现 Dispatcher.
// 排序规则：优先级降序，匹配具体程度降序，注册顺序升序；重复订阅只保留第一个通过条件的。
func (b *InMemBus) EventHandlers(evt Event) []EventHandler {
	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.matcher.Match(evt) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, c *subscription) int {
		if n := cmp.Compare(c.priority, a.priority); n != 0 {
			return n
		}
		if n := cmp.Compare(c.matcher.Specificity(), a.matcher.Specificity()); n != 0 {
			return n
		}
		return cmp.Compare(a.seq, c.seq)
	})

	seen := make(map[any]struct{}, len(matched))
	handlers := make([]EventHandler, 0, len(matched))
	for _, s := range matched {
		key, keyed := s.key()
		if keyed {
			if _, dup := seen[key]; dup {
				continue
			}
		}
		// 条件不成立的订阅不占用去重键，同一处理器的其他订阅仍可命中
		if !b.accept(s, evt) {
			continue
		}
		if keyed {
			seen[key] = struct{}{}
		}
		if s.name != "" {
			handlers = append(handlers, namedHandler{EventHandler: s.handler, name: s.name})
			continue
		}
		handlers = append(handlers, s.handler)
	}
	return handlers
}

func (b *InMemBus) accept(s *subscription, evt Event) bool {
	if s.program == nil {
		return true
	}

	out, err := expr.Run(s.program, map[string]any{
		"event": evt,
		"name":  evt.EventName(),
	})
	if err != nil {
		b.logger.Warn("subscription condition evaluation failed, handler skipped",
			"event", evt.EventName(), "matcher", s.matcher.String(), "condition", s.condition, "error", err)
		return false
	}

	passed, ok := out.(bool)
	return ok && passed
}

// Clone 复制当前的命令表与订阅列表，之后两者互不影响.
func (b *InMemBus) Clone() *InMemBus {
	b.mu.RLock()
	defer b.mu.RUnlock()

	clone := &InMemBus{
		registry: b.registry,
		commands: make(map[string]CommandHandler, len(b.commands)),
		subs:     slices.Clone(b.subs),
		seq:      b.seq,
		logger:   b.logger,
	}
	for name, h := range b.commands {
		clone.commands[name] = h
	}
	return clone
}

// OnCommand 注册命令类型 C 并订阅类型安全的处理函数.
func OnCommand[C Command](b *InMemBus, fn func(ctx context.Context, cmd C, uow UnitOfWork) (any, error)) error {
	name, err := RegisterCommand[C](b.registry)
	if err != nil {
		return err
	}
	return b.SubscribeCommand(name, CommandHandlerFunc(func(ctx context.Context, cmd Command, uow UnitOfWork) (any, error) {
		typed, ok := convert[C](cmd)
		if !ok {
			return nil, InvalidMessage(name, "unexpected command type")
		}
		return fn(ctx, typed, uow)
	}))
}

// OnEvent 订阅类型安全的事件处理函数.
// E 为具体类型时会先注册该事件；E 为接口时订阅所有实现它的事件。
// 每次调用都生成新的包装函数，同一个 fn 订阅多次时用 WithHandlerName 去重。
func OnEvent[E Event](b *InMemBus, fn func(ctx context.Context, evt E, uow UnitOfWork) error, opts ...SubscribeOption) error {
	if reflect.TypeFor[E]().Kind() != reflect.Interface {
		if _, err := RegisterEvent[E](b.registry); err != nil {
			return err
		}
	}
	return b.SubscribeEvent(MatchType[E](), EventHandlerFunc(func(ctx context.Context, evt Event, uow UnitOfWork) error {
		typed, ok := convert[E](evt)
		if !ok {
			return InvalidMessage(evt.EventName(), "unexpected event type")
		}
		return fn(ctx, typed, uow)
	}), opts...)
}
