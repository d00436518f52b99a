package cqrs

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/wyfcoding/cqbus/xerrors"
)

// Kind 消息种类.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Descriptor 描述一个已注册的消息类型.
// Type 为空时只按名称与种类校验，不限制具体类型；非空时保存去掉一层指针后的类型。
type Descriptor struct {
	Type reflect.Type `validate:"-"`
	Name string       `validate:"required,message_name"`
	Kind Kind         `validate:"oneof=1 2"`
}

var messageNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\-:/]*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("message_name", func(fl validator.FieldLevel) bool {
		return messageNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// Registry 进程级的消息名称注册表.
// 启动阶段集中注册，Seal 之后视为只读。
type Registry struct {
	byName map[string]Descriptor
	mu     sync.RWMutex
	sealed bool
}

// NewRegistry 创建一个空注册表.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Descriptor)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry 返回进程级默认注册表.
func DefaultRegistry() *Registry {
	return defaultRegistry
}

// Register 注册消息描述。
// 同名同类型的重复注册是幂等的；同名不同类型或不同种类返回 ErrDuplicatedMessageName。
func (r *Registry) Register(d Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return configError(xerrors.CodeInvalidMessageName, "invalid message name", d.Name, ErrInvalidMessageName).
			WithDetail("%v", err)
	}
	d.Type = baseType(d.Type)

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[d.Name]; ok {
		if existing.Kind == d.Kind && existing.Type == d.Type {
			return nil
		}
		return configError(xerrors.CodeDuplicatedMessageName, "message name already registered", d.Name, ErrDuplicatedMessageName).
			WithDetail("registered as %s %v, got %s %v", existing.Kind, existing.Type, d.Kind, d.Type)
	}
	if r.sealed {
		return configError(xerrors.CodeRegistrySealed, "message registry sealed", d.Name, ErrRegistrySealed)
	}

	r.byName[d.Name] = d
	return nil
}

// RegisterCommand 以 C 的 CommandName 注册命令类型.
func RegisterCommand[C Command](r *Registry) (string, error) {
	name := zeroOf[C]().CommandName()
	return name, r.Register(Descriptor{Name: name, Kind: KindCommand, Type: reflect.TypeFor[C]()})
}

// RegisterEvent 以 E 的 EventName 注册事件类型.
func RegisterEvent[E Event](r *Registry) (string, error) {
	name := zeroOf[E]().EventName()
	return name, r.Register(Descriptor{Name: name, Kind: KindEvent, Type: reflect.TypeFor[E]()})
}

// Lookup 按名称查找描述.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byName[name]
	return d, ok
}

// Names 返回指定种类的全部消息名，按字典序排列.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name, d := range r.byName {
		if d.Kind == kind {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Seal 冻结注册表.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed 报告注册表是否已冻结.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// ValidateCommand 校验 cmd 是已注册的命令.
func (r *Registry) ValidateCommand(cmd Command) error {
	if isNil(cmd) {
		return InvalidMessage("", "nil command")
	}
	return r.check(cmd.CommandName(), KindCommand, reflect.TypeOf(cmd))
}

// ValidateEvent 校验 evt 是已注册的事件.
func (r *Registry) ValidateEvent(evt Event) error {
	if isNil(evt) {
		return InvalidMessage("", "nil event")
	}
	return r.check(evt.EventName(), KindEvent, reflect.TypeOf(evt))
}

func (r *Registry) check(name string, kind Kind, t reflect.Type) error {
	d, ok := r.Lookup(name)
	if !ok {
		return InvalidMessage(name, "message name not registered")
	}
	if d.Kind != kind {
		return InvalidMessage(name, fmt.Sprintf("registered as %s, used as %s", d.Kind, kind))
	}
	if d.Type != nil && d.Type != baseType(t) {
		return InvalidMessage(name, fmt.Sprintf("registered type %v, got %v", d.Type, t))
	}
	return nil
}

func baseType(t reflect.Type) reflect.Type {
	if t != nil && t.Kind() == reflect.Pointer {
		return t.Elem()
	}
	return t
}

func isNil(m any) bool {
	if m == nil {
		return true
	}
	v := reflect.ValueOf(m)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

// zeroOf 返回 T 的零值；T 为指针时返回指向零值的指针，保证可以安全调用方法.
func zeroOf[T any]() T {
	var zero T
	t := reflect.TypeFor[T]()
	if t.Kind() == reflect.Pointer {
		return reflect.New(t.Elem()).Interface().(T)
	}
	return zero
}

// convert 将消息转换为处理器期望的类型，允许值与指针之间互转.
func convert[T any](m any) (T, bool) {
	if v, ok := m.(T); ok {
		return v, true
	}

	var zero T
	want := reflect.TypeFor[T]()
	v := reflect.ValueOf(m)
	switch {
	case want.Kind() == reflect.Pointer && v.Type() == want.Elem():
		p := reflect.New(want.Elem())
		p.Elem().Set(v)
		return p.Interface().(T), true
	case v.Kind() == reflect.Pointer && !v.IsNil() && v.Type().Elem() == want:
		return v.Elem().Interface().(T), true
	default:
		return zero, false
	}
}
