package cqrs

import (
	"path"
	"reflect"

	"github.com/wyfcoding/cqbus/xerrors"
)

// 匹配器的具体程度，越大越先执行.
const (
	SpecificityPattern   = 1
	SpecificityInterface = 2
	SpecificityExact     = 3
)

// Matcher 决定一个订阅是否接收某个事件.
type Matcher interface {
	Match(evt Event) bool
	// Specificity 用于同优先级订阅者之间的排序.
	Specificity() int
	String() string
}

// matcherChecker 由需要在订阅时校验自身的匹配器实现.
type matcherChecker interface {
	check(r *Registry) error
}

type nameMatcher string

// MatchName 精确匹配事件名.
func MatchName(name string) Matcher {
	return nameMatcher(name)
}

func (m nameMatcher) Match(evt Event) bool { return evt.EventName() == string(m) }
func (m nameMatcher) Specificity() int     { return SpecificityExact }
func (m nameMatcher) String() string       { return "name:" + string(m) }

func (m nameMatcher) check(r *Registry) error {
	d, ok := r.Lookup(string(m))
	if !ok || d.Kind != KindEvent {
		return configError(xerrors.CodeInvalidMessageType, "subscribed name is not a registered event", string(m), ErrInvalidMessageType)
	}
	return nil
}

type typeMatcher struct {
	t reflect.Type
}

// MatchType 按 Go 类型匹配.
// T 为具体类型时精确匹配（值与指针视为同一类型）；T 为接口时匹配所有实现它的事件。
func MatchType[T any]() Matcher {
	return typeMatcher{t: reflect.TypeFor[T]()}
}

func (m typeMatcher) Match(evt Event) bool {
	et := reflect.TypeOf(evt)
	if m.t.Kind() == reflect.Interface {
		return et.Implements(m.t)
	}
	return baseType(et) == baseType(m.t)
}

func (m typeMatcher) Specificity() int {
	if m.t.Kind() == reflect.Interface {
		return SpecificityInterface
	}
	return SpecificityExact
}

func (m typeMatcher) String() string { return "type:" + m.t.String() }

type patternMatcher string

// MatchPattern 按 path.Match 语法匹配事件名，"*" 匹配全部事件.
func MatchPattern(pattern string) Matcher {
	return patternMatcher(pattern)
}

func (m patternMatcher) Match(evt Event) bool {
	ok, err := path.Match(string(m), evt.EventName())
	return err == nil && ok
}

func (m patternMatcher) Specificity() int { return SpecificityPattern }
func (m patternMatcher) String() string   { return "pattern:" + string(m) }

func (m patternMatcher) check(*Registry) error {
	if _, err := path.Match(string(m), ""); err != nil {
		return xerrors.Config(xerrors.CodeInvalidCondition, "invalid event name pattern", ErrInvalidCondition).
			WithDetail("%v", err).
			WithContext("pattern", string(m))
	}
	return nil
}
