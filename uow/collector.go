package uow

import (
	"iter"
	"reflect"
	"slices"

	"github.com/davecgh/go-spew/spew"
	"github.com/wyfcoding/cqbus/cqrs"
)

// Collector 事务内的有序事件缓冲区，只归属一个事务.
type Collector interface {
	// Push 追加一个事件.
	Push(evt cqrs.Event)
	// Extend 按顺序逐个 Push 另一个缓冲区的全部事件.
	Extend(other Collector)
	// Clear 在回滚时调用，具体保留策略由实现决定.
	Clear()
	Len() int
	// Events 返回当前事件的快照.
	Events() []cqrs.Event
	// All 按插入顺序遍历，可重复遍历.
	All() iter.Seq[cqrs.Event]
}

// CollectorFactory 为每个新事务创建缓冲区.
type CollectorFactory func() Collector

// Fifo 保留每一次 Push，包括重复事件；Clear 清空全部事件.
type Fifo struct {
	events []cqrs.Event
}

// NewFifo 创建普通先进先出缓冲区.
func NewFifo() Collector {
	return &Fifo{}
}

func (c *Fifo) Push(evt cqrs.Event) {
	c.events = append(c.events, evt)
}

func (c *Fifo) Extend(other Collector) {
	for evt := range other.All() {
		c.Push(evt)
	}
}

func (c *Fifo) Clear() {
	c.events = nil
}

func (c *Fifo) Len() int { return len(c.events) }

func (c *Fifo) Events() []cqrs.Event { return slices.Clone(c.events) }

func (c *Fifo) All() iter.Seq[cqrs.Event] { return slices.Values(c.events) }

// DedupeFifo 相等的事件只保留第一次出现的位置.
// 相等指事件名相同且字段值相同，事件可以实现 cqrs.DedupKeyer 自定义比较。
// Clear 会保留持久事件。
type DedupeFifo struct {
	seen   map[dedupKey]struct{}
	events []cqrs.Event
}

// NewDedupeFifo 创建去重缓冲区.
func NewDedupeFifo() Collector {
	return &DedupeFifo{seen: make(map[dedupKey]struct{})}
}

func (c *DedupeFifo) Push(evt cqrs.Event) {
	key := keyOf(evt)
	if _, ok := c.seen[key]; ok {
		return
	}
	c.seen[key] = struct{}{}
	c.events = append(c.events, evt)
}

func (c *DedupeFifo) Extend(other Collector) {
	for evt := range other.All() {
		c.Push(evt)
	}
}

func (c *DedupeFifo) Clear() {
	kept := c.events[:0]
	clear(c.seen)
	for _, evt := range c.events {
		if cqrs.IsPersistent(evt) {
			kept = append(kept, evt)
			c.seen[keyOf(evt)] = struct{}{}
		}
	}
	clear(c.events[len(kept):])
	c.events = kept
}

func (c *DedupeFifo) Len() int { return len(c.events) }

func (c *DedupeFifo) Events() []cqrs.Event { return slices.Clone(c.events) }

func (c *DedupeFifo) All() iter.Seq[cqrs.Event] { return slices.Values(c.events) }

type dedupKey struct {
	value any
	name  string
}

type (
	customKey string
	dumpKey   string
)

// dumper 输出全部字段（含未导出字段与 json:"-" 字段），不调用 String/Error 方法，
// 指针只展开内容不打印地址，map 按键排序，保证相同内容得到相同结果。
var dumper = spew.ConfigState{
	Indent:                  " ",
	DisableMethods:          true,
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
	SpewKeys:                true,
}

// keyOf 计算事件的去重键.
// 优先使用 DedupKey；其次使用解引用后的可比较值；都不满足时使用全部字段的深度转储。
func keyOf(evt cqrs.Event) dedupKey {
	name := evt.EventName()
	if k, ok := evt.(cqrs.DedupKeyer); ok {
		return dedupKey{name: name, value: customKey(k.DedupKey())}
	}

	v := reflect.ValueOf(evt)
	for v.Kind() == reflect.Pointer && !v.IsNil() {
		v = v.Elem()
	}
	if v.Comparable() {
		return dedupKey{name: name, value: v.Interface()}
	}
	return dedupKey{name: name, value: dumpKey(dumper.Sdump(v.Interface()))}
}
