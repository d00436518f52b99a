package uow

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/xerrors"
)

// Transaction 嵌套链上的一个节点，持有自己的事件缓冲区与父节点引用.
// 只能通过 UnitOfWork 的 Begin/Commit/Rollback 创建和关闭。
type Transaction struct {
	uow      *UnitOfWork
	parent   *Transaction
	events   Collector
	id       string
	depth    int
	children int
	closed   bool
	mu       sync.Mutex
}

func newTransaction(u *UnitOfWork, parent *Transaction) *Transaction {
	tx := &Transaction{
		uow:    u,
		parent: parent,
		events: u.newCollector(),
		id:     uuid.NewString(),
		depth:  1,
	}
	if parent != nil {
		parent.mu.Lock()
		parent.children++
		parent.mu.Unlock()
		tx.depth = parent.depth + 1
	}
	return tx
}

// ID 事务唯一标识，用于日志关联.
func (t *Transaction) ID() string { return t.id }

// Depth 根事务为 1.
func (t *Transaction) Depth() int { return t.depth }

// Root 报告是否为最外层事务.
func (t *Transaction) Root() bool { return t.parent == nil }

// Len 当前缓冲的事件数.
func (t *Transaction) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.events.Len()
}

func (t *Transaction) collectEvent(evt cqrs.Event) {
	t.mu.Lock()
	t.events.Push(evt)
	t.mu.Unlock()
}

func (t *Transaction) collectEvents(events Collector) {
	t.mu.Lock()
	t.events.Extend(events)
	t.mu.Unlock()
}

// close 标记关闭并返回缓冲区，违反配对约定时 panic.
func (t *Transaction) close() Collector {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		panic(xerrors.Programming(xerrors.CodeTransactionClosed, "transaction already closed", ErrUnbalancedTransaction).
			WithContext("transaction", t.id))
	}
	if t.children > 0 {
		panic(xerrors.Programming(xerrors.CodeTransactionHasChildren, "transaction still has open nested transactions", ErrUnbalancedTransaction).
			WithContext("transaction", t.id).
			WithContext("children", t.children))
	}
	t.closed = true
	return t.events
}

func (t *Transaction) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// commit 嵌套事务把事件并入父事务；根事务交给工作单元分发.
func (t *Transaction) commit(ctx context.Context) {
	events := t.close()
	if t.parent != nil {
		t.parent.collectEvents(events)
		t.parent.release()
		return
	}
	t.uow.handleEvents(ctx, events.Events())
}

// rollback 丢弃非持久事件；剩余的持久事件按提交的方式继续传递.
func (t *Transaction) rollback(ctx context.Context) {
	events := t.close()
	events.Clear()
	if t.parent != nil {
		t.parent.collectEvents(events)
		t.parent.release()
		return
	}
	if events.Len() > 0 {
		t.uow.handleEvents(ctx, events.Events())
	}
}

func (t *Transaction) release() {
	t.mu.Lock()
	t.children--
	t.mu.Unlock()
}
