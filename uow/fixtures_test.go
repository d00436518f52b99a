package uow

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/cqrs/cqrstest"
	"github.com/wyfcoding/cqbus/xerrors"
)

var errBoom = errors.New("boom")

type userCreated struct {
	ID string
}

func (userCreated) EventName() string { return "user.created" }

type userDeleted struct {
	ID string
}

func (userDeleted) EventName() string { return "user.deleted" }

// auditLogged 在回滚后依然需要送达.
type auditLogged struct {
	Msg string
}

func (auditLogged) EventName() string { return "audit.logged" }
func (auditLogged) Persistent() bool  { return true }

type userTagged struct {
	ID   string
	Tags []string
}

func (userTagged) EventName() string { return "user.tagged" }

type mailQueued struct {
	MessageID string
	Attempt   int
}

func (mailQueued) EventName() string  { return "mail.queued" }
func (m mailQueued) DedupKey() string { return m.MessageID }

type unregistered struct{}

func (unregistered) EventName() string { return "not.registered" }

type createUser struct {
	ID string
}

func (createUser) CommandName() string { return "user.create" }

type deleteUser struct {
	ID string
}

func (deleteUser) CommandName() string { return "user.delete" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T) *cqrs.Registry {
	t.Helper()
	reg := cqrs.NewRegistry()
	register := []func(*cqrs.Registry) (string, error){
		cqrs.RegisterEvent[userCreated],
		cqrs.RegisterEvent[userDeleted],
		cqrs.RegisterEvent[auditLogged],
		cqrs.RegisterEvent[userTagged],
		cqrs.RegisterEvent[mailQueued],
		cqrs.RegisterCommand[createUser],
		cqrs.RegisterCommand[deleteUser],
	}
	for _, fn := range register {
		if _, err := fn(reg); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

// newTestUnitOfWork 返回一个订阅了全部事件的替身.
func newTestUnitOfWork(t *testing.T, opts ...Option) (*UnitOfWork, *cqrs.InMemBus, *cqrstest.EventSpy) {
	t.Helper()
	bus := cqrs.NewInMemBus(newRegistry(t))
	spy := cqrstest.NewEventSpy(nil)
	if err := bus.SubscribeEvent(cqrs.MatchPattern("*"), spy); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	u := New(bus, append([]Option{WithLogger(discardLogger())}, opts...)...)
	return u, bus, spy
}

func expectNames(t *testing.T, spy *cqrstest.EventSpy, want ...string) {
	t.Helper()
	got := spy.Names()
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", got, want)
		}
	}
}

// mustPanic 执行 fn 并返回 panic 值中的 *xerrors.Error.
func mustPanic(t *testing.T, fn func()) (xe *xerrors.Error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		var ok bool
		if xe, ok = r.(*xerrors.Error); !ok {
			t.Fatalf("panic value %T, want *xerrors.Error", r)
		}
	}()
	fn()
	return nil
}
