package cqrs

import (
	"errors"
	"reflect"
	"slices"
	"testing"

	"github.com/wyfcoding/cqbus/xerrors"
)

type accountOpened struct{ ID string }

func (accountOpened) EventName() string { return "account.opened" }

type accountOpenedV2 struct{ ID string }

func (accountOpenedV2) EventName() string { return "account.opened" }

type openAccount struct{ ID string }

func (openAccount) CommandName() string { return "account.open" }

// 与事件同名的命令.
type accountOpenedCommand struct{}

func (accountOpenedCommand) CommandName() string { return "account.opened" }

type badlyNamed struct{}

func (badlyNamed) EventName() string { return "1 bad name" }

type ptrEvent struct{ ID string }

func (*ptrEvent) EventName() string { return "ptr.event" }

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	for range 2 {
		name, err := RegisterEvent[accountOpened](r)
		if err != nil {
			t.Fatalf("register: %v", err)
		}
		if name != "account.opened" {
			t.Errorf("name = %q", name)
		}
	}
	// 指针形式视为同一类型
	if _, err := RegisterEvent[*accountOpened](r); err != nil {
		t.Errorf("pointer registration: %v", err)
	}
}

func TestRegisterConflicts(t *testing.T) {
	r := NewRegistry()
	if _, err := RegisterEvent[accountOpened](r); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		register func() error
	}{
		{"same name different type", func() error { _, err := RegisterEvent[accountOpenedV2](r); return err }},
		{"same name different kind", func() error { _, err := RegisterCommand[accountOpenedCommand](r); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.register()
			if !errors.Is(err, ErrDuplicatedMessageName) {
				t.Fatalf("err = %v, want ErrDuplicatedMessageName", err)
			}
			if !xerrors.IsType(err, xerrors.ErrConfig) {
				t.Errorf("err type is not Config: %v", err)
			}
		})
	}
}

func TestRegisterInvalidName(t *testing.T) {
	r := NewRegistry()
	if _, err := RegisterEvent[badlyNamed](r); !errors.Is(err, ErrInvalidMessageName) {
		t.Errorf("err = %v, want ErrInvalidMessageName", err)
	}
	if err := r.Register(Descriptor{Name: "", Kind: KindEvent}); !errors.Is(err, ErrInvalidMessageName) {
		t.Errorf("empty name: err = %v", err)
	}
	if err := r.Register(Descriptor{Name: "ok.name", Kind: Kind(9)}); !errors.Is(err, ErrInvalidMessageName) {
		t.Errorf("bad kind: err = %v", err)
	}
}

func TestSeal(t *testing.T) {
	r := NewRegistry()
	if _, err := RegisterEvent[accountOpened](r); err != nil {
		t.Fatal(err)
	}
	r.Seal()
	if !r.Sealed() {
		t.Fatal("registry not sealed")
	}
	if _, err := RegisterEvent[accountOpened](r); err != nil {
		t.Errorf("re-registering a known type after seal: %v", err)
	}
	if _, err := RegisterCommand[openAccount](r); !errors.Is(err, ErrRegistrySealed) {
		t.Errorf("err = %v, want ErrRegistrySealed", err)
	}
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	_, _ = RegisterCommand[openAccount](r)
	_, _ = RegisterEvent[accountOpened](r)
	_, _ = RegisterEvent[*ptrEvent](r)

	if got := r.Names(KindEvent); !slices.Equal(got, []string{"account.opened", "ptr.event"}) {
		t.Errorf("events = %v", got)
	}
	if got := r.Names(KindCommand); !slices.Equal(got, []string{"account.open"}) {
		t.Errorf("commands = %v", got)
	}
	d, ok := r.Lookup("ptr.event")
	if !ok || d.Type != reflect.TypeFor[ptrEvent]() {
		t.Errorf("lookup stored %v", d.Type)
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	_, _ = RegisterEvent[accountOpened](r)
	_, _ = RegisterCommand[openAccount](r)
	_, _ = RegisterEvent[*ptrEvent](r)
	// 只登记名称，不限制类型
	_ = r.Register(Descriptor{Name: "loose.event", Kind: KindEvent})

	var nilPtr *ptrEvent
	eventCases := []struct {
		name  string
		evt   Event
		valid bool
	}{
		{"value", accountOpened{ID: "1"}, true},
		{"pointer to value type", &accountOpened{ID: "1"}, true},
		{"pointer receiver", &ptrEvent{ID: "1"}, true},
		{"wrong type for name", accountOpenedV2{}, false},
		{"unregistered", badlyNamed{}, false},
		{"nil", nil, false},
		{"nil pointer", nilPtr, false},
		{"untyped descriptor", looseEvent{}, true},
	}
	for _, tt := range eventCases {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateEvent(tt.evt)
			if tt.valid && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.valid {
				if !errors.Is(err, ErrInvalidMessage) {
					t.Fatalf("err = %v, want ErrInvalidMessage", err)
				}
				if xe, _ := xerrors.FromError(err); xe.Code != xerrors.CodeInvalidMessage || xe.Type != xerrors.ErrInvalidArg {
					t.Errorf("err = %+v", xe)
				}
			}
		})
	}

	if err := r.ValidateCommand(openAccount{}); err != nil {
		t.Errorf("command: %v", err)
	}
	if err := r.ValidateCommand(accountOpenedCommand{}); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("event name used as command: %v", err)
	}
	if err := r.ValidateCommand(nil); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("nil command: %v", err)
	}
}

type looseEvent struct{}

func (looseEvent) EventName() string { return "loose.event" }

func TestConvert(t *testing.T) {
	if v, ok := convert[accountOpened](&accountOpened{ID: "p"}); !ok || v.ID != "p" {
		t.Errorf("pointer to value: %v %v", v, ok)
	}
	if v, ok := convert[*accountOpened](accountOpened{ID: "v"}); !ok || v.ID != "v" {
		t.Errorf("value to pointer: %v %v", v, ok)
	}
	if _, ok := convert[accountOpened](accountOpenedV2{}); ok {
		t.Error("converted unrelated type")
	}
	var nilPtr *accountOpened
	if _, ok := convert[accountOpened](nilPtr); ok {
		t.Error("converted nil pointer")
	}
}

func TestZeroOfPointer(t *testing.T) {
	if zeroOf[*ptrEvent]() == nil {
		t.Fatal("zeroOf returned nil pointer")
	}
	if name := zeroOf[*ptrEvent]().EventName(); name != "ptr.event" {
		t.Errorf("name = %q", name)
	}
}
