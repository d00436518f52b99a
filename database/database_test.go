package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"github.com/wyfcoding/cqbus/config"
	"github.com/wyfcoding/cqbus/contextx"
	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/cqrs/cqrstest"
	"github.com/wyfcoding/cqbus/uow"
	"github.com/wyfcoding/cqbus/xerrors"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type noteSaved struct{ ID uint }

func (noteSaved) EventName() string { return "note.saved" }

type note struct {
	BaseEntity
	ID   uint
	Text string
}

// fakeTransactor 记录数据库事务的开始与结束顺序.
type fakeTransactor struct {
	log *[]string
}

func (f fakeTransactor) Transaction(fc func(tx *gorm.DB) error, _ ...*sql.TxOptions) error {
	*f.log = append(*f.log, "db.begin")
	if err := fc(&gorm.DB{}); err != nil {
		*f.log = append(*f.log, "db.rollback")
		return err
	}
	*f.log = append(*f.log, "db.commit")
	return nil
}

func newUnitOfWork(t *testing.T, log *[]string) *uow.UnitOfWork {
	t.Helper()
	reg := cqrs.NewRegistry()
	if _, err := cqrs.RegisterEvent[noteSaved](reg); err != nil {
		t.Fatal(err)
	}
	bus := cqrs.NewInMemBus(reg)
	spy := cqrstest.NewEventSpy(func(context.Context, cqrs.Event, cqrs.UnitOfWork) error {
		*log = append(*log, "dispatch")
		return nil
	})
	if err := bus.SubscribeEvent(cqrs.MatchName("note.saved"), spy); err != nil {
		t.Fatal(err)
	}
	return uow.New(bus, uow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func TestAtomicDispatchesAfterCommit(t *testing.T) {
	var log []string
	u := newUnitOfWork(t, &log)

	err := Atomic(context.Background(), u, fakeTransactor{log: &log}, func(ctx context.Context, tx *gorm.DB) error {
		if got, _ := contextx.GetTx(ctx).(*gorm.DB); got != tx {
			t.Error("transaction not stored in context")
		}
		return u.EmitEvent(ctx, noteSaved{ID: 1})
	})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"db.begin", "db.commit", "dispatch"}
	if !slices.Equal(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}
}

func TestAtomicRollsBackBoth(t *testing.T) {
	var log []string
	u := newUnitOfWork(t, &log)
	errWrite := errors.New("write failed")

	err := Atomic(context.Background(), u, fakeTransactor{log: &log}, func(ctx context.Context, tx *gorm.DB) error {
		_ = u.EmitEvent(ctx, noteSaved{ID: 1})
		return errWrite
	})
	if !errors.Is(err, errWrite) {
		t.Fatalf("err = %v", err)
	}

	want := []string{"db.begin", "db.rollback"}
	if !slices.Equal(log, want) {
		t.Errorf("log = %v, want %v", log, want)
	}
}

func TestNewDBUnsupportedDriver(t *testing.T) {
	_, err := NewDB(config.DatabaseConfig{Driver: "oracle"}, nil)
	xe, ok := xerrors.FromError(err)
	if !ok || xe.Type != xerrors.ErrConfig || xe.Code != xerrors.CodeUnsupportedDriver {
		t.Fatalf("err = %v", err)
	}
}

func TestBaseEntity(t *testing.T) {
	n := &note{}
	n.AddEvent(noteSaved{ID: 1})
	n.AddEvent(noteSaved{ID: 2})

	var entity EntityEvents = n
	if len(entity.PendingEvents()) != 2 {
		t.Fatalf("pending = %v", entity.PendingEvents())
	}
	entity.ClearEvents()
	if len(entity.PendingEvents()) != 0 {
		t.Errorf("events not cleared")
	}
}

// dryRunDB 只生成 SQL 不执行，也不会建立连接.
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=test password=test dbname=test port=5432 sslmode=disable",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Use(&EventPlugin{}); err != nil {
		t.Fatalf("use plugin: %v", err)
	}
	return db
}

func TestEventPlugin(t *testing.T) {
	db := dryRunDB(t)

	t.Run("emits into the current transaction", func(t *testing.T) {
		var log []string
		u := newUnitOfWork(t, &log)

		n := &note{ID: 1, Text: "hello"}
		n.AddEvent(noteSaved{ID: 1})
		err := u.Do(context.Background(), func(ctx context.Context) error {
			if err := db.WithContext(ctx).Create(n).Error; err != nil {
				return err
			}
			if len(log) != 0 {
				t.Error("event dispatched before the transaction closed")
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(log, []string{"dispatch"}) {
			t.Errorf("log = %v", log)
		}
		if len(n.PendingEvents()) != 0 {
			t.Error("entity events not cleared after emit")
		}
	})

	t.Run("discarded on rollback", func(t *testing.T) {
		var log []string
		u := newUnitOfWork(t, &log)
		errAbort := errors.New("abort")

		n := &note{ID: 2}
		n.AddEvent(noteSaved{ID: 2})
		_ = u.Do(context.Background(), func(ctx context.Context) error {
			if err := db.WithContext(ctx).Create(n).Error; err != nil {
				return err
			}
			return errAbort
		})
		if len(log) != 0 {
			t.Errorf("log = %v", log)
		}
	})

	t.Run("fails without a unit of work", func(t *testing.T) {
		n := &note{ID: 3}
		n.AddEvent(noteSaved{ID: 3})
		err := db.WithContext(context.Background()).Create(n).Error
		if !errors.Is(err, uow.ErrNoUnitOfWork) {
			t.Errorf("err = %v, want ErrNoUnitOfWork", err)
		}
		if len(n.PendingEvents()) != 1 {
			t.Error("events dropped after failed emit")
		}
	})
}
