package database

import (
	"fmt"

	"github.com/wyfcoding/cqbus/cqrs"
	"github.com/wyfcoding/cqbus/uow"

	"gorm.io/gorm"
)

// EntityEvents 定义了实体携带待发出事件的能力.
type EntityEvents interface {
	PendingEvents() []cqrs.Event
	ClearEvents()
}

// BaseEntity 是一个可嵌入的结构体.
type BaseEntity struct {
	events []cqrs.Event `gorm:"-" json:"-"`
}

// AddEvent 记录一个事件，实体保存成功后发出.
func (e *BaseEntity) AddEvent(evt cqrs.Event) {
	e.events = append(e.events, evt)
}

// PendingEvents 获取事件.
func (e *BaseEntity) PendingEvents() []cqrs.Event {
	return e.events
}

// ClearEvents 清空事件.
func (e *BaseEntity) ClearEvents() {
	e.events = nil
}

// EventPlugin GORM 插件，实体保存成功后把其中的事件发到 context 的当前工作单元。
// 事件进入当前工作单元事务的缓冲区，数据库回滚时随工作单元事务一起丢弃。
type EventPlugin struct{}

// Name 插件名称.
func (p *EventPlugin) Name() string {
	return "uow_event_plugin"
}

// Initialize 初始化插件.
func (p *EventPlugin) Initialize(db *gorm.DB) error {
	if err := db.Callback().Create().After("gorm:create").Register("uow_event:after_create", p.emitEvents); err != nil {
		return fmt.Errorf("failed to register event plugin on create: %w", err)
	}
	if err := db.Callback().Update().After("gorm:update").Register("uow_event:after_update", p.emitEvents); err != nil {
		return fmt.Errorf("failed to register event plugin on update: %w", err)
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("uow_event:after_delete", p.emitEvents); err != nil {
		return fmt.Errorf("failed to register event plugin on delete: %w", err)
	}

	return nil
}

func (p *EventPlugin) emitEvents(db *gorm.DB) {
	if db.Error != nil {
		return
	}

	entity, ok := db.Statement.Dest.(EntityEvents)
	if !ok {
		return
	}

	events := entity.PendingEvents()
	if len(events) == 0 {
		return
	}

	for _, evt := range events {
		if err := uow.EmitEvent(db.Statement.Context, evt); err != nil {
			_ = db.AddError(fmt.Errorf("failed to emit %s: %w", evt.EventName(), err))
			return
		}
	}

	entity.ClearEvents()
}
