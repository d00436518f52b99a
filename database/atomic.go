package database

import (
	"context"
	"database/sql"

	"github.com/wyfcoding/cqbus/contextx"
	"github.com/wyfcoding/cqbus/uow"

	"gorm.io/gorm"
)

// Transactor 可以开启数据库事务的对象，*gorm.DB 与 *DB 都满足.
type Transactor interface {
	Transaction(fc func(tx *gorm.DB) error, opts ...*sql.TxOptions) error
}

// Atomic 先开启工作单元事务，再在其中开启数据库事务执行 fn.
// fn 成功时数据库先提交，外层工作单元关闭时再分发事件；任一环节失败则两者一起回滚。
// ctx 中已有数据库事务时，在其上开启保存点，工作单元事务随之嵌套。
// fn 应通过 tx.WithContext(ctx) 执行查询，使事件插件能找到当前工作单元。
func Atomic(ctx context.Context, u *uow.UnitOfWork, db Transactor, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return u.Do(ctx, func(ctx context.Context) error {
		if outer, ok := contextx.GetTx(ctx).(*gorm.DB); ok && outer != nil {
			db = outer
		}
		return db.Transaction(func(tx *gorm.DB) error {
			return fn(contextx.WithTx(ctx, tx), tx)
		})
	})
}

// Tx 返回 ctx 中的数据库事务，没有时返回 db.WithContext(ctx).
func Tx(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx, ok := contextx.GetTx(ctx).(*gorm.DB); ok && tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
