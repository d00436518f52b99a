package uow

import "errors"

var (
	// ErrNoTransaction 非自动提交模式下在事务之外发出事件.
	ErrNoTransaction = errors.New("no transaction in progress and autocommit is off")
	// ErrUnbalancedTransaction 提交或回滚与开始不配对，作为 panic 值的原因出现.
	ErrUnbalancedTransaction = errors.New("unbalanced transaction")
	// ErrNoUnitOfWork context 中没有工作单元.
	ErrNoUnitOfWork = errors.New("no unit of work in context")
)
