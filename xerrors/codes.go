package xerrors

// 业务错误码。前三位沿用 HTTP 语义，后三位区分具体原因。
const (
	CodeInvalidMessageName     = 500101 // 消息名不合法
	CodeDuplicatedMessageName  = 500102 // 消息名冲突
	CodeRegistrySealed         = 500103 // 注册表已冻结
	CodeDuplicatedHandler      = 500104 // 命令处理器重复注册
	CodeInvalidMessageType     = 500105 // 订阅了未注册或类型不符的消息
	CodeInvalidCondition       = 500106 // 订阅条件表达式无法编译
	CodeUnsupportedDriver      = 500107 // 不支持的数据库驱动
	CodeInvalidMessage         = 400101 // 传入的消息未注册或类型不符
	CodeMissingHandler         = 404101 // 命令没有处理器
	CodeNoTransaction          = 412101 // 没有进行中的事务
	CodeUnbalancedTransaction  = 500201 // 提交/回滚与开始不配对
	CodeTransactionClosed      = 500202 // 事务已关闭
	CodeTransactionHasChildren = 500203 // 仍有未关闭的子事务
)
