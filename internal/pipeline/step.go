package pipeline

import "context"

// Step 是 pipeline 的基本执行单元：自身无状态，
// 状态只存在于上下文或闭包持有的协作者中。
type Step interface {
	// Key 返回步骤的类型标识，用于执行日志。
	Key() string
	// Run 执行一次步骤。预期中的"无事可做"用 Stop/Continue 表达，
	// 只有协作者不可恢复的错误才返回 Fail。
	Run(ctx context.Context, tc TradingContext) StepResult
}

// StepFunc 以闭包形式实现 Step。
type StepFunc struct {
	StepKey string
	Fn      func(ctx context.Context, tc TradingContext) StepResult
}

func (s StepFunc) Key() string { return s.StepKey }

func (s StepFunc) Run(ctx context.Context, tc TradingContext) StepResult {
	return s.Fn(ctx, tc)
}
