package pipeline

// Outcome 是步骤的三态结果标签，决定 Runner 的控制流。
type Outcome int

const (
	// OutcomeContinue 采纳新上下文并执行下一步。
	OutcomeContinue Outcome = iota
	// OutcomeStop 正常短路（无事可做），不是错误。
	OutcomeStop
	// OutcomeFail 错误终止。
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeStop:
		return "stop"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// StepResult 是步骤执行的终态：Continue 携带更新后的上下文，
// Stop/Fail 仅携带说明信息。
type StepResult struct {
	Outcome Outcome
	Ctx     TradingContext
	Message string
}

// Continue 通过并传递新上下文。
func Continue(tc TradingContext, message string) StepResult {
	return StepResult{Outcome: OutcomeContinue, Ctx: tc, Message: message}
}

// Stop 优雅终止整条 pipeline。
func Stop(message string) StepResult {
	return StepResult{Outcome: OutcomeStop, Message: message}
}

// Fail 以错误终止整条 pipeline。
func Fail(message string) StepResult {
	return StepResult{Outcome: OutcomeFail, Message: message}
}
