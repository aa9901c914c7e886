package analyst

import "fmt"

// Reason names how a run terminated. A run ends with exactly one reason.
type Reason string

const (
	ReasonFinalAnswer     Reason = "final-answer"
	ReasonBudgetExhausted Reason = "iteration-budget-exhausted"
	ReasonQuota           Reason = "quota"
	ReasonTransport       Reason = "transport"
	ReasonMalformed       Reason = "malformed"
)

// BudgetExhaustedAnswer is the answer text of a run that ran out of iterations.
const BudgetExhaustedAnswer = "Error: Maximum iteration limit reached without final answer."

// Result is the outcome of one conversation run.
type Result struct {
	RunID        string
	Answer       string
	Reason       Reason
	State        State
	Iterations   int
	PlannerCalls int
	WorkerCalls  int
	Planner      []Message
	Worker       []Message
	Log          *RunLog
}

// OK reports whether the run produced a final answer.
func (r Result) OK() bool {
	return r.State == StateTerminatedOK
}

func failureReason(kind CompletionKind) Reason {
	switch kind {
	case CompletionQuota:
		return ReasonQuota
	case CompletionMalformed:
		return ReasonMalformed
	default:
		return ReasonTransport
	}
}

// failureAnswer phrases a fatal completion as the run's answer text.
func failureAnswer(c Completion) string {
	detail := c.Detail
	if detail == "" {
		detail = c.Raw
	}
	switch c.Kind {
	case CompletionQuota:
		return fmt.Sprintf("Error: Quota exceeded: %s", detail)
	case CompletionMalformed:
		return fmt.Sprintf("Error: Malformed provider response: %s", detail)
	default:
		return fmt.Sprintf("Error: Provider request failed: %s", detail)
	}
}
