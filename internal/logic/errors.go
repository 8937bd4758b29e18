package logic

import (
	"errors"
	"fmt"
)

// ErrEvaluation is the sentinel every EvaluationError matches with errors.Is.
var ErrEvaluation = errors.New("evaluation error")

// EvaluationError reports a malformed expression or an unbound name.
type EvaluationError struct {
	Expression string
	Reason     string
	Token      string
}

func (e *EvaluationError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("evaluate %q: %s: %q", e.Expression, e.Reason, e.Token)
	}
	return fmt.Sprintf("evaluate %q: %s", e.Expression, e.Reason)
}

// Is lets callers match any EvaluationError against ErrEvaluation.
func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

func newEvaluationError(expr, reason, token string) *EvaluationError {
	return &EvaluationError{Expression: expr, Reason: reason, Token: token}
}
