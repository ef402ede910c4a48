package uplcgate

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingExport     = errors.New("engine module is missing a required export")
	ErrEmptyResult       = errors.New("empty result from WASM evaluation")
	ErrMemory            = errors.New("engine memory access failed")
	ErrMalformedTx       = errors.New("malformed transaction")
	ErrInvalidSlotConfig = errors.New("invalid slot config")
	ErrRedeemerMismatch  = errors.New("engine outcomes do not match transaction redeemers")
	ErrApplyParams       = errors.New("failed to apply parameters")
)

// EvaluationError is the whole-transaction failure reported by the engine.
type EvaluationError struct {
	EvalError EvalError
}

func (e *EvaluationError) Error() string {
	msg := fmt.Sprintf("Evaluation failed: %s", e.EvalError.ErrorType)
	if len(e.EvalError.DebugTrace) > 0 {
		msg += ": " + strings.Join(e.EvalError.DebugTrace, "; ")
	}
	return msg
}

// BudgetExhausted reports whether the engine stopped because the budget ran out.
func (e *EvaluationError) BudgetExhausted() bool {
	return e.EvalError.ErrorType == ErrorTypeOutOfBudget
}

// MarshalError reports a host-supplied handle with the wrong shape. It is a
// programming error on the caller's side and never the outcome of evaluation.
type MarshalError struct {
	Arg    int
	Reason string
}

func (e *MarshalError) Error() string {
	if e.Arg < 0 {
		return fmt.Sprintf("bad argument: %s", e.Reason)
	}
	return fmt.Sprintf("bad argument %d: %s", e.Arg, e.Reason)
}

func wrapMalformedTx(err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedTx, err)
}

func wrapRedeemerMismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRedeemerMismatch, fmt.Sprintf(format, args...))
}
