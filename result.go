package uplcgate

import "errors"

// Result is the two-armed value every gateway operation returns. Check OK
// before looking at Value or Reason.
type Result[T any] struct {
	OK     bool
	Value  T
	Reason string
}

// Success wraps a payload in the success arm.
func Success[T any](v T) Result[T] {
	return Result[T]{OK: true, Value: v}
}

// Failure returns the failure arm carrying reason.
func Failure[T any](reason string) Result[T] {
	return Result[T]{Reason: reason}
}

// Unwrap converts the result into Go's value/error form.
func (r Result[T]) Unwrap() (T, error) {
	if !r.OK {
		var zero T
		return zero, errors.New(r.Reason)
	}
	return r.Value, nil
}

// ResponseVersion is bumped whenever the shape of EvalResponse changes.
const ResponseVersion = 1

// Mode says which evaluation entry point produced a response.
type Mode string

const (
	ModePhaseTwo     Mode = "phase_two"
	ModeWithPhaseOne Mode = "with_phase_one"
)

// OutcomeKind discriminates the payload of an Outcome.
type OutcomeKind string

const (
	// OutcomeDiagnostic carries the redeemer payload and its log lines.
	OutcomeDiagnostic OutcomeKind = "diagnostic"
	// OutcomeRaw carries the engine's raw output bytes.
	OutcomeRaw OutcomeKind = "raw"
	// OutcomeFailure carries the error the redeemer's script failed with.
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the result of evaluating one redeemer. Which fields are set
// depends on Kind.
type Outcome struct {
	Kind    OutcomeKind
	Pointer RedeemerPointer
	Cost    Budget

	// OutcomeDiagnostic
	Redeemer []byte
	Logs     []string

	// OutcomeRaw
	Raw []byte

	// OutcomeFailure
	Error *EvalError
}

// BudgetExhausted reports whether a failure outcome ran out of budget.
func (o Outcome) BudgetExhausted() bool {
	return o.Kind == OutcomeFailure && o.Error != nil && o.Error.ErrorType == ErrorTypeOutOfBudget
}

// EvalResponse is the success payload of both evaluation operations.
// Outcomes follow the transaction's redeemer order.
type EvalResponse struct {
	Version  uint
	Mode     Mode
	Outcomes []Outcome
}
