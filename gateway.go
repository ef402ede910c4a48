package uplcgate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Operation names, as used in logs, spans and metrics.
const (
	OpApplyParams      = "apply_params"
	OpEvalPhaseTwo     = "eval_phase_two"
	OpEvalWithPhaseOne = "eval_with_phase_one"
)

const tracerName = "github.com/mgpai22/uplcgate"

// Gateway is the call surface offered to the host. Every method copies its
// inputs before use, keeps no state between calls, and returns a Result
// instead of an error. A Gateway is safe for concurrent use as long as its
// Engine is.
//
// Evaluation can run for a long time. Callers that multiplex latency
// sensitive work should run gateway calls on goroutines of their own; the
// context is used for tracing only and does not interrupt evaluation, so
// the budget is the only bound on a call.
type Gateway struct {
	engine  Engine
	logger  *zap.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger engine errors are recorded on before they are
// flattened into failure text.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithMetrics enables call metrics.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithTracerProvider sets the provider spans are created from (default: the
// global provider).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) {
		g.tracer = tp.Tracer(tracerName)
	}
}

// New returns a Gateway forwarding to engine.
func New(engine Engine, opts ...Option) *Gateway {
	g := &Gateway{
		engine: engine,
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ApplyParams applies a CBOR list of Plutus data arguments to a serialized
// script. Applying an empty list returns the script unchanged.
func (g *Gateway) ApplyParams(ctx context.Context, script, params []byte) Result[[]byte] {
	return run(ctx, g, OpApplyParams, func(ctx context.Context) ([]byte, error) {
		script, params := ownBytes(script), ownBytes(params)
		if isEmptyList(params) {
			return script, nil
		}
		return g.engine.ApplyParams(ctx, script, params)
	})
}

// EvalPhaseTwo runs the scripts of a transaction whose inputs the caller has
// already validated. Successful redeemers yield OutcomeDiagnostic.
func (g *Gateway) EvalPhaseTwo(ctx context.Context, req EvalRequest) Result[EvalResponse] {
	return run(ctx, g, OpEvalPhaseTwo, func(ctx context.Context) (EvalResponse, error) {
		return g.evaluate(ctx, req, ModePhaseTwo)
	})
}

// EvalWithPhaseOne resolves and checks the transaction's inputs before
// running its scripts. Successful redeemers yield OutcomeRaw.
func (g *Gateway) EvalWithPhaseOne(ctx context.Context, req EvalRequest) Result[EvalResponse] {
	return run(ctx, g, OpEvalWithPhaseOne, func(ctx context.Context) (EvalResponse, error) {
		return g.evaluate(ctx, req, ModeWithPhaseOne)
	})
}

func (g *Gateway) evaluate(ctx context.Context, req EvalRequest, mode Mode) (EvalResponse, error) {
	req = ownRequest(req)

	if req.SlotConfig.SlotLength == 0 {
		return EvalResponse{}, fmt.Errorf("%w: slot length must be positive", ErrInvalidSlotConfig)
	}

	pointers, err := TxRedeemers(req.Tx)
	if err != nil {
		return EvalResponse{}, err
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("tx.redeemers", len(pointers)),
		attribute.Int("tx.utxos", len(req.UTxOs)),
	)

	resp := EvalResponse{Version: ResponseVersion, Mode: mode, Outcomes: []Outcome{}}
	// Without redeemers the script phase has nothing to run, but phase one
	// can still reject the transaction.
	if len(pointers) == 0 && mode == ModePhaseTwo {
		return resp, nil
	}

	records, err := g.engine.Evaluate(ctx, EngineRequest{EvalRequest: req, RunPhaseOne: mode == ModeWithPhaseOne})
	if err != nil {
		return EvalResponse{}, err
	}

	ordered, err := orderRecords(pointers, records)
	if err != nil {
		return EvalResponse{}, err
	}

	resp.Outcomes = make([]Outcome, len(ordered))
	for i, rec := range ordered {
		resp.Outcomes[i] = toOutcome(rec, mode)
		if rec.Error != nil {
			g.logger.Debug("redeemer failed",
				zap.Stringer("tag", rec.Tag),
				zap.Uint64("index", rec.Index),
				zap.String("error_type", rec.Error.ErrorType),
				zap.Strings("trace", rec.Error.DebugTrace))
		}
	}
	g.metrics.observeOutcomes(resp.Outcomes)
	return resp, nil
}

// orderRecords arranges the engine's records in the transaction's redeemer
// order. Every redeemer must be reported exactly once.
func orderRecords(pointers []RedeemerPointer, records []RedeemerRecord) ([]RedeemerRecord, error) {
	if len(records) != len(pointers) {
		return nil, wrapRedeemerMismatch("engine returned %d outcomes for %d redeemers", len(records), len(pointers))
	}

	position := make(map[RedeemerPointer]int, len(pointers))
	for i, p := range pointers {
		position[p] = i
	}

	ordered := make([]RedeemerRecord, len(pointers))
	filled := make([]bool, len(pointers))
	for _, rec := range records {
		i, ok := position[rec.Pointer()]
		if !ok {
			return nil, wrapRedeemerMismatch("engine reported unknown redeemer %s:%d", rec.Tag, rec.Index)
		}
		if filled[i] {
			return nil, wrapRedeemerMismatch("engine reported redeemer %s:%d twice", rec.Tag, rec.Index)
		}
		ordered[i], filled[i] = rec, true
	}
	return ordered, nil
}

func toOutcome(rec RedeemerRecord, mode Mode) Outcome {
	o := Outcome{Pointer: rec.Pointer(), Cost: rec.Cost}
	switch {
	case rec.Error != nil:
		o.Kind = OutcomeFailure
		o.Error = rec.Error
	case mode == ModeWithPhaseOne:
		o.Kind = OutcomeRaw
		o.Raw = rec.Raw
	default:
		o.Kind = OutcomeDiagnostic
		o.Redeemer = rec.Redeemer
		o.Logs = rec.Logs
		if o.Logs == nil {
			o.Logs = []string{}
		}
	}
	return o
}

// isEmptyList reports whether b is an empty CBOR array, definite or not.
func isEmptyList(b []byte) bool {
	switch len(b) {
	case 1:
		return b[0] == 0x80
	case 2:
		return b[0] == 0x9f && b[1] == 0xff
	}
	return false
}

// run executes one gateway operation and converts every way it can end,
// panics included, into a Result.
func run[T any](ctx context.Context, g *Gateway, op string, fn func(context.Context) (T, error)) (res Result[T]) {
	ctx, span := g.tracer.Start(ctx, op)
	start := time.Now()

	defer func() {
		if p := recover(); p != nil {
			g.logger.Error("gateway operation panicked",
				zap.String("op", op),
				zap.Any("panic", p),
				zap.Stack("stack"))
			res = Failure[T](fmt.Sprintf("internal error: %v", p))
		}
		if !res.OK {
			span.SetStatus(codes.Error, res.Reason)
		}
		span.End()
		g.metrics.observeCall(op, res.OK, time.Since(start))
	}()

	v, err := fn(ctx)
	if err != nil {
		g.logFailure(op, err)
		return Failure[T](err.Error())
	}
	return Success(v)
}

func (g *Gateway) logFailure(op string, err error) {
	var evalErr *EvaluationError
	if errors.As(err, &evalErr) {
		g.logger.Warn("evaluation failed",
			zap.String("op", op),
			zap.String("error_type", evalErr.EvalError.ErrorType),
			zap.Uint64("budget_mem", evalErr.EvalError.Budget.Mem),
			zap.Uint64("budget_cpu", evalErr.EvalError.Budget.CPU),
			zap.Strings("trace", evalErr.EvalError.DebugTrace))
		return
	}
	g.logger.Warn("gateway call failed", zap.String("op", op), zap.Error(err))
}
