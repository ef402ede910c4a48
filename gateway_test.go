package uplcgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	apolloCbor "github.com/Salvionied/cbor/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine answers every redeemer of the transaction it is given. It is
// safe for concurrent use.
type fakeEngine struct {
	mu         sync.Mutex
	applyCalls int
	evalCalls  int
	lastApply  [2][]byte
	lastEval   EngineRequest

	apply func(script, params []byte) ([]byte, error)
	eval  func(req EngineRequest) ([]RedeemerRecord, error)
}

func (f *fakeEngine) ApplyParams(_ context.Context, script, params []byte) ([]byte, error) {
	f.mu.Lock()
	f.applyCalls++
	f.lastApply = [2][]byte{script, params}
	f.mu.Unlock()

	if f.apply != nil {
		return f.apply(script, params)
	}
	return append(append([]byte{}, script...), params...), nil
}

func (f *fakeEngine) Evaluate(_ context.Context, req EngineRequest) ([]RedeemerRecord, error) {
	f.mu.Lock()
	f.evalCalls++
	f.lastEval = req
	f.mu.Unlock()

	if f.eval != nil {
		return f.eval(req)
	}
	return echoRecords(req)
}

// echoRecords reports success for every redeemer, in reverse order.
func echoRecords(req EngineRequest) ([]RedeemerRecord, error) {
	pointers, err := TxRedeemers(req.Tx)
	if err != nil {
		return nil, err
	}
	records := make([]RedeemerRecord, 0, len(pointers))
	for i := len(pointers) - 1; i >= 0; i-- {
		p := pointers[i]
		records = append(records, RedeemerRecord{
			Tag:      p.Tag,
			Index:    p.Index,
			Redeemer: []byte(fmt.Sprintf("%s:%d", p.Tag, p.Index)),
			Logs:     []string{fmt.Sprintf("trace %s %d", p.Tag, p.Index)},
			Raw:      []byte{byte(p.Tag), byte(p.Index)},
			Cost:     Budget{Mem: 10, CPU: 20},
		})
	}
	return records, nil
}

func ptr(tag RedeemerTag, index uint64) RedeemerPointer {
	return RedeemerPointer{Tag: tag, Index: index}
}

// buildTx encodes a minimal transaction whose witness set carries redeemers
// (omitted when nil).
func buildTx(t *testing.T, redeemers any) []byte {
	t.Helper()
	witness := map[uint64]any{}
	if redeemers != nil {
		witness[witnessRedeemers] = redeemers
	}
	b, err := apolloCbor.Marshal([]any{map[uint64]any{}, witness, true, nil})
	require.NoError(t, err)
	return b
}

func legacyRedeemers(pointers ...RedeemerPointer) []any {
	out := make([]any, len(pointers))
	for i, p := range pointers {
		out[i] = []any{uint64(p.Tag), p.Index, uint64(42), []uint64{1000, 2000}}
	}
	return out
}

func evalRequest(tx []byte) EvalRequest {
	return EvalRequest{
		Tx: tx,
		UTxOs: []UtxoPair{
			{Input: []byte("in-b"), Output: []byte("out-b")},
			{Input: []byte("in-a"), Output: []byte("out-a")},
		},
		CostModels: None(),
		Budget:     Budget{Mem: DefaultMaxTxExMem, CPU: DefaultMaxTxExSteps},
		SlotConfig: SlotConfig{ZeroTime: 1596059091000, ZeroSlot: 4492800, SlotLength: 1000},
	}
}

func TestApplyParamsEmptyListIsIdentity(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)
	script := []byte{0x59, 0x01, 0x02, 0x03}

	for _, params := range [][]byte{{0x80}, {0x9f, 0xff}} {
		res := gw.ApplyParams(context.Background(), script, params)
		require.True(t, res.OK, res.Reason)
		assert.Equal(t, script, res.Value)
	}
	assert.Zero(t, engine.applyCalls)
}

func TestApplyParamsForwardsOwnedCopies(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)

	script := []byte{0x01, 0x02}
	params := []byte{0x81, 0x00}
	res := gw.ApplyParams(context.Background(), script, params)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, []byte{0x01, 0x02, 0x81, 0x00}, res.Value)

	script[0], params[0] = 0xff, 0xff
	assert.Equal(t, []byte{0x01, 0x02}, engine.lastApply[0])
	assert.Equal(t, []byte{0x81, 0x00}, engine.lastApply[1])
}

func TestApplyParamsDeterministic(t *testing.T) {
	gw := New(&fakeEngine{})
	script, params := []byte{0x01}, []byte{0x81, 0x01}

	first := gw.ApplyParams(context.Background(), script, params)
	second := gw.ApplyParams(context.Background(), script, params)
	assert.Equal(t, first, second)
}

func TestApplyParamsEngineError(t *testing.T) {
	engine := &fakeEngine{apply: func(_, _ []byte) ([]byte, error) {
		return nil, fmt.Errorf("%w: too many arguments", ErrApplyParams)
	}}

	res := New(engine).ApplyParams(context.Background(), []byte{0x01}, []byte{0x81, 0x00})
	require.False(t, res.OK)
	assert.Equal(t, "failed to apply parameters: too many arguments", res.Reason)
	assert.Nil(t, res.Value)
}

func TestEvalMalformedTx(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)

	for name, tx := range map[string][]byte{
		"empty":           {},
		"not cbor":        {0xff, 0x00},
		"not an array":    {0xa0},
		"too short":       {0x82, 0xa0, 0xa0},
		"witness not map": {0x83, 0xa0, 0x80, 0xf6},
	} {
		t.Run(name, func(t *testing.T) {
			res := gw.EvalPhaseTwo(context.Background(), evalRequest(tx))
			require.False(t, res.OK)
			assert.Contains(t, res.Reason, ErrMalformedTx.Error())
			assert.Nil(t, res.Value.Outcomes)
		})
	}
	assert.Zero(t, engine.evalCalls)
}

func TestEvalZeroRedeemers(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)

	for _, tx := range [][]byte{buildTx(t, nil), buildTx(t, []any{})} {
		res := gw.EvalPhaseTwo(context.Background(), evalRequest(tx))
		require.True(t, res.OK, res.Reason)
		assert.NotNil(t, res.Value.Outcomes)
		assert.Empty(t, res.Value.Outcomes)
		assert.Equal(t, uint(ResponseVersion), res.Value.Version)
		assert.Equal(t, ModePhaseTwo, res.Value.Mode)
	}
	assert.Zero(t, engine.evalCalls)
}

func TestEvalWithPhaseOneZeroRedeemersReachesEngine(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)

	res := gw.EvalWithPhaseOne(context.Background(), evalRequest(buildTx(t, nil)))
	require.True(t, res.OK, res.Reason)
	assert.NotNil(t, res.Value.Outcomes)
	assert.Empty(t, res.Value.Outcomes)
	assert.Equal(t, ModeWithPhaseOne, res.Value.Mode)
	assert.Equal(t, 1, engine.evalCalls)
	assert.True(t, engine.lastEval.RunPhaseOne)

	rejecting := &fakeEngine{eval: func(EngineRequest) ([]RedeemerRecord, error) {
		return nil, &EvaluationError{EvalError: EvalError{ErrorType: "missing_required_redeemer"}}
	}}
	res = New(rejecting).EvalWithPhaseOne(context.Background(), evalRequest(buildTx(t, []any{})))
	assert.False(t, res.OK)
	assert.Equal(t, "Evaluation failed: missing_required_redeemer", res.Reason)
	assert.Equal(t, 1, rejecting.evalCalls)
}

func TestEvalPhaseTwoDiagnostics(t *testing.T) {
	engine := &fakeEngine{}
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 1), ptr(RedeemerMint, 0), ptr(RedeemerSpend, 0)))

	res := New(engine).EvalPhaseTwo(context.Background(), evalRequest(tx))
	require.True(t, res.OK, res.Reason)
	assert.False(t, engine.lastEval.RunPhaseOne)

	require.Len(t, res.Value.Outcomes, 3)
	want := []RedeemerPointer{ptr(RedeemerSpend, 1), ptr(RedeemerMint, 0), ptr(RedeemerSpend, 0)}
	for i, o := range res.Value.Outcomes {
		assert.Equal(t, OutcomeDiagnostic, o.Kind)
		assert.Equal(t, want[i], o.Pointer)
		assert.Equal(t, fmt.Sprintf("%s:%d", want[i].Tag, want[i].Index), string(o.Redeemer))
		assert.Equal(t, []string{fmt.Sprintf("trace %s %d", want[i].Tag, want[i].Index)}, o.Logs)
		assert.Nil(t, o.Raw)
	}
}

func TestEvalWithPhaseOneRaw(t *testing.T) {
	engine := &fakeEngine{}
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0), ptr(RedeemerReward, 3)))

	res := New(engine).EvalWithPhaseOne(context.Background(), evalRequest(tx))
	require.True(t, res.OK, res.Reason)
	assert.True(t, engine.lastEval.RunPhaseOne)
	assert.Equal(t, ModeWithPhaseOne, res.Value.Mode)

	require.Len(t, res.Value.Outcomes, 2)
	assert.Equal(t, OutcomeRaw, res.Value.Outcomes[0].Kind)
	assert.Equal(t, []byte{0, 0}, res.Value.Outcomes[0].Raw)
	assert.Equal(t, []byte{3, 3}, res.Value.Outcomes[1].Raw)
	assert.Nil(t, res.Value.Outcomes[1].Logs)
}

func TestEvalOrderIgnoresUTxOOrder(t *testing.T) {
	gw := New(&fakeEngine{})
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 2), ptr(RedeemerSpend, 0)))

	req := evalRequest(tx)
	first := gw.EvalPhaseTwo(context.Background(), req)

	req.UTxOs[0], req.UTxOs[1] = req.UTxOs[1], req.UTxOs[0]
	second := gw.EvalPhaseTwo(context.Background(), req)

	require.True(t, first.OK, first.Reason)
	assert.Equal(t, first, second)
}

func TestEvalIdempotent(t *testing.T) {
	gw := New(&fakeEngine{})
	req := evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerMint, 0))))

	assert.Equal(t, gw.EvalPhaseTwo(context.Background(), req), gw.EvalPhaseTwo(context.Background(), req))
}

func TestEvalCopiesInputs(t *testing.T) {
	engine := &fakeEngine{}
	req := evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0))))
	req.CostModels = Some([]byte{0xa0})

	res := New(engine).EvalPhaseTwo(context.Background(), req)
	require.True(t, res.OK, res.Reason)

	req.UTxOs[0].Input[0] = 'X'
	req.Tx[0] = 0x00
	assert.Equal(t, []byte("in-b"), engine.lastEval.UTxOs[0].Input)
	assert.NotEqual(t, byte(0x00), engine.lastEval.Tx[0])
}

func TestEvalCostModelPresence(t *testing.T) {
	engine := &fakeEngine{}
	gw := New(engine)
	req := evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0))))

	req.CostModels = None()
	require.True(t, gw.EvalPhaseTwo(context.Background(), req).OK)
	assert.False(t, engine.lastEval.CostModels.Present())

	req.CostModels = Some([]byte{})
	require.True(t, gw.EvalPhaseTwo(context.Background(), req).OK)
	assert.True(t, engine.lastEval.CostModels.Present())
	assert.Empty(t, engine.lastEval.CostModels.Bytes())
}

func TestEvalPerRedeemerBudgetExhaustion(t *testing.T) {
	engine := &fakeEngine{eval: func(req EngineRequest) ([]RedeemerRecord, error) {
		records, err := echoRecords(req)
		if err != nil {
			return nil, err
		}
		for i := range records {
			if records[i].Tag == RedeemerMint {
				records[i].Error = &EvalError{
					ErrorType:  ErrorTypeOutOfBudget,
					Budget:     Budget{Mem: 14_000_001, CPU: 5},
					DebugTrace: []string{"looping"},
				}
			}
		}
		return records, nil
	}}
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0), ptr(RedeemerMint, 0)))

	res := New(engine).EvalPhaseTwo(context.Background(), evalRequest(tx))
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.Value.Outcomes, 2)

	assert.Equal(t, OutcomeDiagnostic, res.Value.Outcomes[0].Kind)
	assert.False(t, res.Value.Outcomes[0].BudgetExhausted())

	failed := res.Value.Outcomes[1]
	assert.Equal(t, OutcomeFailure, failed.Kind)
	assert.True(t, failed.BudgetExhausted())
	assert.Equal(t, []string{"looping"}, failed.Error.DebugTrace)
}

func TestEvalWholeTransactionFailure(t *testing.T) {
	engine := &fakeEngine{eval: func(EngineRequest) ([]RedeemerRecord, error) {
		return nil, &EvaluationError{EvalError: EvalError{ErrorType: "missing_input", DebugTrace: []string{"abc#0"}}}
	}}
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0)))

	res := New(engine).EvalWithPhaseOne(context.Background(), evalRequest(tx))
	require.False(t, res.OK)
	assert.Equal(t, "Evaluation failed: missing_input: abc#0", res.Reason)
}

func TestEvalRedeemerMismatch(t *testing.T) {
	tx := buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0), ptr(RedeemerMint, 0)))

	cases := map[string][]RedeemerRecord{
		"missing":   {{Tag: RedeemerSpend}},
		"unknown":   {{Tag: RedeemerSpend}, {Tag: RedeemerCert}},
		"duplicate": {{Tag: RedeemerSpend}, {Tag: RedeemerSpend}},
	}
	for name, records := range cases {
		t.Run(name, func(t *testing.T) {
			engine := &fakeEngine{eval: func(EngineRequest) ([]RedeemerRecord, error) { return records, nil }}
			res := New(engine).EvalPhaseTwo(context.Background(), evalRequest(tx))
			require.False(t, res.OK)
			assert.Contains(t, res.Reason, ErrRedeemerMismatch.Error())
		})
	}
}

func TestEvalInvalidSlotConfig(t *testing.T) {
	engine := &fakeEngine{}
	req := evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0))))
	req.SlotConfig.SlotLength = 0

	res := New(engine).EvalPhaseTwo(context.Background(), req)
	require.False(t, res.OK)
	assert.Contains(t, res.Reason, ErrInvalidSlotConfig.Error())
	assert.Zero(t, engine.evalCalls)
}

func TestEnginePanicBecomesFailure(t *testing.T) {
	engine := &fakeEngine{
		apply: func(_, _ []byte) ([]byte, error) { panic("boom") },
		eval:  func(EngineRequest) ([]RedeemerRecord, error) { panic(errors.New("kaboom")) },
	}
	gw := New(engine)

	apply := gw.ApplyParams(context.Background(), []byte{0x01}, []byte{0x81, 0x00})
	require.False(t, apply.OK)
	assert.Equal(t, "internal error: boom", apply.Reason)

	eval := gw.EvalPhaseTwo(context.Background(), evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0)))))
	require.False(t, eval.OK)
	assert.Equal(t, "internal error: kaboom", eval.Reason)
}

func TestGatewayMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	gw := New(&fakeEngine{}, WithMetrics(metrics))

	gw.ApplyParams(context.Background(), []byte{0x01}, []byte{0x80})
	gw.EvalPhaseTwo(context.Background(), evalRequest([]byte{0xff}))
	gw.EvalPhaseTwo(context.Background(), evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0), ptr(RedeemerMint, 0)))))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(OpApplyParams, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(OpEvalPhaseTwo, "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(OpEvalPhaseTwo, "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.outcomes.WithLabelValues(string(OutcomeDiagnostic))))
}

func TestGatewayConcurrentCalls(t *testing.T) {
	gw := New(&fakeEngine{})
	req := evalRequest(buildTx(t, legacyRedeemers(ptr(RedeemerSpend, 0), ptr(RedeemerSpend, 1))))
	want := gw.EvalPhaseTwo(context.Background(), req)
	require.True(t, want.OK, want.Reason)

	var wg sync.WaitGroup
	results := make([]Result[EvalResponse], 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = gw.EvalPhaseTwo(context.Background(), req)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, want, got)
	}
}
