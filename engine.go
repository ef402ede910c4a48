package uplcgate

import "context"

// Engine is the evaluator the gateway forwards to. Implementations must be
// safe for concurrent use and must not retain any buffer passed to them.
type Engine interface {
	// ApplyParams applies a CBOR list of Plutus data arguments to a
	// serialized script and returns the resulting serialized script.
	ApplyParams(ctx context.Context, script, params []byte) ([]byte, error)

	// Evaluate runs every redeemer of the transaction. A returned error
	// means the engine could not evaluate the transaction as a whole.
	Evaluate(ctx context.Context, req EngineRequest) ([]RedeemerRecord, error)
}

// EvalRequest is the input of both evaluation operations.
type EvalRequest struct {
	Tx         []byte
	UTxOs      []UtxoPair
	CostModels Optional
	Budget     Budget
	SlotConfig SlotConfig
}

// EngineRequest is an EvalRequest whose buffers are owned by the gateway,
// plus the phase selector.
type EngineRequest struct {
	EvalRequest
	RunPhaseOne bool
}
