package hostproto

import (
	apolloCbor "github.com/Salvionied/cbor/v2"

	"github.com/mgpai22/uplcgate"
)

// Response tags.
const (
	TagOK     = "ok"
	TagError  = "error"
	TagBadarg = "badarg"
)

type evalPayload struct {
	Version  uint   `cbor:"version"`
	Mode     string `cbor:"mode"`
	Outcomes []any  `cbor:"outcomes"`
}

type diagnosticOutcome struct {
	Kind     string          `cbor:"kind"`
	Tag      uint64          `cbor:"tag"`
	Index    uint64          `cbor:"index"`
	Cost     uplcgate.Budget `cbor:"cost"`
	Redeemer []byte          `cbor:"redeemer"`
	Logs     []string        `cbor:"logs"`
}

type rawOutcome struct {
	Kind  string          `cbor:"kind"`
	Tag   uint64          `cbor:"tag"`
	Index uint64          `cbor:"index"`
	Cost  uplcgate.Budget `cbor:"cost"`
	Raw   []byte          `cbor:"raw"`
}

type failureOutcome struct {
	Kind  string             `cbor:"kind"`
	Tag   uint64             `cbor:"tag"`
	Index uint64             `cbor:"index"`
	Cost  uplcgate.Budget    `cbor:"cost"`
	Error uplcgate.EvalError `cbor:"error"`
}

// EncodeApplyResult encodes the result of a parameter application.
func EncodeApplyResult(res uplcgate.Result[[]byte]) ([]byte, error) {
	if !res.OK {
		return EncodeFailure(TagError, res.Reason)
	}
	return apolloCbor.Marshal([]any{TagOK, nonNil(res.Value)})
}

// EncodeEvalResult encodes the result of either evaluation operation.
func EncodeEvalResult(res uplcgate.Result[uplcgate.EvalResponse]) ([]byte, error) {
	if !res.OK {
		return EncodeFailure(TagError, res.Reason)
	}

	payload := evalPayload{
		Version:  res.Value.Version,
		Mode:     string(res.Value.Mode),
		Outcomes: make([]any, len(res.Value.Outcomes)),
	}
	for i, o := range res.Value.Outcomes {
		payload.Outcomes[i] = wireOutcome(o)
	}
	return apolloCbor.Marshal([]any{TagOK, payload})
}

// EncodeFailure encodes an "error" or "badarg" response.
func EncodeFailure(tag, reason string) ([]byte, error) {
	return apolloCbor.Marshal([]any{tag, reason})
}

func wireOutcome(o uplcgate.Outcome) any {
	tag, index := uint64(o.Pointer.Tag), o.Pointer.Index
	switch o.Kind {
	case uplcgate.OutcomeFailure:
		out := failureOutcome{Kind: string(o.Kind), Tag: tag, Index: index, Cost: o.Cost}
		if o.Error != nil {
			out.Error = *o.Error
		}
		if out.Error.DebugTrace == nil {
			out.Error.DebugTrace = []string{}
		}
		return out
	case uplcgate.OutcomeRaw:
		return rawOutcome{Kind: string(o.Kind), Tag: tag, Index: index, Cost: o.Cost, Raw: nonNil(o.Raw)}
	default:
		logs := o.Logs
		if logs == nil {
			logs = []string{}
		}
		return diagnosticOutcome{
			Kind: string(o.Kind), Tag: tag, Index: index, Cost: o.Cost,
			Redeemer: nonNil(o.Redeemer), Logs: logs,
		}
	}
}

// nonNil keeps nil slices from encoding as CBOR null.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
