package hostproto

import (
	"fmt"
	"math"

	apolloCbor "github.com/Salvionied/cbor/v2"

	"github.com/mgpai22/uplcgate"
)

// CBOR major types.
const (
	majorUint  = 0
	majorBytes = 2
	majorText  = 3
	majorArray = 4
)

// CBOR simple values standing for an absent argument.
const (
	cborNull      = 0xf6
	cborUndefined = 0xf7
)

// Request is a decoded host request. Only the fields of Op are set.
type Request struct {
	Op string

	// uplcgate.OpApplyParams
	Script []byte
	Params []byte

	// uplcgate.OpEvalPhaseTwo and uplcgate.OpEvalWithPhaseOne
	Eval uplcgate.EvalRequest
}

var arity = map[string]int{
	uplcgate.OpApplyParams:      3,
	uplcgate.OpEvalPhaseTwo:     6,
	uplcgate.OpEvalWithPhaseOne: 6,
}

// DecodeRequest decodes one request frame. Every error it returns is a
// *uplcgate.MarshalError.
func DecodeRequest(frame []byte) (Request, error) {
	var terms []apolloCbor.RawMessage
	if len(frame) == 0 || frame[0]>>5 != majorArray {
		return Request{}, badarg(-1, "request is not a CBOR array")
	}
	if err := apolloCbor.Unmarshal(frame, &terms); err != nil {
		return Request{}, badarg(-1, "request is not a CBOR array: %v", err)
	}
	if len(terms) == 0 {
		return Request{}, badarg(-1, "empty request")
	}

	var req Request
	if err := decodeAs(terms[0], majorText, 0, &req.Op); err != nil {
		return Request{}, err
	}
	want, ok := arity[req.Op]
	if !ok {
		return Request{}, badarg(0, "unknown operation %q", req.Op)
	}
	if len(terms) != want {
		return Request{}, badarg(-1, "%s takes %d arguments, got %d", req.Op, want-1, len(terms)-1)
	}

	var err error
	switch req.Op {
	case uplcgate.OpApplyParams:
		if req.Script, err = bytesArg(terms[1], 1); err != nil {
			return Request{}, err
		}
		if req.Params, err = bytesArg(terms[2], 2); err != nil {
			return Request{}, err
		}
	default:
		if req.Eval, err = evalArgs(terms[1:]); err != nil {
			return Request{}, err
		}
	}
	return req, nil
}

func evalArgs(args []apolloCbor.RawMessage) (uplcgate.EvalRequest, error) {
	var (
		req uplcgate.EvalRequest
		err error
	)
	if req.Tx, err = bytesArg(args[0], 1); err != nil {
		return req, err
	}
	if req.UTxOs, err = pairsArg(args[1], 2); err != nil {
		return req, err
	}
	if req.CostModels, err = optionalBytesArg(args[2], 3); err != nil {
		return req, err
	}

	budget, err := uintTuple(args[3], 4, 2)
	if err != nil {
		return req, err
	}
	req.Budget = uplcgate.Budget{Mem: budget[0], CPU: budget[1]}

	slots, err := uintTuple(args[4], 5, 3)
	if err != nil {
		return req, err
	}
	if slots[2] > math.MaxUint32 {
		return req, badarg(5, "slot length %d does not fit in 32 bits", slots[2])
	}
	req.SlotConfig = uplcgate.SlotConfig{ZeroTime: slots[0], ZeroSlot: slots[1], SlotLength: uint32(slots[2])}
	return req, nil
}

func bytesArg(raw apolloCbor.RawMessage, arg int) ([]byte, error) {
	var b []byte
	if err := decodeAs(raw, majorBytes, arg, &b); err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func optionalBytesArg(raw apolloCbor.RawMessage, arg int) (uplcgate.Optional, error) {
	if len(raw) == 1 && (raw[0] == cborNull || raw[0] == cborUndefined) {
		return uplcgate.None(), nil
	}
	b, err := bytesArg(raw, arg)
	if err != nil {
		return uplcgate.Optional{}, err
	}
	return uplcgate.Some(b), nil
}

func pairsArg(raw apolloCbor.RawMessage, arg int) ([]uplcgate.UtxoPair, error) {
	var entries []apolloCbor.RawMessage
	if err := decodeAs(raw, majorArray, arg, &entries); err != nil {
		return nil, err
	}

	pairs := make([]uplcgate.UtxoPair, len(entries))
	for i, entry := range entries {
		var pair []apolloCbor.RawMessage
		if err := decodeAs(entry, majorArray, arg, &pair); err != nil {
			return nil, err
		}
		if len(pair) != 2 {
			return nil, badarg(arg, "utxo %d is a %d-tuple, want a 2-tuple", i, len(pair))
		}
		in, err := bytesArg(pair[0], arg)
		if err != nil {
			return nil, err
		}
		out, err := bytesArg(pair[1], arg)
		if err != nil {
			return nil, err
		}
		pairs[i] = uplcgate.UtxoPair{Input: in, Output: out}
	}
	return pairs, nil
}

func uintTuple(raw apolloCbor.RawMessage, arg, n int) ([]uint64, error) {
	var elems []apolloCbor.RawMessage
	if err := decodeAs(raw, majorArray, arg, &elems); err != nil {
		return nil, err
	}
	if len(elems) != n {
		return nil, badarg(arg, "expected a %d-tuple, got %d elements", n, len(elems))
	}
	out := make([]uint64, n)
	for i, e := range elems {
		if err := decodeAs(e, majorUint, arg, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeAs checks the CBOR major type of raw before decoding it into v, so
// that, say, a text string is never accepted where bytes are expected.
func decodeAs(raw apolloCbor.RawMessage, major byte, arg int, v any) error {
	if len(raw) == 0 {
		return badarg(arg, "missing value")
	}
	if got := raw[0] >> 5; got != major {
		return badarg(arg, "expected %s, got %s", majorName(major), majorName(got))
	}
	if err := apolloCbor.Unmarshal(raw, v); err != nil {
		return badarg(arg, "%v", err)
	}
	return nil
}

func majorName(major byte) string {
	switch major {
	case majorUint:
		return "unsigned integer"
	case 1:
		return "negative integer"
	case majorBytes:
		return "byte string"
	case majorText:
		return "text string"
	case majorArray:
		return "array"
	case 5:
		return "map"
	case 6:
		return "tagged value"
	default:
		return "simple value"
	}
}

func badarg(arg int, format string, args ...any) *uplcgate.MarshalError {
	return &uplcgate.MarshalError{Arg: arg, Reason: fmt.Sprintf(format, args...)}
}
