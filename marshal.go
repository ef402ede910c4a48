package uplcgate

import (
	"bytes"
	"encoding/binary"
)

// Optional is a buffer that may be absent. An absent buffer and a present
// empty buffer are different states and are passed to the engine as such.
type Optional struct {
	present bool
	data    []byte
}

// Some returns a present buffer holding a copy of b.
func Some(b []byte) Optional {
	return Optional{present: true, data: ownBytes(b)}
}

// None returns an absent buffer.
func None() Optional {
	return Optional{}
}

// Present reports whether the buffer was supplied.
func (o Optional) Present() bool { return o.present }

// Bytes returns the buffer contents, nil when absent.
func (o Optional) Bytes() []byte {
	if !o.present {
		return nil
	}
	return o.data
}

func (o Optional) own() Optional {
	if !o.present {
		return None()
	}
	return Some(o.data)
}

// ownBytes returns a copy of b that shares no memory with it. The result is
// never nil so an empty buffer is not mistaken for an absent one.
func ownBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// ownUtxoPairs copies every pair independently, keeping the order.
func ownUtxoPairs(pairs []UtxoPair) []UtxoPair {
	out := make([]UtxoPair, len(pairs))
	for i, p := range pairs {
		out[i] = UtxoPair{Input: ownBytes(p.Input), Output: ownBytes(p.Output)}
	}
	return out
}

// ownRequest deep-copies every buffer of an evaluation request.
func ownRequest(req EvalRequest) EvalRequest {
	return EvalRequest{
		Tx:         ownBytes(req.Tx),
		UTxOs:      ownUtxoPairs(req.UTxOs),
		CostModels: req.CostModels.own(),
		Budget:     req.Budget,
		SlotConfig: req.SlotConfig,
	}
}

// serializeUTxOs lays the pairs out the way the engine reads them:
// a little-endian u64 count, then each input and output prefixed by its
// little-endian u64 length.
func serializeUTxOs(pairs []UtxoPair) []byte {
	var buf bytes.Buffer

	size := 8
	for _, p := range pairs {
		size += 16 + len(p.Input) + len(p.Output)
	}
	buf.Grow(size)

	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(pairs)))
	for _, p := range pairs {
		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(p.Input)))
		buf.Write(p.Input)

		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(p.Output)))
		buf.Write(p.Output)
	}

	return buf.Bytes()
}

// packPtrLen packs a guest pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen is the inverse of packPtrLen.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed)
}
