package uplcgate

import (
	"fmt"
	"sort"

	apolloCbor "github.com/Salvionied/cbor/v2"
)

// witnessRedeemers is the witness set key holding the redeemers.
const witnessRedeemers = 5

// CBOR major types the pre-check branches on.
const (
	majorArray = 4
	majorMap   = 5
)

// TxRedeemers returns the redeemer pointers of a serialized transaction in
// evaluation order. Legacy array-encoded redeemers keep their encoding
// order; map-encoded redeemers are ordered by (tag, index).
func TxRedeemers(txBytes []byte) ([]RedeemerPointer, error) {
	var tx []apolloCbor.RawMessage
	if err := apolloCbor.Unmarshal(txBytes, &tx); err != nil {
		return nil, wrapMalformedTx(err)
	}
	if len(tx) < 3 {
		return nil, wrapMalformedTx(fmt.Errorf("transaction has %d elements, want at least 3", len(tx)))
	}

	var witnesses map[uint64]apolloCbor.RawMessage
	if err := apolloCbor.Unmarshal(tx[1], &witnesses); err != nil {
		return nil, wrapMalformedTx(fmt.Errorf("witness set: %w", err))
	}

	raw, ok := witnesses[witnessRedeemers]
	if !ok || len(raw) == 0 {
		return nil, nil
	}

	switch raw[0] >> 5 {
	case majorArray:
		return arrayRedeemers(raw)
	case majorMap:
		return mapRedeemers(raw)
	default:
		return nil, wrapMalformedTx(fmt.Errorf("redeemers: unexpected CBOR major type %d", raw[0]>>5))
	}
}

// arrayRedeemers reads [tag, index, data, ex_units] entries.
func arrayRedeemers(raw apolloCbor.RawMessage) ([]RedeemerPointer, error) {
	var entries []apolloCbor.RawMessage
	if err := apolloCbor.Unmarshal(raw, &entries); err != nil {
		return nil, wrapMalformedTx(fmt.Errorf("redeemers: %w", err))
	}

	pointers := make([]RedeemerPointer, 0, len(entries))
	seen := make(map[RedeemerPointer]struct{}, len(entries))
	for i, entry := range entries {
		var fields []apolloCbor.RawMessage
		if err := apolloCbor.Unmarshal(entry, &fields); err != nil {
			return nil, wrapMalformedTx(fmt.Errorf("redeemer %d: %w", i, err))
		}
		if len(fields) != 4 {
			return nil, wrapMalformedTx(fmt.Errorf("redeemer %d has %d fields, want 4", i, len(fields)))
		}
		var p RedeemerPointer
		if err := apolloCbor.Unmarshal(fields[0], &p.Tag); err != nil {
			return nil, wrapMalformedTx(fmt.Errorf("redeemer %d tag: %w", i, err))
		}
		if err := apolloCbor.Unmarshal(fields[1], &p.Index); err != nil {
			return nil, wrapMalformedTx(fmt.Errorf("redeemer %d index: %w", i, err))
		}
		if _, dup := seen[p]; dup {
			return nil, wrapMalformedTx(fmt.Errorf("duplicate redeemer %s:%d", p.Tag, p.Index))
		}
		seen[p] = struct{}{}
		pointers = append(pointers, p)
	}
	return pointers, nil
}

// mapRedeemers reads {[tag, index] => [data, ex_units]} entries.
func mapRedeemers(raw apolloCbor.RawMessage) ([]RedeemerPointer, error) {
	var entries map[RedeemerPointer]apolloCbor.RawMessage
	if err := apolloCbor.Unmarshal(raw, &entries); err != nil {
		return nil, wrapMalformedTx(fmt.Errorf("redeemers: %w", err))
	}

	pointers := make([]RedeemerPointer, 0, len(entries))
	for p := range entries {
		pointers = append(pointers, p)
	}
	sort.Slice(pointers, func(i, j int) bool {
		if pointers[i].Tag != pointers[j].Tag {
			return pointers[i].Tag < pointers[j].Tag
		}
		return pointers[i].Index < pointers[j].Index
	})
	return pointers, nil
}
