package uplcgate

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Salvionied/apollo/serialization"
	"github.com/Salvionied/apollo/serialization/Address"
	"github.com/Salvionied/apollo/serialization/Amount"
	"github.com/Salvionied/apollo/serialization/Asset"
	"github.com/Salvionied/apollo/serialization/AssetName"
	"github.com/Salvionied/apollo/serialization/MultiAsset"
	"github.com/Salvionied/apollo/serialization/PlutusData"
	"github.com/Salvionied/apollo/serialization/Policy"
	"github.com/Salvionied/apollo/serialization/Transaction"
	"github.com/Salvionied/apollo/serialization/TransactionInput"
	"github.com/Salvionied/apollo/serialization/TransactionOutput"
	apolloUTxO "github.com/Salvionied/apollo/serialization/UTxO"
	"github.com/Salvionied/apollo/serialization/Value"
	base "github.com/Salvionied/apollo/txBuilding/Backend/Base"
	apolloCbor "github.com/Salvionied/cbor/v2"
)

// policyIDHexLen is the length of a hex-encoded policy id prefixing an asset unit.
const policyIDHexLen = 56

// UTxOJSON is one transaction of a UTxO dump, as served by the common
// chain indexer APIs.
type UTxOJSON struct {
	Hash    string       `json:"hash"`
	Outputs []OutputJSON `json:"outputs"`
}

type OutputJSON struct {
	TxHash      string      `json:"tx_hash"`
	OutputIndex int         `json:"output_index"`
	Address     string      `json:"address"`
	Amount      []AssetJSON `json:"amount"`
	InlineDatum string      `json:"inline_datum"`
	DataHash    string      `json:"data_hash"`
}

type AssetJSON struct {
	Unit     string `json:"unit"`
	Quantity int64  `json:"quantity"`
}

// GetTxFromBytes decodes a serialized transaction.
func GetTxFromBytes(txBytes []byte) (*Transaction.Transaction, error) {
	tx := &Transaction.Transaction{}
	if err := apolloCbor.Unmarshal(txBytes, tx); err != nil {
		return nil, wrapMalformedTx(err)
	}
	return tx, nil
}

// TxInputs returns every input the evaluator has to resolve: spent inputs
// followed by reference inputs.
func TxInputs(tx *Transaction.Transaction) []TransactionInput.TransactionInput {
	inputs := make([]TransactionInput.TransactionInput, 0,
		len(tx.TransactionBody.Inputs)+len(tx.TransactionBody.ReferenceInputs))
	inputs = append(inputs, tx.TransactionBody.Inputs...)
	return append(inputs, tx.TransactionBody.ReferenceInputs...)
}

// PairsFromUTxOs encodes apollo UTxOs into the opaque pairs the gateway takes.
func PairsFromUTxOs(utxos []apolloUTxO.UTxO) ([]UtxoPair, error) {
	pairs := make([]UtxoPair, 0, len(utxos))
	for i := range utxos {
		in, err := apolloCbor.Marshal(utxos[i].Input)
		if err != nil {
			return nil, fmt.Errorf("utxo %d: encode input: %w", i, err)
		}
		out, err := apolloCbor.Marshal(&utxos[i].Output)
		if err != nil {
			return nil, fmt.Errorf("utxo %d: encode output: %w", i, err)
		}
		pairs = append(pairs, UtxoPair{Input: in, Output: out})
	}
	return pairs, nil
}

// ResolveUTxOs looks up every input of the transaction through chainContext.
func ResolveUTxOs(ctx context.Context, txBytes []byte, chainContext base.ChainContext) ([]apolloUTxO.UTxO, error) {
	tx, err := GetTxFromBytes(txBytes)
	if err != nil {
		return nil, err
	}

	inputs := TxInputs(tx)
	utxos := make([]apolloUTxO.UTxO, 0, len(inputs))
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		txHash := hex.EncodeToString(input.TransactionId)
		utxo := chainContext.GetUtxoFromRef(txHash, input.Index)
		if utxo == nil {
			return nil, fmt.Errorf("UTxO not found for input %s#%d", txHash, input.Index)
		}
		utxos = append(utxos, *utxo)
	}
	return utxos, nil
}

// ParseUTxOsFromJSON picks the outputs spent by inputs out of a UTxO dump.
// Inputs with no matching output are reported as an error.
func ParseUTxOsFromJSON(jsonData []byte, inputs []TransactionInput.TransactionInput) ([]apolloUTxO.UTxO, error) {
	var txs []UTxOJSON
	if err := json.Unmarshal(jsonData, &txs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	byRef := make(map[string]OutputJSON)
	for _, tx := range txs {
		for _, output := range tx.Outputs {
			byRef[fmt.Sprintf("%s#%d", output.TxHash, output.OutputIndex)] = output
		}
	}

	utxos := make([]apolloUTxO.UTxO, 0, len(inputs))
	for _, input := range inputs {
		ref := fmt.Sprintf("%s#%d", hex.EncodeToString(input.TransactionId), input.Index)
		output, ok := byRef[ref]
		if !ok {
			return nil, fmt.Errorf("missing UTxO for input: %s", ref)
		}
		txOut, err := outputFromJSON(output)
		if err != nil {
			return nil, fmt.Errorf("UTxO %s: %w", ref, err)
		}
		utxos = append(utxos, apolloUTxO.UTxO{Input: input, Output: txOut})
	}
	return utxos, nil
}

// outputFromJSON builds a post-Alonzo output when the dump carries an inline
// datum and a Shelley output otherwise.
func outputFromJSON(output OutputJSON) (TransactionOutput.TransactionOutput, error) {
	addr, err := Address.DecodeAddress(output.Address)
	if err != nil {
		return TransactionOutput.TransactionOutput{}, fmt.Errorf("failed to decode address: %w", err)
	}

	value, err := valueFromJSON(output.Amount)
	if err != nil {
		return TransactionOutput.TransactionOutput{}, err
	}

	if output.InlineDatum != "" {
		datumCbor, err := hex.DecodeString(output.InlineDatum)
		if err != nil {
			return TransactionOutput.TransactionOutput{}, fmt.Errorf("failed to decode inline datum: %w", err)
		}
		var datum PlutusData.PlutusData
		if err := apolloCbor.Unmarshal(datumCbor, &datum); err != nil {
			return TransactionOutput.TransactionOutput{}, fmt.Errorf("failed to unmarshal plutus data: %w", err)
		}
		option := PlutusData.DatumOptionInline(&datum)
		return TransactionOutput.TransactionOutput{
			IsPostAlonzo: true,
			PostAlonzo: TransactionOutput.TransactionOutputAlonzo{
				Address: addr,
				Amount:  value.ToAlonzoValue(),
				Datum:   &option,
			},
		}, nil
	}

	shelley := TransactionOutput.TransactionOutputShelley{Address: addr, Amount: value}
	if output.DataHash != "" {
		hash, err := hex.DecodeString(output.DataHash)
		if err != nil {
			return TransactionOutput.TransactionOutput{}, fmt.Errorf("failed to decode datum hash: %w", err)
		}
		shelley.DatumHash = serialization.DatumHash{Payload: hash}
		shelley.HasDatum = true
	}
	return TransactionOutput.TransactionOutput{PreAlonzo: shelley}, nil
}

func valueFromJSON(amounts []AssetJSON) (Value.Value, error) {
	var lovelace int64
	assets := MultiAsset.MultiAsset[int64]{}

	for _, amt := range amounts {
		if amt.Unit == "lovelace" {
			lovelace = amt.Quantity
			continue
		}
		if len(amt.Unit) < policyIDHexLen {
			return Value.Value{}, fmt.Errorf("invalid asset unit %q", amt.Unit)
		}

		policy := Policy.PolicyId{Value: amt.Unit[:policyIDHexLen]}
		name := *AssetName.NewAssetNameFromHexString(amt.Unit[policyIDHexLen:])
		if _, ok := assets[policy]; !ok {
			assets[policy] = Asset.Asset[int64]{}
		}
		assets[policy][name] = amt.Quantity
	}

	if len(assets) == 0 {
		return Value.Value{Coin: lovelace}, nil
	}
	return Value.Value{
		Am:        Amount.Amount{Coin: lovelace, Value: assets},
		HasAssets: true,
	}, nil
}
