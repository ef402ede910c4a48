package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgpai22/uplcgate"
)

type evalFlags struct {
	tx           string
	utxos        string
	costModels   string
	withPhaseOne bool
}

func newEvalCmd(flags *globalFlags) *cobra.Command {
	ef := &evalFlags{}

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the redeemers of a transaction",
		Long: `Evaluates every redeemer of a transaction against the UTxOs it spends and
references, loaded from a JSON UTxO dump, and prints a JSON report.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, logger, engine, err := flags.setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer engine.Close(context.Background())

			req, err := ef.request(cfg)
			if err != nil {
				return err
			}

			gw := uplcgate.New(engine, uplcgate.WithLogger(logger))
			var res uplcgate.Result[uplcgate.EvalResponse]
			if ef.withPhaseOne {
				res = gw.EvalWithPhaseOne(ctx, req)
			} else {
				res = gw.EvalPhaseTwo(ctx, req)
			}
			if !res.OK {
				return errors.New(res.Reason)
			}
			return writeReport(cmd.OutOrStdout(), res.Value)
		},
	}

	f := cmd.Flags()
	f.StringVar(&ef.tx, "tx", "", "transaction as hex, or @file")
	f.StringVar(&ef.utxos, "utxos", "", "JSON UTxO dump covering the transaction's inputs")
	f.StringVar(&ef.costModels, "cost-models", "", "cost models as hex, or @file (default: engine defaults)")
	f.BoolVar(&ef.withPhaseOne, "with-phase-one", false, "check inputs before running scripts and report raw engine output")
	_ = cmd.MarkFlagRequired("tx")
	_ = cmd.MarkFlagRequired("utxos")
	return cmd
}

func (ef *evalFlags) request(cfg uplcgate.Config) (uplcgate.EvalRequest, error) {
	txBytes, err := readInput(ef.tx)
	if err != nil {
		return uplcgate.EvalRequest{}, fmt.Errorf("tx: %w", err)
	}
	tx, err := uplcgate.GetTxFromBytes(txBytes)
	if err != nil {
		return uplcgate.EvalRequest{}, err
	}

	dump, err := os.ReadFile(ef.utxos)
	if err != nil {
		return uplcgate.EvalRequest{}, fmt.Errorf("utxos: %w", err)
	}
	utxos, err := uplcgate.ParseUTxOsFromJSON(dump, uplcgate.TxInputs(tx))
	if err != nil {
		return uplcgate.EvalRequest{}, fmt.Errorf("utxos: %w", err)
	}
	pairs, err := uplcgate.PairsFromUTxOs(utxos)
	if err != nil {
		return uplcgate.EvalRequest{}, err
	}

	costModels := uplcgate.None()
	if ef.costModels != "" {
		b, err := readInput(ef.costModels)
		if err != nil {
			return uplcgate.EvalRequest{}, fmt.Errorf("cost models: %w", err)
		}
		costModels = uplcgate.Some(b)
	}

	return uplcgate.EvalRequest{
		Tx:         txBytes,
		UTxOs:      pairs,
		CostModels: costModels,
		Budget:     cfg.Budget(),
		SlotConfig: cfg.Slots(),
	}, nil
}

type outcomeReport struct {
	Kind     string              `json:"kind"`
	Purpose  string              `json:"purpose"`
	Index    uint64              `json:"index"`
	Cost     uplcgate.Budget     `json:"cost"`
	Redeemer string              `json:"redeemer,omitempty"`
	Logs     []string            `json:"logs,omitempty"`
	Raw      string              `json:"raw,omitempty"`
	Error    *uplcgate.EvalError `json:"error,omitempty"`
}

type evalReport struct {
	Version  uint            `json:"version"`
	Mode     string          `json:"mode"`
	Outcomes []outcomeReport `json:"outcomes"`
}

func writeReport(w io.Writer, resp uplcgate.EvalResponse) error {
	report := evalReport{
		Version:  resp.Version,
		Mode:     string(resp.Mode),
		Outcomes: make([]outcomeReport, len(resp.Outcomes)),
	}
	failed := 0
	for i, o := range resp.Outcomes {
		report.Outcomes[i] = outcomeReport{
			Kind:     string(o.Kind),
			Purpose:  o.Pointer.Tag.String(),
			Index:    o.Pointer.Index,
			Cost:     o.Cost,
			Redeemer: hex.EncodeToString(o.Redeemer),
			Logs:     o.Logs,
			Raw:      hex.EncodeToString(o.Raw),
			Error:    o.Error,
		}
		if o.Kind == uplcgate.OutcomeFailure {
			failed++
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}

	if failed > 0 {
		fmt.Fprintln(os.Stderr, color.YellowString("%d of %d redeemers failed", failed, len(resp.Outcomes)))
	} else {
		fmt.Fprintln(os.Stderr, color.GreenString("%d redeemers evaluated", len(resp.Outcomes)))
	}
	return nil
}
