package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgpai22/uplcgate"
)

func newApplyCmd(flags *globalFlags) *cobra.Command {
	var scriptArg, paramsArg string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a CBOR list of Plutus data parameters to a script",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			script, err := readInput(scriptArg)
			if err != nil {
				return fmt.Errorf("script: %w", err)
			}
			params, err := readInput(paramsArg)
			if err != nil {
				return fmt.Errorf("params: %w", err)
			}

			ctx := cmd.Context()
			_, logger, engine, err := flags.setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			defer engine.Close(context.Background())

			res := uplcgate.New(engine, uplcgate.WithLogger(logger)).ApplyParams(ctx, script, params)
			if !res.OK {
				return errors.New(res.Reason)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(res.Value))
			return nil
		},
	}

	cmd.Flags().StringVar(&scriptArg, "script", "", "script as hex, or @file")
	cmd.Flags().StringVar(&paramsArg, "params", "80", "parameter list as hex, or @file")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}
