package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mgpai22/uplcgate"
)

type globalFlags struct {
	configPath string
	wasmFile   string
	network    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "uplcgate",
		Short:         "Evaluate Plutus validator scripts through a WebAssembly UPLC evaluator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	pf.StringVar(&flags.wasmFile, "wasm", "", "path to the evaluator WASM module (overrides engine.wasm_file)")
	pf.StringVar(&flags.network, "network", "", "slot config preset: mainnet, preprod or preview")
	pf.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVar(&flags.logFormat, "log-format", "console", "log format: console or json")

	root.AddCommand(
		newServeCmd(flags),
		newApplyCmd(flags),
		newEvalCmd(flags),
	)
	return root
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (f *globalFlags) loadConfig() (uplcgate.Config, error) {
	cfg := uplcgate.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = uplcgate.LoadConfig(f.configPath); err != nil {
			return uplcgate.Config{}, err
		}
	}
	if f.wasmFile != "" {
		cfg.Engine.WasmFile = f.wasmFile
	}
	if f.network != "" {
		cfg.Network = f.network
		cfg.SlotConfig = nil
	}
	if err := cfg.Validate(); err != nil {
		return uplcgate.Config{}, err
	}
	return cfg, nil
}

// newLogger builds a logger writing to stderr; stdout is reserved for output.
func (f *globalFlags) newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(f.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var zc zap.Config
	switch f.logFormat {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", f.logFormat)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// setup loads config, logger and evaluator shared by every subcommand.
func (f *globalFlags) setup(ctx context.Context) (uplcgate.Config, *zap.Logger, *uplcgate.Evaluator, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return uplcgate.Config{}, nil, nil, err
	}
	logger, err := f.newLogger()
	if err != nil {
		return uplcgate.Config{}, nil, nil, err
	}
	engine, err := uplcgate.NewEvaluator(ctx, cfg.Engine,
		uplcgate.WithGuestOutput(os.Stderr),
		uplcgate.WithEvaluatorLogger(logger.Named("engine")))
	if err != nil {
		_ = logger.Sync()
		return uplcgate.Config{}, nil, nil, err
	}
	return cfg, logger, engine, nil
}
