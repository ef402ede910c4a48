package uplcgate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	apolloCbor "github.com/Salvionied/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// Exports the evaluator module has to provide.
const (
	exportMemory       = "memory"
	exportAlloc        = "alloc"
	exportApplyParams  = "apply_params_to_script"
	exportEvalPhaseTwo = "eval_phase_two_raw"
)

// Evaluator runs a WebAssembly build of the UPLC evaluator. The module is
// compiled once; every call gets its own instance, so calls share no guest
// memory and an Evaluator may be used from many goroutines at once.
type Evaluator struct {
	runtime   wazero.Runtime
	compiled  wazero.CompiledModule
	cache     wazero.CompilationCache
	modConfig wazero.ModuleConfig
	logger    *zap.Logger
}

var _ Engine = (*Evaluator)(nil)

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*evaluatorOptions)

type evaluatorOptions struct {
	guestOutput io.Writer
	logger      *zap.Logger
}

// WithGuestOutput sets where the guest's stdout and stderr go (default: os.Stderr).
func WithGuestOutput(w io.Writer) EvaluatorOption {
	return func(o *evaluatorOptions) {
		o.guestOutput = w
	}
}

// WithEvaluatorLogger sets the logger used for engine diagnostics.
func WithEvaluatorLogger(l *zap.Logger) EvaluatorOption {
	return func(o *evaluatorOptions) {
		o.logger = l
	}
}

// NewEvaluator loads the evaluator module named by config.WasmFile.
func NewEvaluator(ctx context.Context, config EngineConfig, opts ...EvaluatorOption) (*Evaluator, error) {
	wasmBytes, err := os.ReadFile(config.WasmFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM file: %w", err)
	}
	return NewEvaluatorFromBytes(ctx, wasmBytes, config, opts...)
}

// NewEvaluatorFromBytes compiles the given evaluator module. config.WasmFile
// is ignored.
func NewEvaluatorFromBytes(ctx context.Context, wasmBytes []byte, config EngineConfig, opts ...EvaluatorOption) (*Evaluator, error) {
	o := evaluatorOptions{guestOutput: os.Stderr, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	rtConfig := wazero.NewRuntimeConfig()
	if config.MemoryLimitPages > 0 {
		rtConfig = rtConfig.WithMemoryLimitPages(config.MemoryLimitPages)
	}

	var cache wazero.CompilationCache
	if config.CompilationCacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(config.CompilationCacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open compilation cache: %w", err)
		}
		rtConfig = rtConfig.WithCompilationCache(cache)
	}

	runtime := wazero.NewRuntimeWithConfig(ctx, rtConfig)
	closeAll := func() {
		runtime.Close(ctx)
		if cache != nil {
			cache.Close(ctx)
		}
	}

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		closeAll()
		return nil, err
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to compile evaluator module: %w", err)
	}

	if err := checkExports(compiled); err != nil {
		closeAll()
		return nil, err
	}

	o.logger.Debug("evaluator module compiled",
		zap.Int("wasm_size", len(wasmBytes)),
		zap.Bool("compilation_cache", cache != nil))

	return &Evaluator{
		runtime:  runtime,
		compiled: compiled,
		cache:    cache,
		modConfig: wazero.NewModuleConfig().
			WithName("").
			WithStdout(o.guestOutput).
			WithStderr(o.guestOutput),
		logger: o.logger,
	}, nil
}

func checkExports(compiled wazero.CompiledModule) error {
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		return fmt.Errorf("%w: %s", ErrMissingExport, exportMemory)
	}
	funcs := compiled.ExportedFunctions()
	for _, name := range []string{exportAlloc, exportApplyParams, exportEvalPhaseTwo} {
		if _, ok := funcs[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingExport, name)
		}
	}
	return nil
}

// Close terminates the WASM runtime and releases resources.
func (e *Evaluator) Close(ctx context.Context) {
	e.runtime.Close(ctx)
	if e.cache != nil {
		e.cache.Close(ctx)
	}
}

// ApplyParams implements Engine.
func (e *Evaluator) ApplyParams(ctx context.Context, script, params []byte) ([]byte, error) {
	inst, err := e.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.close(ctx)

	paramsPtr, err := inst.write(ctx, params)
	if err != nil {
		return nil, err
	}
	scriptPtr, err := inst.write(ctx, script)
	if err != nil {
		return nil, err
	}

	result, err := inst.call(ctx, exportApplyParams,
		uint64(paramsPtr), uint64(len(params)),
		uint64(scriptPtr), uint64(len(script)),
	)
	if err != nil {
		return nil, err
	}

	if result[0] != 0 {
		// The message ends up in CBOR text, which must be valid UTF-8.
		msg := strings.ToValidUTF8(string(result[1:]), "\uFFFD")
		return nil, fmt.Errorf("%w: %s", ErrApplyParams, msg)
	}
	return result[1:], nil
}

// Evaluate implements Engine.
func (e *Evaluator) Evaluate(ctx context.Context, req EngineRequest) ([]RedeemerRecord, error) {
	inst, err := e.instantiate(ctx)
	if err != nil {
		return nil, err
	}
	defer inst.close(ctx)

	utxos := serializeUTxOs(req.UTxOs)

	txPtr, err := inst.write(ctx, req.Tx)
	if err != nil {
		return nil, err
	}
	utxosPtr, err := inst.write(ctx, utxos)
	if err != nil {
		return nil, err
	}
	costModels := req.CostModels.Bytes()
	costModelsPtr, err := inst.write(ctx, costModels)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("evaluating transaction",
		zap.Int("tx_size", len(req.Tx)),
		zap.Int("utxo_count", len(req.UTxOs)),
		zap.Bool("cost_models", req.CostModels.Present()),
		zap.Bool("phase_one", req.RunPhaseOne))

	result, err := inst.call(ctx, exportEvalPhaseTwo,
		uint64(txPtr), uint64(len(req.Tx)),
		uint64(utxosPtr), uint64(len(utxos)),
		uint64(costModelsPtr), uint64(len(costModels)), boolArg(req.CostModels.Present()),
		req.Budget.CPU, req.Budget.Mem,
		req.SlotConfig.ZeroTime, req.SlotConfig.ZeroSlot, uint64(req.SlotConfig.SlotLength),
		boolArg(req.RunPhaseOne),
	)
	if err != nil {
		return nil, err
	}

	if result[0] == 0 {
		var records []RedeemerRecord
		decoder := apolloCbor.NewDecoder(bytes.NewReader(result[1:]))
		if err := decoder.Decode(&records); err != nil {
			return nil, fmt.Errorf("failed to decode evaluation result: %w", err)
		}
		return records, nil
	}

	var evalError EvalError
	if err := apolloCbor.Unmarshal(result[1:], &evalError); err != nil {
		return nil, fmt.Errorf("failed to decode evaluation error: %w", err)
	}
	return nil, &EvaluationError{EvalError: evalError}
}

func (e *Evaluator) instantiate(ctx context.Context) (*instance, error) {
	mod, err := e.runtime.InstantiateModule(ctx, e.compiled, e.modConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate evaluator module: %w", err)
	}
	return &instance{module: mod, alloc: mod.ExportedFunction(exportAlloc)}, nil
}

// instance is one call's view of the evaluator. Closing it drops the guest
// memory, and with it everything alloc handed out during the call.
type instance struct {
	module api.Module
	alloc  api.Function
}

func (in *instance) close(ctx context.Context) {
	in.module.Close(ctx)
}

// write copies data into freshly allocated guest memory and returns its
// address. Empty buffers are not allocated and get address 0.
func (in *instance) write(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := in.alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%w: alloc of %d bytes: %w", ErrMemory, len(data), err)
	}
	ptr := uint32(results[0])
	if !in.module.Memory().Write(ptr, data) {
		return 0, fmt.Errorf("%w: write of %d bytes at %#x out of range", ErrMemory, len(data), ptr)
	}
	return ptr, nil
}

// call invokes an exported function that returns a packed ptr/len pair and
// returns a copy of the bytes it points at. The copy is never empty.
func (in *instance) call(ctx context.Context, name string, args ...uint64) ([]byte, error) {
	results, err := in.module.ExportedFunction(name).Call(ctx, args...)
	if err != nil {
		return nil, err
	}
	if len(results) < 1 {
		return nil, fmt.Errorf("no results from %s", name)
	}

	resultPtr, resultLen := unpackPtrLen(results[0])
	resultBytes, ok := in.module.Memory().Read(resultPtr, resultLen)
	if !ok {
		return nil, fmt.Errorf("%w: result of %s at %#x+%d out of range", ErrMemory, name, resultPtr, resultLen)
	}
	if len(resultBytes) == 0 {
		return nil, ErrEmptyResult
	}

	// Read returns a view of guest memory, which goes away with the instance.
	return ownBytes(resultBytes), nil
}

func boolArg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
