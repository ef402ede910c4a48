package uplcgate

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EngineConfig holds configuration parameters for the Evaluator.
type EngineConfig struct {
	WasmFile            string `yaml:"wasm_file" validate:"required"` // Path to the evaluator WASM module
	MemoryLimitPages    uint32 `yaml:"memory_limit_pages" validate:"lte=65536"`
	CompilationCacheDir string `yaml:"compilation_cache_dir"`
}

// Config is the file-level configuration of a gateway deployment.
type Config struct {
	Engine EngineConfig `yaml:"engine"`

	Network    string      `yaml:"network" validate:"omitempty,oneof=mainnet preprod preview"`
	SlotConfig *SlotConfig `yaml:"slot_config"`

	MaxTxExSteps uint64 `yaml:"max_tx_ex_steps" validate:"gt=0"` // Maximum transaction execution steps
	MaxTxExMem   uint64 `yaml:"max_tx_ex_mem" validate:"gt=0"`   // Maximum transaction execution memory

	MaxFrameSize uint32 `yaml:"max_frame_size" validate:"gt=0"`
}

// Mainnet protocol limits for a single transaction.
const (
	DefaultMaxTxExSteps = 10_000_000_000
	DefaultMaxTxExMem   = 14_000_000
)

// DefaultMaxFrameSize bounds a single host protocol frame (16MB).
const DefaultMaxFrameSize = 16 * 1024 * 1024

var networkSlotConfigs = map[string]SlotConfig{
	"mainnet": {ZeroTime: 1596059091000, ZeroSlot: 4492800, SlotLength: 1000},
	"preprod": {ZeroTime: 1655769600000, ZeroSlot: 86400, SlotLength: 1000},
	"preview": {ZeroTime: 1666656000000, ZeroSlot: 0, SlotLength: 1000},
}

// NetworkSlotConfig returns the slot config of a public Cardano network.
func NetworkSlotConfig(network string) (SlotConfig, bool) {
	sc, ok := networkSlotConfigs[network]
	return sc, ok
}

// DefaultConfig returns a mainnet configuration without an engine path.
func DefaultConfig() Config {
	return Config{
		Network:      "mainnet",
		MaxTxExSteps: DefaultMaxTxExSteps,
		MaxTxExMem:   DefaultMaxTxExMem,
		MaxFrameSize: DefaultMaxFrameSize,
	}
}

// LoadConfig reads a YAML config file on top of DefaultConfig and validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and that a slot config can be derived.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SlotConfig == nil && c.Network == "" {
		return fmt.Errorf("invalid config: one of network or slot_config is required")
	}
	return nil
}

// Budget returns the configured per-transaction budget.
func (c Config) Budget() Budget {
	return Budget{Mem: c.MaxTxExMem, CPU: c.MaxTxExSteps}
}

// Slots returns the explicit slot config, or the network preset.
func (c Config) Slots() SlotConfig {
	if c.SlotConfig != nil {
		return *c.SlotConfig
	}
	sc, _ := NetworkSlotConfig(c.Network)
	return sc
}
