package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	hexFile := filepath.Join(dir, "tx.hex")
	rawFile := filepath.Join(dir, "tx.cbor")
	require.NoError(t, os.WriteFile(hexFile, []byte("84a0a0f5f6\n"), 0o600))
	require.NoError(t, os.WriteFile(rawFile, []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}, 0o600))

	want := []byte{0x84, 0xa0, 0xa0, 0xf5, 0xf6}
	for _, arg := range []string{"84a0a0f5f6", " 84a0a0f5f6 ", "@" + hexFile, "@" + rawFile} {
		got, err := readInput(arg)
		require.NoError(t, err, arg)
		assert.Equal(t, want, got, arg)
	}

	_, err := readInput("zz")
	assert.Error(t, err)
	_, err = readInput("@" + filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"serve", "apply", "eval"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	flags := &globalFlags{wasmFile: "uplc.wasm", network: "preprod"}
	cfg, err := flags.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "uplc.wasm", cfg.Engine.WasmFile)
	assert.Equal(t, uint64(86400), cfg.Slots().ZeroSlot)

	_, err = (&globalFlags{}).loadConfig()
	assert.Error(t, err)
}
