package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// readInput decodes a command line value: hex text, or "@path" naming a file
// holding either hex text or raw bytes.
func readInput(arg string) ([]byte, error) {
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		trimmed := bytes.TrimSpace(data)
		if decoded, err := hex.DecodeString(string(trimmed)); err == nil {
			return decoded, nil
		}
		return data, nil
	}

	decoded, err := hex.DecodeString(strings.TrimSpace(arg))
	if err != nil {
		return nil, fmt.Errorf("not valid hex: %w", err)
	}
	return decoded, nil
}
