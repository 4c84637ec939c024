package util

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RenderJSON re-serializes a raw JSON document with sorted object keys and
// two-space indentation so the CLI's output is deterministic regardless of
// the key order the API returned.
func RenderJSON(raw []byte) (string, error) {
	var decoded any
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response body: %w", err)
	}

	out, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return "", fmt.Errorf("render response body: %w", err)
	}
	return string(out), nil
}
