package main

import (
	"encoding/json"
	"fmt"
	"io"
)

// writeJSON encodes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeRaw pretty-prints a raw JSON document, falling back to the bytes as-is.
func writeRaw(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	return writeJSON(w, v)
}

// parsePayload validates a JSON argument; empty input means no payload.
func parsePayload(arg string) (json.RawMessage, error) {
	if arg == "" {
		return nil, nil
	}
	raw := json.RawMessage(arg)
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON: %s", arg)
	}
	return raw, nil
}
