package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LoadJSON decodes the JSON file at path into target. Environment
// references are expanded first and unknown fields are rejected.
func LoadJSON(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file %s: %w", path, err)
	}
	return DecodeJSON(data, target)
}

// DecodeJSON decodes JSON data into target with the same rules as LoadJSON
func DecodeJSON(data []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil && err != io.EOF {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// WriteJSON encodes cfg as indented JSON to w
func WriteJSON(w io.Writer, cfg any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return nil
}
