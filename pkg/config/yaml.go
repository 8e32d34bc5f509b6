package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes the YAML file at path into target. Environment
// references like ${HOME} are expanded first and unknown keys are rejected.
func LoadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read YAML file %s: %w", path, err)
	}
	return DecodeYAML(data, target)
}

// DecodeYAML decodes YAML data into target with the same rules as LoadYAML
func DecodeYAML(data []byte, target any) error {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(target); err != nil && err != io.EOF {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return nil
}

// WriteYAML encodes cfg as YAML to w
func WriteYAML(w io.Writer, cfg any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}
