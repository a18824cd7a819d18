package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedFile is the on-disk format of bootstrap rules.
//
//	version: 1
//	rules:
//	  - name: orders_pk_unique
//	    schema: raw_data
//	    table: orders
//	    column: order_id
//	    check: duplicates
type SeedFile struct {
	Version int       `yaml:"version"`
	Rules   []NewRule `yaml:"rules"`
}

// LoadSeedFile reads rules from a YAML file. Unknown keys are rejected.
func LoadSeedFile(path string) ([]NewRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	rules, err := ParseSeedRules(data)
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return rules, nil
}

// ParseSeedRules decodes a seed document.
func ParseSeedRules(data []byte) ([]NewRule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f SeedFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse seed rules: %w", err)
	}
	if f.Version != 0 && f.Version != 1 {
		return nil, fmt.Errorf("unsupported seed file version %d", f.Version)
	}
	return f.Rules, nil
}
