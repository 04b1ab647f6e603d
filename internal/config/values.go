package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ToMap converts the config to a nested map via its JSON representation.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, err
	}
	return nested, nil
}

// ListValues returns the config as a flat dot-keyed map. When mask is true,
// secret values are masked for display.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	nested, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(nested)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue reads one dot-keyed value from the config file. Secrets are
// masked.
func GetValue(path, key string) (any, error) {
	nested, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	flat := Flatten(nested)
	val, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	if IsSecretKey(key) {
		masked := MaskSecrets(map[string]any{key: val})
		return masked[key], nil
	}
	return val, nil
}

// SetValue writes one dot-keyed value to the config file. Values that parse
// as JSON literals (numbers, booleans) are stored typed; everything else is
// stored as a string.
func SetValue(path, key, value string) error {
	nested, err := readRaw(path)
	if err != nil {
		return err
	}
	flat := Flatten(nested)
	if _, ok := flat[key]; !ok {
		return fmt.Errorf("unknown config key: %s", key)
	}

	var typed any = value
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err == nil {
		switch parsed.(type) {
		case float64, bool:
			typed = parsed
		}
	}
	flat[key] = typed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var nested map[string]any
	if err := json.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return nested, nil
}
