package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	pkgconfig "github.com/estatechain/indexer/pkg/config"
)

// decodeFunc unmarshals one config format into the typed tree.
type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

// LoadFromFile reads, decodes, defaults and validates an indexer config,
// picking the format by file extension (.yaml/.yml, .json or .toml). Any
// error here aborts process start.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	decode, err := decoderFor(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &pkgconfig.Config{}
	if err := decode(data, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func decoderFor(path string) (decodeFunc, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return decodeYAML, nil
	case ".json":
		return decodeJSON, nil
	case ".toml":
		return decodeTOML, nil
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", filepath.Ext(path))
	}
}

func decodeYAML(data []byte, cfg *pkgconfig.Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func decodeJSON(data []byte, cfg *pkgconfig.Config) error {
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return nil
}

func decodeTOML(data []byte, cfg *pkgconfig.Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return nil
}
