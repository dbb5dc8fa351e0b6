package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	pkgconfig "github.com/goran-ethernal/ChainMapper/pkg/config"
	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

type decodeFunc func(data []byte, cfg *pkgconfig.Config) error

var decoders = map[string]struct {
	format string
	decode decodeFunc
}{
	".yaml": {"YAML", func(b []byte, c *pkgconfig.Config) error { return yaml.Unmarshal(b, c) }},
	".yml":  {"YAML", func(b []byte, c *pkgconfig.Config) error { return yaml.Unmarshal(b, c) }},
	".json": {"JSON", func(b []byte, c *pkgconfig.Config) error { return json.Unmarshal(b, c) }},
	".toml": {"TOML", func(b []byte, c *pkgconfig.Config) error { return toml.Unmarshal(b, c) }},
}

// LoadFromFile reads a .yaml, .yml, .json or .toml configuration, expands ${VAR} references to
// environment variables, applies defaults and validates the result.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("unsupported config file format: %q (supported: .yaml, .yml, .json, .toml)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := dec.decode([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s config: %w", dec.format, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// GenerateSchema returns the indented JSON schema of the configuration file.
func GenerateSchema() ([]byte, error) {
	reflector := &jsonschema.Reflector{
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}

	schema := reflector.Reflect(&pkgconfig.Config{})
	schema.Title = "ChainMapper configuration"

	return json.MarshalIndent(schema, "", "  ")
}
