package config

import (
	"os"

	"github.com/driftdata/drift/pkg/errors"
	gojson "github.com/goccy/go-json"
)

// Load reads a SyncConfig from a JSON file, applies defaults, and
// validates it. Errors name the offending file or field.
func Load(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file "+path)
	}

	var cfg SyncConfig
	if err := gojson.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file "+path)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
