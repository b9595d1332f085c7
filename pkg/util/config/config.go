package config

import (
	"encoding/json"
	"io"
	"os"

	"github.com/caarlos0/env/v6"
	"github.com/pkg/errors"

	"nereus/pkg/util/maps"
)

// LoadFile decodes the named profile from the given profiles file into v,
// then applies environment variable overrides.
// An empty path skips the file and only parses the environment.
func LoadFile(path, profile string, v interface{}) error {
	if path == "" {
		return errors.Wrap(env.Parse(v), "cannot parse env")
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "cannot open file %s", path)
	}
	defer f.Close()
	return Load(f, profile, v)
}

// Load decodes the named profile from the given reader into v, then applies
// environment variable overrides. The reader holds a JSON document whose
// top-level keys are profile names.
func Load(in io.Reader, profile string, v interface{}) error {
	profiles := make(map[string]interface{})
	if err := json.NewDecoder(in).Decode(&profiles); err != nil {
		return errors.Wrap(err, "cannot decode profiles")
	}

	p, exists := profiles[profile]
	if !exists {
		return errors.Errorf("unknown profile %s", profile)
	}
	if err := maps.Decode(p, v); err != nil {
		return errors.Wrapf(err, "cannot decode profile %s", profile)
	}

	// Env overrides profile values
	if err := env.Parse(v); err != nil {
		return errors.Wrap(err, "cannot parse env")
	}
	return nil
}
