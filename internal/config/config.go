// Package config reads optional YAML settings files. Keys are flag names,
// so a file can set anything the command line can.
package config

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// File holds settings keyed by flag name. Values are scalars or lists of
// scalars.
type File map[string]any

// Load reads the YAML file at path.
func Load(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document. An empty document yields an empty File.
func Parse(r io.Reader) (File, error) {
	cfg := File{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// Apply sets each flag named in f that was not given on the command line.
// Unknown keys are an error. The flag named by skip, normally the one
// pointing at the file, may not be set from it.
func (f File) Apply(fs *pflag.FlagSet, skip string) error {
	for _, name := range slices.Sorted(maps.Keys(f)) {
		fl := fs.Lookup(name)
		if fl == nil || name == skip {
			return fmt.Errorf("unknown setting %q", name)
		}
		if fl.Changed {
			continue
		}

		v, err := flagValue(f[name])
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := fs.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// flagValue renders a YAML value as flag text. Lists become comma
// separated, as slice flags expect.
func flagValue(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			s, err := flagValue(e)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	case File, map[string]any, map[any]any:
		// yaml.v3 decodes nested mappings into the parent's map type.
		return "", errors.New("nested settings are not supported")
	default:
		return fmt.Sprint(v), nil
	}
}
