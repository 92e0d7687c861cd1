package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a ServiceSpec from a YAML file and validates it. Unknown fields
// are rejected so typos surface instead of silently defaulting.
func Load(path string) (*ServiceSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open service spec %q: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)

	var s ServiceSpec
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse service spec %q: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
