package manifest

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a manifest seed file:
//
//	services:
//	  billing:
//	    - field: vat
//	      required: true
//	      type: string
//	    - field: region
//	      required: true
//	      type: string
//	      default: EU
type SeedFile struct {
	Services map[string][]FieldSpec `yaml:"services"`
}

// ParseSeed decodes a seed file.
func ParseSeed(data []byte) (*SeedFile, error) {
	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse manifest seed: %w", err)
	}
	return &seed, nil
}

// LoadFile reads a YAML seed file and registers every service in it, in
// service id order. It returns the number of services registered.
func (r *Registry) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read manifest seed: %w", err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return 0, err
	}
	return r.Seed(seed)
}

// Seed registers every service in seed.
func (r *Registry) Seed(seed *SeedFile) (int, error) {
	ids := make([]string, 0, len(seed.Services))
	for id := range seed.Services {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		if _, err := r.Register(id, seed.Services[id]); err != nil {
			return 0, fmt.Errorf("seed service %s: %w", id, err)
		}
	}
	return len(ids), nil
}
