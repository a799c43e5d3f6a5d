// Package sources loads the registry of known content producers from a YAML
// file. The clustering engine uses source metadata when scoring rule-based
// similarity, and ingestion uses it to validate incoming items.
package sources

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source describes one content producer.
type Source struct {
	Name     string  `yaml:"name"`
	Category string  `yaml:"category"`
	Weight   float64 `yaml:"weight"`
}

// Registry is an immutable lookup of sources keyed by name.
type Registry struct {
	byName map[string]Source
}

type registryFile struct {
	Sources []Source `yaml:"sources"`
}

// Load parses a registry file. A missing path yields an empty registry so a
// deployment without a sources file still runs.
func Load(path string) (*Registry, error) {
	if path == "" {
		return &Registry{byName: map[string]Source{}}, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Registry{byName: map[string]Source{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources file: %w", err)
	}

	byName := make(map[string]Source, len(file.Sources))
	for _, source := range file.Sources {
		name := strings.TrimSpace(source.Name)
		if name == "" {
			return nil, fmt.Errorf("sources file %s: source with empty name", path)
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("sources file %s: duplicate source %q", path, name)
		}
		if source.Weight == 0 {
			source.Weight = 1.0
		}
		source.Name = name
		byName[name] = source
	}

	return &Registry{byName: byName}, nil
}

// Lookup returns the source with the given name.
func (r *Registry) Lookup(name string) (Source, bool) {
	source, ok := r.byName[name]
	return source, ok
}

// Weight returns the registered weight for a source, defaulting to 1.0 for
// unknown sources.
func (r *Registry) Weight(name string) float64 {
	if source, ok := r.byName[name]; ok {
		return source.Weight
	}
	return 1.0
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len reports how many sources are registered.
func (r *Registry) Len() int {
	return len(r.byName)
}
