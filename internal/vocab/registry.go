// Package vocab manages the observation-type vocabulary.
package vocab

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Built-in vocabulary, used when no YAML file overrides it. The first type
// is the parse fallback for unrecognized values.
var (
	defaultTypes = []ObservationType{
		{ID: "discovery", Description: "Something learned about how the code works"},
		{ID: "bugfix", Description: "A defect found and corrected"},
		{ID: "feature", Description: "New capability added"},
		{ID: "refactor", Description: "Restructuring without behavior change"},
		{ID: "change", Description: "Any other code or config modification"},
		{ID: "decision", Description: "A choice made between alternatives"},
	}

	defaultConcepts = []string{
		"how-it-works",
		"why-it-exists",
		"what-changed",
		"problem-solution",
		"gotcha",
		"pattern",
		"trade-off",
	}
)

// ObservationType describes one entry in the type vocabulary.
type ObservationType struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
}

// Config is the top-level YAML structure.
type Config struct {
	Types    []ObservationType `yaml:"types"`
	Concepts []string          `yaml:"concepts"`
}

// Registry holds the active vocabulary. A Registry is never empty: missing
// or partial YAML falls back to the built-in vocabulary, so parsing always
// has a valid fallback type.
type Registry struct {
	types    []ObservationType
	concepts []string
	byID     map[string]*ObservationType
}

// Default returns a registry with the built-in vocabulary.
func Default() *Registry {
	return build(defaultTypes, defaultConcepts)
}

// Load reads the YAML file at path. A missing file is not an error, it
// yields the built-in vocabulary. A file that defines no types keeps the
// built-in types; same for concepts.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	types := cfg.Types
	if len(types) == 0 {
		types = defaultTypes
	}
	concepts := cfg.Concepts
	if len(concepts) == 0 {
		concepts = defaultConcepts
	}
	return build(types, concepts), nil
}

func build(types []ObservationType, concepts []string) *Registry {
	r := &Registry{
		types:    types,
		concepts: concepts,
		byID:     make(map[string]*ObservationType, len(types)),
	}
	for i := range r.types {
		r.byID[r.types[i].ID] = &r.types[i]
	}
	return r
}

// TypeIDs returns the valid type ids in definition order.
func (r *Registry) TypeIDs() []string {
	ids := make([]string, len(r.types))
	for i, t := range r.types {
		ids[i] = t.ID
	}
	return ids
}

// Concepts returns the valid concept ids.
func (r *Registry) Concepts() []string {
	out := make([]string, len(r.concepts))
	copy(out, r.concepts)
	return out
}

// FallbackType returns the type used for unrecognized values.
func (r *Registry) FallbackType() string {
	return r.types[0].ID
}

// IsValidType reports whether id is in the vocabulary.
func (r *Registry) IsValidType(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Normalize coerces a parsed type to the vocabulary, falling back when the
// value is unknown.
func (r *Registry) Normalize(id string) string {
	if r.IsValidType(id) {
		return id
	}
	return r.FallbackType()
}
