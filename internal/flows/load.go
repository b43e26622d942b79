package flows

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Bundle is a flow definition file: the graphs plus the station and
// template libraries they resolve against.
type Bundle struct {
	Flows     []Graph        `yaml:"flows"`
	Stations  []Station      `yaml:"stations"`
	Templates []NodeTemplate `yaml:"templates"`
}

// LoadBundle reads and validates a flow definition file. ${VAR}
// references are expanded from the environment before parsing and
// unknown keys are rejected.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading flow bundle: %w", err)
	}
	return ParseBundle([]byte(os.ExpandEnv(string(data))))
}

// ParseBundle parses flow definition YAML.
func ParseBundle(data []byte) (*Bundle, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	var bundle Bundle
	if err := decoder.Decode(&bundle); err != nil {
		return nil, fmt.Errorf("parsing flow bundle: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parsing flow bundle: expected single document")
	}

	if len(bundle.Flows) == 0 {
		return nil, fmt.Errorf("flow bundle defines no flows")
	}
	stations := NewStationLibrary(bundle.Stations...)
	seen := make(map[string]bool, len(bundle.Flows))
	for i := range bundle.Flows {
		g := &bundle.Flows[i]
		if err := g.Validate(); err != nil {
			return nil, err
		}
		if seen[g.Key] {
			return nil, fmt.Errorf("duplicate flow key %q", g.Key)
		}
		seen[g.Key] = true
		for _, n := range g.Nodes {
			if n.Station != "" && !stations.Has(n.Station) {
				return nil, fmt.Errorf("flow %s: node %s references unknown station %q", g.Key, n.ID, n.Station)
			}
		}
	}
	for _, t := range bundle.Templates {
		if !stations.Has(t.Station) {
			return nil, fmt.Errorf("template %s references unknown station %q", t.Key, t.Station)
		}
	}
	return &bundle, nil
}

// Graphs returns the bundle's flows keyed by flow key.
func (b *Bundle) Graphs() map[string]*Graph {
	out := make(map[string]*Graph, len(b.Flows))
	for i := range b.Flows {
		out[b.Flows[i].Key] = &b.Flows[i]
	}
	return out
}

// StationLibrary builds the bundle's station library.
func (b *Bundle) StationLibrary() *StationLibrary {
	return NewStationLibrary(b.Stations...)
}

// TemplateLibrary builds the bundle's template library.
func (b *Bundle) TemplateLibrary() *TemplateLibrary {
	return NewTemplateLibrary(b.Templates...)
}
