package sidequest

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Sidequests []*Definition `yaml:"sidequests"`
}

// LoadCatalog reads sidequest definitions from a YAML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sidequest catalog: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	decoder.KnownFields(true)
	var file catalogFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("parsing sidequest catalog: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("parsing sidequest catalog: expected single document")
	}

	for _, def := range file.Sidequests {
		if def.ID == "" {
			return nil, fmt.Errorf("sidequest with empty id")
		}
		if len(def.ToSteps()) == 0 {
			return nil, fmt.Errorf("sidequest %s defines no steps", def.ID)
		}
		switch def.Return.Mode {
		case ReturnResume, ReturnHalt:
		case ReturnBounceTo:
			if def.Return.TargetNode == "" {
				return nil, fmt.Errorf("sidequest %s: bounce_to requires target_node", def.ID)
			}
		default:
			return nil, fmt.Errorf("sidequest %s: unknown return mode %q", def.ID, def.Return.Mode)
		}
	}
	return NewCatalog(file.Sidequests...), nil
}
