package flows

// Station is a named execution role (agent persona) that nodes and
// graph-extension proposals can target.
type Station struct {
	// Key is the station identifier.
	Key string `json:"key" yaml:"key"`

	// Name is the human-readable station name.
	Name string `json:"name,omitempty" yaml:"name"`

	// SystemPrompt is the persona prompt applied to steps at this station.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt"`

	// Model optionally pins a model for this station.
	Model string `json:"model,omitempty" yaml:"model"`
}

// StationLibrary is the set of stations a flow may route to. Graph
// extension proposals are validated against it: a target not in the
// library is rejected outright.
type StationLibrary struct {
	stations map[string]Station
}

// NewStationLibrary builds a library from station definitions.
func NewStationLibrary(stations ...Station) *StationLibrary {
	lib := &StationLibrary{stations: make(map[string]Station, len(stations))}
	for _, s := range stations {
		lib.stations[s.Key] = s
	}
	return lib
}

// Has reports whether the library contains the station.
func (l *StationLibrary) Has(key string) bool {
	if l == nil {
		return false
	}
	_, ok := l.stations[key]
	return ok
}

// Get returns the station and whether it exists.
func (l *StationLibrary) Get(key string) (Station, bool) {
	if l == nil {
		return Station{}, false
	}
	s, ok := l.stations[key]
	return s, ok
}

// Keys returns all station keys, unordered.
func (l *StationLibrary) Keys() []string {
	if l == nil {
		return nil
	}
	keys := make([]string, 0, len(l.stations))
	for k := range l.stations {
		keys = append(keys, k)
	}
	return keys
}

// NodeTemplate is a reusable node definition that graph-extension
// proposals can reference instead of a bare station.
type NodeTemplate struct {
	// Key is the template identifier.
	Key string `json:"key" yaml:"key"`

	// Station is the execution role for nodes built from this template.
	Station string `json:"station" yaml:"station"`

	// Prompt is the work instruction for nodes built from this template.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`
}

// TemplateLibrary holds the node templates available to a flow.
type TemplateLibrary struct {
	templates map[string]NodeTemplate
}

// NewTemplateLibrary builds a library from template definitions.
func NewTemplateLibrary(templates ...NodeTemplate) *TemplateLibrary {
	lib := &TemplateLibrary{templates: make(map[string]NodeTemplate, len(templates))}
	for _, t := range templates {
		lib.templates[t.Key] = t
	}
	return lib
}

// Get returns the template and whether it exists.
func (l *TemplateLibrary) Get(key string) (NodeTemplate, bool) {
	if l == nil {
		return NodeTemplate{}, false
	}
	t, ok := l.templates[key]
	return t, ok
}
