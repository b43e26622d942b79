package engines

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/flowline/pkg/models"
)

// Model output is untrusted: handoff envelopes and routing signals are
// schema-validated before the engine hands them to the navigator.

const envelopeSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "string", "enum": ["complete", "partial", "blocked", "failed"]},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "summary": {"type": "string"},
    "proposed_next": {"type": "string"},
    "artifacts": {"type": "array", "items": {"type": "string"}},
    "extra": {"type": "object"}
  }
}`

const signalSchema = `{
  "type": "object",
  "required": ["decision"],
  "properties": {
    "decision": {"type": "string", "enum": ["next", "loop", "branch", "done", "extend"]},
    "target": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 1},
    "escalate_to_human": {"type": "boolean"},
    "reason": {"type": "string"}
  }
}`

type schemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	signal   *jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		env, err := jsonschema.CompileString("handoff_envelope", envelopeSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		sig, err := jsonschema.CompileString("routing_signal", signalSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.envelope = env
		schemas.signal = sig
	})
	return schemas.initErr
}

// ExtractJSON returns the first balanced top-level JSON object in text.
// Model output often wraps JSON in prose or code fences.
func ExtractJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func validate(schema *jsonschema.Schema, raw string) error {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

// ParseEnvelope extracts and validates a handoff envelope from raw
// model output.
func ParseEnvelope(text string) (*models.HandoffEnvelope, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in finalize output")
	}
	if err := validate(schemas.envelope, raw); err != nil {
		return nil, fmt.Errorf("handoff envelope rejected: %w", err)
	}
	var env models.HandoffEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// ParseSignal extracts and validates a routing signal from raw model
// output.
func ParseSignal(text string) (*models.RoutingSignal, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}
	raw, ok := ExtractJSON(text)
	if !ok {
		return nil, fmt.Errorf("no JSON object in route output")
	}
	if err := validate(schemas.signal, raw); err != nil {
		return nil, fmt.Errorf("routing signal rejected: %w", err)
	}
	var sig models.RoutingSignal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return nil, err
	}
	return &sig, nil
}
