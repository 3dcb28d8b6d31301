package policy

import (
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema validates policy documents at load time. Thresholds must
// stay inside the 0–10 scoring scale; malformed documents are rejected at
// startup rather than misread at decision time.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"version": {"type": "string"},
		"autonomy_matrix": {
			"type": "object",
			"additionalProperties": {"type": "number", "minimum": 0, "maximum": 10}
		},
		"prohibited_practices": {
			"type": "array",
			"items": {"type": "string"}
		}
	},
	"required": ["autonomy_matrix"]
}`

var compiledSchema = jsonschema.MustCompileString("policy.schema.json", documentSchema)

// Load reads a policy document from a YAML file and validates it against
// the policy schema.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML policy document.
func Parse(data []byte) (*Policy, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("policy: parse yaml: %w", err)
	}
	if err := compiledSchema.Validate(normalizeYAML(raw)); err != nil {
		return nil, fmt.Errorf("policy: schema validation: %w", err)
	}

	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("policy: decode: %w", err)
	}
	return &p, nil
}

// normalizeYAML converts YAML-decoded values into the shapes the JSON
// schema validator expects (string keys, json.Number-free primitives).
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAML(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAML(item)
		}
		return out
	case int:
		return float64(val)
	default:
		return val
	}
}
