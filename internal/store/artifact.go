package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/abhisek/misconcept/internal/diagnosis"
	"github.com/abhisek/misconcept/internal/embedding"
	"github.com/abhisek/misconcept/internal/irt"
)

// Artifact kinds.
const (
	KindTaxonomy    = "taxonomy"
	KindCalibration = "calibration"
	KindGate        = "gate"
)

const artifactVersion = 1

// Artifact is the portable JSON form of a taxonomy generation, an item
// calibration or an embedding gate. Exactly one payload is set.
type Artifact struct {
	Kind        string                `json:"kind"`
	Version     int                   `json:"version"`
	Taxonomy    *diagnosis.Generation `json:"taxonomy,omitempty"`
	Calibration *irt.Calibration      `json:"calibration,omitempty"`
	Gate        *embedding.Gate       `json:"gate,omitempty"`
}

var artifactSchema = map[string]any{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type":    "object",
	"required": []any{"kind", "version"},
	"properties": map[string]any{
		"kind":    map[string]any{"enum": []any{KindTaxonomy, KindCalibration, KindGate}},
		"version": map[string]any{"const": artifactVersion},
	},
	"oneOf": []any{
		map[string]any{
			"properties": map[string]any{"kind": map[string]any{"const": KindTaxonomy}},
			"required":   []any{"taxonomy"},
		},
		map[string]any{
			"properties": map[string]any{"kind": map[string]any{"const": KindCalibration}},
			"required":   []any{"calibration"},
		},
		map[string]any{
			"properties": map[string]any{"kind": map[string]any{"const": KindGate}},
			"required":   []any{"gate"},
		},
	},
	"$defs": map[string]any{
		"vector": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"type": "number"},
		},
		"matrix": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"$ref": "#/$defs/vector"},
		},
	},
	"dependentSchemas": map[string]any{
		"taxonomy": map[string]any{
			"properties": map[string]any{
				"taxonomy": map[string]any{
					"type":     "object",
					"required": []any{"id", "created_at", "dimension", "clusters"},
					"properties": map[string]any{
						"id":         map[string]any{"type": "string", "format": "uuid"},
						"created_at": map[string]any{"type": "string"},
						"dimension":  map[string]any{"type": "integer", "minimum": 0},
						"clusters": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":     "object",
								"required": []any{"cluster_id", "centroid"},
								"properties": map[string]any{
									"cluster_id": map[string]any{"type": "integer", "minimum": 0},
									"label":      map[string]any{"type": "string"},
									"size":       map[string]any{"type": "integer", "minimum": 0},
									"cohesion":   map[string]any{"type": "number"},
									"centroid":   map[string]any{"$ref": "#/$defs/vector"},
								},
							},
						},
						"item_labels": map[string]any{
							"type": "object",
							"additionalProperties": map[string]any{
								"type":  "array",
								"items": map[string]any{"type": "string", "minLength": 1},
							},
						},
					},
				},
			},
		},
		"calibration": map[string]any{
			"properties": map[string]any{
				"calibration": map[string]any{
					"type":     "object",
					"required": []any{"id", "created_at", "items"},
					"properties": map[string]any{
						"id":         map[string]any{"type": "string", "format": "uuid"},
						"created_at": map[string]any{"type": "string"},
						"items": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type":     "object",
								"required": []any{"item_id", "a", "b"},
								"properties": map[string]any{
									"item_id": map[string]any{"type": "string", "minLength": 1},
									"a":       map[string]any{"type": "number"},
									"b":       map[string]any{"type": "number"},
								},
							},
						},
					},
				},
			},
		},
		"gate": map[string]any{
			"properties": map[string]any{
				"gate": map[string]any{
					"type":     "object",
					"required": []any{"id", "created_at", "w1", "b1", "w2", "b2"},
					"properties": map[string]any{
						"id":         map[string]any{"type": "string", "format": "uuid"},
						"created_at": map[string]any{"type": "string"},
						"w1":         map[string]any{"$ref": "#/$defs/matrix"},
						"b1":         map[string]any{"$ref": "#/$defs/vector"},
						"w2":         map[string]any{"$ref": "#/$defs/matrix"},
						"b2":         map[string]any{"$ref": "#/$defs/vector"},
					},
				},
			},
		},
	},
}

var compiledArtifactSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	// Round-trip through JSON so the compiler sees plain decoded values.
	raw, err := json.Marshal(artifactSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal artifact schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse artifact schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	const url = "schema://artifact.json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add resource: %w", err)
	}
	return c.Compile(url)
})

// WriteTaxonomy writes g as a taxonomy artifact.
func WriteTaxonomy(w io.Writer, g *diagnosis.Generation) error {
	return writeArtifact(w, Artifact{Kind: KindTaxonomy, Version: artifactVersion, Taxonomy: g})
}

// WriteCalibration writes the item parameters of c as a calibration
// artifact. Student abilities are not exported.
func WriteCalibration(w io.Writer, c *irt.Calibration) error {
	items := *c
	items.Abilities = nil
	return writeArtifact(w, Artifact{Kind: KindCalibration, Version: artifactVersion, Calibration: &items})
}

// WriteGate writes g as a gate artifact.
func WriteGate(w io.Writer, g *embedding.Gate) error {
	return writeArtifact(w, Artifact{Kind: KindGate, Version: artifactVersion, Gate: g})
}

func writeArtifact(w io.Writer, a Artifact) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(a); err != nil {
		return fmt.Errorf("encode %s artifact: %w", a.Kind, err)
	}
	return nil
}

// ReadArtifact decodes and validates an artifact. Structural problems are
// reported by the JSON Schema; semantic ones (mismatched centroid
// dimensions, duplicate IDs, gate layers that do not chain) by the domain
// constructors.
func ReadArtifact(r io.Reader) (*Artifact, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	schema, err := compiledArtifactSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("artifact validation failed: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}

	if a.Calibration != nil {
		c, err := irt.RestoreCalibration(a.Calibration.ID, a.Calibration.CreatedAt, a.Calibration.Items)
		if err != nil {
			return nil, fmt.Errorf("restore calibration: %w", err)
		}
		c.Iterations = a.Calibration.Iterations
		c.Converged = a.Calibration.Converged
		c.MaxChange = a.Calibration.MaxChange
		c.LogLikelihood = a.Calibration.LogLikelihood
		c.Warnings = a.Calibration.Warnings
		a.Calibration = c
	}
	if a.Gate != nil {
		if err := a.Gate.Validate(); err != nil {
			return nil, fmt.Errorf("gate: %w", err)
		}
	}
	return &a, nil
}

// Import stores an artifact in the matching repository.
func (s *Store) Import(ctx context.Context, a *Artifact) error {
	switch a.Kind {
	case KindTaxonomy:
		return s.GenerationRepo().Save(ctx, a.Taxonomy)
	case KindCalibration:
		return s.CalibrationRepo().Save(ctx, a.Calibration)
	case KindGate:
		return s.GateRepo().Save(ctx, a.Gate)
	default:
		return fmt.Errorf("unknown artifact kind %q", a.Kind)
	}
}
