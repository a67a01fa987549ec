package diagnosis

import "github.com/abhisek/misconcept/internal/llm"

// GuidanceSchema defines the JSON schema for LLM answer-improvement suggestions.
var GuidanceSchema = &llm.Schema{
	Name:        "guidance",
	Description: "Short actionable suggestions to improve a student's free-text answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"suggestions": map[string]any{
				"type":        "array",
				"minItems":    1,
				"maxItems":    4,
				"description": "Up to four concise suggestions, each a single sentence without numbering",
				"items": map[string]any{
					"type":      "string",
					"minLength": 1,
					"maxLength": 140,
				},
			},
		},
		"required":             []any{"suggestions"},
		"additionalProperties": false,
	},
}
