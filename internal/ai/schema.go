package ai

// FeedbackSchema returns the full JSON schema for structured feedback
// output. Annotation keys ($schema, title, description) are kept here for
// documentation and for providers that accept them; Prune strips them before
// the schema is sent to providers with limited JSON-Schema support.
func FeedbackSchema() map[string]interface{} {
	return map[string]interface{}{
		"$schema":     "http://json-schema.org/draft-07/schema#",
		"title":       "GradingFeedback",
		"description": "Structured feedback for a graded student submission",
		"type":        "object",
		"properties": map[string]interface{}{
			"strengths": map[string]interface{}{
				"type":        "array",
				"description": "What the submission does well",
				"items":       map[string]interface{}{"type": "string"},
			},
			"improvements": map[string]interface{}{
				"type":        "array",
				"description": "Concrete areas needing improvement",
				"items":       map[string]interface{}{"type": "string"},
			},
			"suggestions": map[string]interface{}{
				"type":        "array",
				"description": "Actionable next steps for the student",
				"items":       map[string]interface{}{"type": "string"},
			},
			"summary": map[string]interface{}{
				"type":        "string",
				"description": "Overall assessment in two or three sentences",
			},
			"score": map[string]interface{}{
				"type":        "number",
				"description": "Overall score",
				"minimum":     0,
				"maximum":     100,
			},
			"criteria_scores": map[string]interface{}{
				"type":        "array",
				"description": "Per-rubric-criterion scores",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"criteria_id": map[string]interface{}{"type": "string"},
						"score":       map[string]interface{}{"type": "number", "minimum": 0},
						"feedback":    map[string]interface{}{"type": "string"},
					},
					"required":             []interface{}{"criteria_id", "score"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []interface{}{"strengths", "improvements", "suggestions", "summary", "score"},
		"additionalProperties": false,
	}
}

// prunedKeys are the annotation keys stripped for providers with limited
// JSON-Schema support. Constraint keys (type, properties, required, items,
// enum, numeric/string bounds) are preserved.
var prunedKeys = map[string]struct{}{
	"$schema":              {},
	"title":                {},
	"description":          {},
	"examples":             {},
	"default":              {},
	"additionalProperties": {},
}

// Prune returns a deep copy of schema with annotation keys removed at every
// nesting depth, recursing into arrays and nested objects. The input is
// never mutated.
func Prune(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		if _, blocked := prunedKeys[key]; blocked {
			continue
		}
		out[key] = pruneValue(value)
	}
	return out
}

func pruneValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return Prune(v)
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = pruneValue(item)
		}
		return out
	default:
		return v
	}
}
