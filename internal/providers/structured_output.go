package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// adaptedResponseFormat returns an OpenRouter-compatible response format.
// The canonical schema is still used for local validation.
func adaptedResponseFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil {
		return nil, nil
	}
	// OpenRouter may route anthropic/* models to non-Anthropic backends,
	// where native structured output headers are rejected. Those models get
	// prompt-only JSON plus local validation and repair.
	if isAnthropicModel(model) {
		return nil, nil
	}

	schema := rf.JSONSchema
	if len(schema) > 0 {
		var err error
		schema, err = sanitizeStructuredSchemaForModel(model, schema)
		if err != nil {
			return nil, err
		}
	}
	return &openRouterResponseFormat{Type: rf.Type, JSONSchema: schema}, nil
}

// sanitizeStructuredSchemaForModel strips integer minimum/maximum bounds for
// Anthropic models, which reject them in output schemas.
func sanitizeStructuredSchemaForModel(model string, schemaRaw json.RawMessage) (json.RawMessage, error) {
	if len(schemaRaw) == 0 || !isAnthropicModel(model) {
		return schemaRaw, nil
	}

	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse structured schema: %w", err)
	}
	stripIntegerBounds(root)

	sanitized, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sanitized structured schema: %w", err)
	}
	return sanitized, nil
}

func isAnthropicModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "anthropic/") || strings.HasPrefix(m, "claude")
}

func stripIntegerBounds(node any) {
	switch n := node.(type) {
	case map[string]any:
		if schemaTypeIncludesInteger(n["type"]) {
			delete(n, "minimum")
			delete(n, "maximum")
			delete(n, "exclusiveMinimum")
			delete(n, "exclusiveMaximum")
		}
		for _, v := range n {
			stripIntegerBounds(v)
		}
	case []any:
		for _, v := range n {
			stripIntegerBounds(v)
		}
	}
}

func schemaTypeIncludesInteger(typeVal any) bool {
	switch t := typeVal.(type) {
	case string:
		return t == "integer"
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && s == "integer" {
				return true
			}
		}
	}
	return false
}

// schemaInstruction is appended to the system prompt for backends without a
// native JSON schema mode.
func schemaInstruction(rf *ResponseFormat) string {
	_, schema := rf.schemaParts()
	if len(schema) == 0 {
		return ""
	}
	return "Respond with a single JSON document, no markdown and no commentary, that conforms to this JSON schema:\n" + string(schema)
}
