package structured

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	// ErrEmptyOutput is returned when the model produced no content.
	ErrEmptyOutput = errors.New("empty structured output")
	// ErrNoJSON is returned when no JSON could be located in the output.
	ErrNoJSON = errors.New("no JSON found in output")
)

// FieldError is a single schema violation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// SchemaError lists every leaf violation reported by the validator.
type SchemaError struct {
	Fields []FieldError
}

func (e *SchemaError) Error() string {
	if len(e.Fields) == 0 {
		return "output does not match schema"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "output does not match schema: " + strings.Join(parts, "; ")
}

var schemaCache sync.Map // sha256 hex -> *jsonschema.Schema

// Compile returns the compiled form of schema, reusing a cached copy when the
// same document was compiled before. Wrapper shapes used by chat APIs
// ({"schema": ...} and {"json_schema": {"schema": ...}}) are unwrapped.
func Compile(schema json.RawMessage) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	core, err := unwrapSchema(schema)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// Validate checks doc against schema. Violations are returned as a
// *SchemaError with one FieldError per failing location.
func Validate(schema json.RawMessage, doc any) error {
	compiled, err := Compile(schema)
	if err != nil {
		return err
	}
	err = compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	out := &SchemaError{}
	collectLeaves(ve, &out.Fields)
	return out
}

func collectLeaves(ve *jsonschema.ValidationError, into *[]FieldError) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*into = append(*into, FieldError{Field: loc, Message: ve.Message})
		return
	}
	for _, c := range ve.Causes {
		collectLeaves(c, into)
	}
}

// Parse locates and decodes JSON in model output, repairing it if the first
// decode fails. The returned document is re-marshaled and therefore valid.
func Parse(raw string) (json.RawMessage, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyOutput
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err == nil {
		return json.Marshal(doc)
	}

	candidate, ok := ExtractJSONFromMarkdown(raw)
	if !ok {
		return nil, ErrNoJSON
	}

	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		repaired := RepairJSON(candidate)
		if rerr := json.Unmarshal([]byte(repaired), &doc); rerr != nil {
			return nil, fmt.Errorf("failed to parse JSON after repair: %w", rerr)
		}
	}
	return json.Marshal(doc)
}

// ParseAndValidate runs extract, parse, repair, validate and decode in that
// order. On any failure it returns nil and the reason.
func ParseAndValidate[T any](raw string, schema json.RawMessage) (*T, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	if len(schema) > 0 {
		var generic any
		if err := json.Unmarshal(doc, &generic); err != nil {
			return nil, err
		}
		if err := Validate(schema, generic); err != nil {
			return nil, err
		}
	}

	var out T
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("failed to decode into %T: %w", out, err)
	}
	return &out, nil
}

func unwrapSchema(schema json.RawMessage) (json.RawMessage, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(schema, &root); err != nil {
		return nil, fmt.Errorf("invalid schema JSON: %w", err)
	}
	if inner, ok := root["schema"]; ok {
		return inner, nil
	}
	if wrapped, ok := root["json_schema"]; ok {
		var js map[string]json.RawMessage
		if err := json.Unmarshal(wrapped, &js); err == nil {
			if inner, ok := js["schema"]; ok {
				return inner, nil
			}
		}
	}
	return schema, nil
}
