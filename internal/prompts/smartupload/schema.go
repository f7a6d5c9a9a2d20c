package smartupload

import "encoding/json"

// Range is one proposed part: a printed label and an inclusive 1-based
// page range.
type Range struct {
	Label     string `json:"label"`
	PageStart int    `json:"pageStart"`
	PageEnd   int    `json:"pageEnd"`
}

// Extraction is the first-pass output.
type Extraction struct {
	Title      string   `json:"title"`
	Composer   string   `json:"composer"`
	Arranger   string   `json:"arranger"`
	Publisher  string   `json:"publisher"`
	Confidence int      `json:"confidence"`
	Parts      []Range  `json:"parts"`
	Notes      []string `json:"notes"`
}

// Verification is the second-pass output.
type Verification struct {
	Extraction
	Changed bool     `json:"changed"`
	Issues  []string `json:"issues"`
}

// Schema names sent to OpenAI-compatible backends.
const (
	ExtractionSchemaName   = "score_extraction"
	VerificationSchemaName = "score_verification"
)

var nullableString = map[string]any{"type": []string{"string", "null"}}

var rangeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"label": map[string]any{
			"type":        "string",
			"description": "Instrument label as printed on the first page of the part",
		},
		"pageStart": map[string]any{"type": "integer", "minimum": 1},
		"pageEnd":   map[string]any{"type": "integer", "minimum": 1},
	},
	"required":             []string{"label", "pageStart", "pageEnd"},
	"additionalProperties": false,
}

func extractionProperties() map[string]any {
	return map[string]any{
		"title": map[string]any{
			"type":        "string",
			"description": "Title of the piece without score or part names",
		},
		"composer":  nullableString,
		"arranger":  nullableString,
		"publisher": nullableString,
		"confidence": map[string]any{
			"type":    "integer",
			"minimum": 0,
			"maximum": 100,
		},
		"parts": map[string]any{
			"type":  "array",
			"items": rangeSchema,
		},
		"notes": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	}
}

var extractionRequired = []string{"title", "composer", "arranger", "publisher", "confidence", "parts", "notes"}

// ExtractionSchema is the JSON schema for first-pass output.
var ExtractionSchema = map[string]any{
	"type":                 "object",
	"properties":           extractionProperties(),
	"required":             extractionRequired,
	"additionalProperties": false,
}

// VerificationSchema is the JSON schema for second-pass output.
var VerificationSchema = func() map[string]any {
	props := extractionProperties()
	props["changed"] = map[string]any{"type": "boolean"}
	props["issues"] = map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             append(append([]string{}, extractionRequired...), "changed", "issues"),
		"additionalProperties": false,
	}
}()

// RawSchema marshals a schema map for the providers package.
func RawSchema(schema map[string]any) json.RawMessage {
	raw, err := json.Marshal(schema)
	if err != nil {
		panic(err)
	}
	return raw
}
