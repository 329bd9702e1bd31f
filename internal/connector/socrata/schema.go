package socrata

import (
	"sort"
	"strings"
	"unicode"
)

// =============================================================================
// SCHEMA MAPPER
// Maps Socrata column type tags to JSON-compatible structural schemas.
// =============================================================================

// FieldSchema is a structural type definition for one field, shaped like a
// JSON Schema fragment.
type FieldSchema struct {
	Type       []string                `json:"type"`
	Format     string                  `json:"format,omitempty"`
	Properties map[string]*FieldSchema `json:"properties,omitempty"`
}

// ObjectSchema is the schema synthesized for one dataset: a mapping from
// sanitized field name to its structural type definition.
type ObjectSchema struct {
	Type       string                  `json:"type"`
	Properties map[string]*FieldSchema `json:"properties"`
}

// NewObjectSchema returns an empty dataset schema.
func NewObjectSchema() *ObjectSchema {
	return &ObjectSchema{
		Type:       "object",
		Properties: make(map[string]*FieldSchema),
	}
}

// geoTypeTags are the GeoJSON-shaped column types. All map to the same
// object schema carrying a geometry type and an unconstrained coordinates
// array.
var geoTypeTags = map[string]bool{
	"line":         true,
	"multiline":    true,
	"point":        true,
	"multipoint":   true,
	"polygon":      true,
	"multipolygon": true,
}

// SchemaForColumn maps a Socrata column type tag to a structural type
// definition. The tag comparison is case-insensitive. Every tag maps to
// something: unknown or absent tags degrade to a nullable string rather
// than failing.
func SchemaForColumn(typeTag, fieldName string) *FieldSchema {
	_ = fieldName // reserved for tag rules keyed on the field name

	switch tag := strings.ToLower(typeTag); {
	case tag == "number":
		// Socrata may emit numerics as strings; both must validate.
		return &FieldSchema{Type: []string{"null", "string", "number"}}

	case tag == "checkbox":
		return &FieldSchema{Type: []string{"null", "boolean"}}

	case tag == "fixed_timestamp" || tag == "floating_timestamp":
		return &FieldSchema{Type: []string{"null", "string"}, Format: "date-time"}

	case tag == "location":
		return &FieldSchema{
			Type: []string{"null", "object"},
			Properties: map[string]*FieldSchema{
				"latitude":  {Type: []string{"null", "string"}},
				"longitude": {Type: []string{"null", "string"}},
				// human_address holds embedded JSON; it is not parsed here.
				"human_address": {Type: []string{"null", "string"}},
			},
		}

	case tag == "url":
		return &FieldSchema{
			Type: []string{"null", "object"},
			Properties: map[string]*FieldSchema{
				"url":         {Type: []string{"null", "string"}},
				"description": {Type: []string{"null", "string"}},
			},
		}

	case geoTypeTags[tag]:
		return &FieldSchema{
			Type: []string{"null", "object"},
			Properties: map[string]*FieldSchema{
				"type":        {Type: []string{"string"}},
				"coordinates": {Type: []string{"array"}},
			},
		}

	default:
		return &FieldSchema{Type: []string{"null", "string"}}
	}
}

// sortedFieldNames returns the schema's field names in sorted order.
func sortedFieldNames(props map[string]*FieldSchema) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// NAME SANITIZATION
// =============================================================================

// SanitizeFieldName normalizes a raw column name into a schema field name:
// lowercase, spaces become underscores, parentheses are stripped, hyphens
// become underscores. Distinct source columns may sanitize to the same field
// name; callers keep last-write-wins semantics on collision.
func SanitizeFieldName(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}

// SanitizeStreamName derives a globally-unique stream name from a dataset's
// display name and id. The display name is lowercased, separator characters
// collapse to underscores, and every remaining character that is not a letter,
// digit, or underscore is removed. The dataset id (hyphens replaced by
// underscores) is appended so colliding display names still produce distinct
// stream names. The result is idempotent under re-sanitization.
func SanitizeStreamName(name, id string) string {
	return sanitizeName(name) + "_" + strings.ReplaceAll(id, "-", "_")
}

var nameReplacer = strings.NewReplacer(
	" ", "_",
	"-", "_",
	"(", "",
	")", "",
	"/", "_",
	"\\", "_",
	".", "_",
)

// sanitizeName is the idempotent normalization core of SanitizeStreamName.
func sanitizeName(name string) string {
	s := nameReplacer.Replace(strings.ToLower(name))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
