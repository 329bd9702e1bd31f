package socrata

import (
	"fmt"
	"time"

	"github.com/nucleus/socrata-core/internal/endpoint"
)

// =============================================================================
// STREAM DESCRIPTOR BUILDER
// Turns one raw dataset descriptor into an immutable stream specification.
// =============================================================================

// ReplicationKey is the synthetic replication-key field declared on streams
// whose dataset reports a "data last updated" timestamp.
const ReplicationKey = "_data_updated_at"

// watermarkLayouts are the accepted "data_updated_at" formats. The catalog
// emits the first form; the bare-seconds fallback tolerates values without a
// fractional part.
var watermarkLayouts = []string{
	"2006-01-02T15:04:05.000000Z",
	"2006-01-02T15:04:05Z",
}

// primaryKeyCandidates, in priority order. First match wins.
var primaryKeyCandidates = []string{"id", "case_id", "record_id"}

// StreamSpec is the immutable per-dataset extraction unit: resolved schema,
// keys, and replication watermark. One per discovered dataset that survived
// schema synthesis.
type StreamSpec struct {
	// Name is the sanitized display name with the dataset id suffix,
	// globally unique across domains.
	Name string

	// DatasetID is the Socrata resource id (e.g. "abcd-1234").
	DatasetID string

	// Domain hosts the dataset's resource endpoint.
	Domain string

	// Kind is the dataset kind ("dataset", "map", ...). Map datasets are
	// served from the .geojson endpoint.
	Kind string

	// Schema maps sanitized field names to structural type definitions.
	Schema *ObjectSchema

	// PrimaryKeys is the inferred key field list, possibly empty.
	PrimaryKeys []string

	// ReplicationKey names the synthetic watermark field, or "" for streams
	// that full-scan every sync.
	ReplicationKey string

	// DataUpdatedAt is the dataset-level watermark, nil when the catalog
	// did not report one.
	DataUpdatedAt *time.Time
}

// SchemaSynthesisError reports a dataset whose metadata could not be turned
// into a stream specification. Callers log it as a warning and drop the
// dataset; it never aborts the discovery run.
type SchemaSynthesisError struct {
	DatasetID string
	Err       error
}

func (e *SchemaSynthesisError) Error() string {
	return fmt.Sprintf("schema synthesis failed for dataset %s: %v", e.DatasetID, e.Err)
}

func (e *SchemaSynthesisError) Unwrap() error { return e.Err }

// BuildStreamSpec derives a stream specification from one dataset descriptor.
// Malformed metadata (missing column arrays, length mismatch, unparseable
// watermark) fails only this dataset's construction.
func BuildStreamSpec(desc *DatasetDescriptor) (*StreamSpec, error) {
	res := &desc.Resource

	if res.ID == "" {
		return nil, &SchemaSynthesisError{DatasetID: res.ID, Err: fmt.Errorf("resource id missing")}
	}
	if res.ColumnsName == nil || res.ColumnsDatatype == nil {
		return nil, &SchemaSynthesisError{DatasetID: res.ID, Err: fmt.Errorf("column metadata missing")}
	}
	if len(res.ColumnsDatatype) < len(res.ColumnsName) {
		return nil, &SchemaSynthesisError{
			DatasetID: res.ID,
			Err: fmt.Errorf("column arrays disagree: %d names, %d datatypes",
				len(res.ColumnsName), len(res.ColumnsDatatype)),
		}
	}

	schema := NewObjectSchema()
	for i, colName := range res.ColumnsName {
		fieldName := SanitizeFieldName(colName)
		// Colliding sanitized names overwrite: last write wins, consumers
		// depend on this.
		schema.Properties[fieldName] = SchemaForColumn(res.ColumnsDatatype[i], fieldName)
	}

	displayName := res.Name
	if displayName == "" {
		displayName = "unnamed"
	}

	spec := &StreamSpec{
		Name:      SanitizeStreamName(displayName, res.ID),
		DatasetID: res.ID,
		Domain:    desc.Metadata.Domain,
		Kind:      res.Type,
		Schema:    schema,
	}

	if res.DataUpdatedAt != "" {
		ts, err := parseWatermark(res.DataUpdatedAt)
		if err != nil {
			return nil, &SchemaSynthesisError{DatasetID: res.ID, Err: err}
		}
		spec.DataUpdatedAt = &ts
		spec.ReplicationKey = ReplicationKey
		schema.Properties[ReplicationKey] = &FieldSchema{
			Type:   []string{"null", "string"},
			Format: "date-time",
		}
	}

	for _, candidate := range primaryKeyCandidates {
		if _, ok := schema.Properties[candidate]; ok {
			spec.PrimaryKeys = []string{candidate}
			break
		}
	}

	return spec, nil
}

// parseWatermark parses a dataset-level "data_updated_at" value as UTC.
func parseWatermark(value string) (time.Time, error) {
	for _, layout := range watermarkLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable data_updated_at %q", value)
}

// SinkSchema flattens the stream's structural schema into the generic field
// list sinks provision with. Fields are emitted in sorted-name order so the
// layout is deterministic.
func (s *StreamSpec) SinkSchema() *endpoint.Schema {
	fields := make([]*endpoint.FieldDefinition, 0, len(s.Schema.Properties))
	for _, name := range sortedFieldNames(s.Schema.Properties) {
		fs := s.Schema.Properties[name]
		fields = append(fields, &endpoint.FieldDefinition{
			Name:     name,
			DataType: sinkDataType(fs),
			Nullable: nullable(fs),
			Position: len(fields) + 1,
		})
	}
	return &endpoint.Schema{Fields: fields}
}

func sinkDataType(fs *FieldSchema) string {
	if fs.Format == "date-time" {
		return "TIMESTAMP"
	}
	for _, t := range fs.Type {
		switch t {
		case "number":
			return "NUMBER"
		case "boolean":
			return "BOOLEAN"
		case "object":
			return "OBJECT"
		}
	}
	return "STRING"
}

func nullable(fs *FieldSchema) bool {
	for _, t := range fs.Type {
		if t == "null" {
			return true
		}
	}
	return false
}
