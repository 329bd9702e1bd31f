// Package endpoint defines the contracts that connectors in this module implement.
//
// Architecture:
//
//	Endpoint        - Base contract (ID, Validate, Capabilities, Descriptor)
//	SourceEndpoint  - Read data (ListDatasets, GetSchema, Read)
//	SinkEndpoint    - Write data (Provision, WriteRaw, Finalize)
//
// All endpoints implement the base Endpoint interface and compose additional
// interfaces based on their capabilities.
package endpoint

import "context"

// Endpoint is the base contract that all connectors must implement.
type Endpoint interface {
	// ID returns the unique template identifier (e.g., "http.socrata", "object.minio").
	ID() string

	// ValidateConfig tests configuration validity and connectivity.
	ValidateConfig(ctx context.Context, config map[string]any) (*ValidationResult, error)

	// GetCapabilities returns the set of supported operations.
	GetCapabilities() *Capabilities

	// GetDescriptor returns metadata about this endpoint type.
	GetDescriptor() *Descriptor

	// Close releases any resources held by the endpoint.
	Close() error
}

// SourceEndpoint can read data from an external system.
type SourceEndpoint interface {
	Endpoint

	// ListDatasets returns available datasets/tables/collections.
	ListDatasets(ctx context.Context) ([]*Dataset, error)

	// GetSchema returns the schema for a specific dataset.
	GetSchema(ctx context.Context, datasetID string) (*Schema, error)

	// Read streams records from a dataset.
	// Returns an Iterator that must be closed after use.
	Read(ctx context.Context, req *ReadRequest) (Iterator[Record], error)
}

// SinkEndpoint can write data to an external system.
type SinkEndpoint interface {
	Endpoint

	// Provision ensures the sink destination exists before writes.
	Provision(ctx context.Context, datasetID string, schema *Schema) error

	// WriteRaw writes records to the sink.
	WriteRaw(ctx context.Context, req *WriteRequest) (*WriteResult, error)

	// Finalize completes a write operation (e.g., resolves the final artifact path).
	Finalize(ctx context.Context, datasetID string, loadDate string) (*FinalizeResult, error)
}

// IncrementalCapable sources support watermark-driven incremental reads.
type IncrementalCapable interface {
	// GetCheckpoint returns the last known checkpoint for a dataset.
	GetCheckpoint(ctx context.Context, datasetID string) (*Checkpoint, error)
}

// Checkpoint carries the replication watermark for one dataset.
type Checkpoint struct {
	Watermark      string
	LastLoadedDate string
	Metadata       map[string]any
}
