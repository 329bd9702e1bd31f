package endpoint

// Record represents a single data record as key-value pairs.
type Record = map[string]any

// Iterator provides streaming access to records.
type Iterator[T any] interface {
	// Next advances to the next record. Returns false when done or on error.
	Next() bool

	// Value returns the current record. Only valid after Next() returns true.
	Value() T

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources. Must be called when done.
	Close() error
}

// --- Validation Types ---

type ValidationResult struct {
	Valid           bool
	Message         string
	DetectedVersion string
}

// --- Capabilities ---

type Capabilities struct {
	// Source capabilities
	SupportsFull        bool
	SupportsIncremental bool
	SupportsPreview     bool
	SupportsMetadata    bool

	// Sink capabilities
	SupportsWrite   bool
	SupportsStaging bool

	// Incremental details
	IncrementalLiteral string // "timestamp" | "epoch"
	DefaultFetchSize   int
}

// --- Dataset Types ---

type Dataset struct {
	ID                  string
	Name                string
	Kind                string // "tabular", "map", "view"
	Domain              string
	SupportsIncremental bool
	IncrementalColumn   string
	IncrementalLiteral  string // "timestamp", "epoch"
	PrimaryKeys         []string
}

// --- Schema Types ---

type Schema struct {
	Fields []*FieldDefinition
}

type FieldDefinition struct {
	Name     string
	DataType string
	Nullable bool
	Comment  string
	Position int
}

// --- Read Types ---

type ReadRequest struct {
	DatasetID string
	Limit     int64

	// Checkpoint is the persisted replication state from the previous sync,
	// or nil for a first/full sync.
	Checkpoint *Checkpoint
}

// --- Write Types ---

type WriteRequest struct {
	DatasetID string
	Mode      string // "append", "overwrite"
	LoadDate  string
	RunID     string
	Records   []Record
	Schema    *Schema
}

type WriteResult struct {
	RowsWritten int64
	Path        string
}

// StageWriteRequest asks a staging-capable sink to drain staged batches.
// Schema applies to every stream found in the stage; callers staging mixed
// streams pass nil and get the raw row representation.
type StageWriteRequest struct {
	StageRef  string
	BatchRefs []string
	RunID     string
	LoadDate  string
	Schema    *Schema
}

type SinkResult struct {
	Objects   []string
	Artifacts map[string]string
	Records   int64
}

type FinalizeResult struct {
	FinalPath string
}
