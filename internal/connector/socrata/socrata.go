package socrata

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/nucleus/socrata-core/internal/connector/http"
	"github.com/nucleus/socrata-core/internal/endpoint"
)

// =============================================================================
// SOCRATA CONNECTOR
// Implements endpoint.SourceEndpoint and endpoint.IncrementalCapable
// =============================================================================

// Ensure interface compliance
var (
	_ endpoint.SourceEndpoint     = (*Socrata)(nil)
	_ endpoint.IncrementalCapable = (*Socrata)(nil)
)

// Socrata is the Socrata open-data catalog connector.
type Socrata struct {
	Client *http.Client
	config *Config

	// Warnf reports per-dataset discovery failures. Defaults to log.Printf;
	// a dropped dataset is always logged, never dropped unreported.
	Warnf func(format string, args ...any)

	// streams caches the result of the last DiscoverStreams call.
	streams []*StreamSpec
}

// New creates a new Socrata connector with the given configuration.
func New(config *Config) (*Socrata, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpConfig := http.DefaultClientConfig()
	httpConfig.BaseURL = CatalogBaseURL(config.Domains)

	var auth http.ChainAuth
	if config.APIKeyID != "" {
		auth = append(auth, http.BasicAuth{
			Username: config.APIKeyID,
			Password: config.APIKeySecret,
		})
	}
	if config.AppToken != "" {
		auth = append(auth, http.AppToken{Token: config.AppToken})
	}
	if len(auth) > 0 {
		httpConfig.Auth = auth
	}
	if config.UserAgent != "" {
		httpConfig.UserAgent = config.UserAgent
	}

	return &Socrata{
		Client: http.NewClient(httpConfig),
		config: config,
		Warnf:  log.Printf,
	}, nil
}

// =============================================================================
// ENDPOINT INTERFACE
// =============================================================================

// ID returns the endpoint identifier.
func (s *Socrata) ID() string { return "http.socrata" }

// Close releases resources; the HTTP client needs no explicit cleanup.
func (s *Socrata) Close() error { return nil }

// ValidateConfig probes the catalog endpoint with a minimal search.
func (s *Socrata) ValidateConfig(ctx context.Context, config map[string]any) (*endpoint.ValidationResult, error) {
	query := url.Values{}
	query.Set("domains", strings.Join(s.config.Domains, ","))
	query.Set("limit", "1")
	query.Set("offset", "0")

	_, err := s.Client.Get(ctx, "", query)
	if err != nil {
		if httpErr, ok := err.(*http.HTTPError); ok {
			return &endpoint.ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("Connection failed: HTTP %d", httpErr.StatusCode),
			}, nil
		}
		return nil, err
	}

	return &endpoint.ValidationResult{
		Valid:   true,
		Message: "Connection successful",
	}, nil
}

// GetCapabilities returns Socrata source capabilities.
func (s *Socrata) GetCapabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsFull:        true,
		SupportsIncremental: true, // dataset-level data_updated_at skip decision
		SupportsPreview:     true,
		SupportsMetadata:    true,
		SupportsWrite:       false,
		IncrementalLiteral:  "timestamp",
		DefaultFetchSize:    s.config.PageLimit,
	}
}

// GetDescriptor returns the Socrata endpoint descriptor.
func (s *Socrata) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "http.socrata",
		Family:      "http",
		Title:       "Socrata Open Data",
		Vendor:      "Tyler Technologies",
		Description: "Socrata catalog connector for tabular and geospatial open datasets",
		Categories:  []string{"open-data", "catalog"},
		Protocols:   []string{"https"},
		DocsURL:     "https://dev.socrata.com/",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "domains", Label: "Domains", ValueType: "string", Required: true, Description: "Comma-separated catalog domains", Placeholder: "data.cityofchicago.org"},
			{Key: "apiKeyId", Label: "API Key ID", ValueType: "string", Required: false},
			{Key: "apiKeySecret", Label: "API Key Secret", ValueType: "password", Required: false, Sensitive: true},
			{Key: "appToken", Label: "App Token", ValueType: "password", Required: false, Sensitive: true, Description: "Raises per-client rate limits"},
			{Key: "userAgent", Label: "User-Agent", ValueType: "string", Required: false},
		},
	}
}

// =============================================================================
// DISCOVERY
// =============================================================================

// DiscoverStreams enumerates the catalog and builds one stream specification
// per dataset. Datasets whose metadata fails schema synthesis are logged as
// warnings and dropped; discovery continues with the rest. A failure of the
// catalog paging itself aborts the whole run.
func (s *Socrata) DiscoverStreams(ctx context.Context) ([]*StreamSpec, error) {
	explorer := NewCatalogExplorer(s.Client, s.config.Domains, s.config.DiscoveryPageSize)
	descriptors, err := explorer.Discover(ctx)
	if err != nil {
		return nil, err
	}

	streams := make([]*StreamSpec, 0, len(descriptors))
	for _, desc := range descriptors {
		spec, err := BuildStreamSpec(desc)
		if err != nil {
			s.Warnf("failed to create stream for dataset %s: %v", desc.Resource.ID, err)
			continue
		}
		streams = append(streams, spec)
	}

	s.streams = streams
	return streams, nil
}

// =============================================================================
// SOURCE ENDPOINT
// =============================================================================

// ListDatasets returns the discovered datasets, running discovery on first use.
func (s *Socrata) ListDatasets(ctx context.Context) ([]*endpoint.Dataset, error) {
	specs, err := s.discoveredStreams(ctx)
	if err != nil {
		return nil, err
	}

	datasets := make([]*endpoint.Dataset, 0, len(specs))
	for _, spec := range specs {
		datasets = append(datasets, &endpoint.Dataset{
			ID:                  spec.DatasetID,
			Name:                spec.Name,
			Kind:                spec.Kind,
			Domain:              spec.Domain,
			SupportsIncremental: spec.ReplicationKey != "",
			IncrementalColumn:   spec.ReplicationKey,
			IncrementalLiteral:  "timestamp",
			PrimaryKeys:         spec.PrimaryKeys,
		})
	}
	return datasets, nil
}

// GetSchema returns the sink-facing schema for a discovered dataset.
func (s *Socrata) GetSchema(ctx context.Context, datasetID string) (*endpoint.Schema, error) {
	spec, err := s.StreamSpec(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return spec.SinkSchema(), nil
}

// Read starts a lazy record sync for one dataset. The checkpoint's watermark,
// when present, is the bookmark for the incremental-skip decision.
func (s *Socrata) Read(ctx context.Context, req *endpoint.ReadRequest) (endpoint.Iterator[endpoint.Record], error) {
	spec, err := s.StreamSpec(ctx, req.DatasetID)
	if err != nil {
		return nil, err
	}

	var bookmark *time.Time
	if req.Checkpoint != nil && req.Checkpoint.Watermark != "" {
		ts, err := parseWatermark(req.Checkpoint.Watermark)
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoint for %s: %w", req.DatasetID, err)
		}
		bookmark = &ts
	}

	limit := s.config.PageLimit
	if req.Limit > 0 && req.Limit < int64(limit) {
		limit = int(req.Limit)
	}

	return NewStreamSync(ctx, s.Client, spec, bookmark, limit), nil
}

// GetCheckpoint reports the source-side watermark for a dataset: the value a
// fully successful sync should persist as its bookmark.
func (s *Socrata) GetCheckpoint(ctx context.Context, datasetID string) (*endpoint.Checkpoint, error) {
	spec, err := s.StreamSpec(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if spec.DataUpdatedAt == nil {
		return nil, nil
	}
	return &endpoint.Checkpoint{Watermark: FormatWatermark(*spec.DataUpdatedAt)}, nil
}

// StreamSpec resolves a dataset id or stream name to its specification.
func (s *Socrata) StreamSpec(ctx context.Context, datasetID string) (*StreamSpec, error) {
	specs, err := s.discoveredStreams(ctx)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if spec.DatasetID == datasetID || spec.Name == datasetID {
			return spec, nil
		}
	}
	return nil, fmt.Errorf("unknown dataset: %s", datasetID)
}

func (s *Socrata) discoveredStreams(ctx context.Context) ([]*StreamSpec, error) {
	if s.streams != nil {
		return s.streams, nil
	}
	return s.DiscoverStreams(ctx)
}
