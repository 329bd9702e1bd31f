package minio

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nucleus/socrata-core/internal/endpoint"
)

var _ endpoint.SinkEndpoint = (*Endpoint)(nil)

// Endpoint implements the object.minio sink connector.
type Endpoint struct {
	config *Config
	store  ObjectStore

	mu      sync.Mutex
	partSeq map[string]int
}

// New creates a MinIO endpoint from raw parameters. It uses a real S3 client
// for http/https endpoints and falls back to LocalStore for file:// URLs.
func New(params map[string]any) (*Endpoint, error) {
	cfg := ParseConfig(params)
	return &Endpoint{
		config:  cfg,
		store:   selectStore(cfg),
		partSeq: make(map[string]int),
	}, nil
}

// nextPart hands out monotonically increasing part numbers per stream+run, so
// repeated batch writes within a run never collide.
func (e *Endpoint) nextPart(stream, runID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := stream + "/" + runID
	seq := e.partSeq[key]
	e.partSeq[key] = seq + 1
	return seq
}

func selectStore(cfg *Config) ObjectStore {
	if strings.HasPrefix(cfg.EndpointURL, "http://") || strings.HasPrefix(cfg.EndpointURL, "https://") {
		if s3, err := NewS3Client(cfg); err == nil {
			return s3
		}
	}
	return NewLocalStore(cfg.objectRoot())
}

// ID returns the endpoint template ID.
func (e *Endpoint) ID() string { return "object.minio" }

// Close releases resources (noop for local store).
func (e *Endpoint) Close() error { return nil }

// GetDescriptor describes the MinIO endpoint template.
func (e *Endpoint) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "object.minio",
		Family:      "object",
		Title:       "MinIO Object Store",
		Vendor:      "MinIO",
		Description: "S3-compatible object store used as the replication sink",
		Categories:  []string{"object_store", "storage"},
		Protocols:   []string{"S3", "HTTP"},
		DocsURL:     "https://min.io/docs/minio/container/index.html",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "endpointUrl", Label: "Endpoint URL", ValueType: "string", Required: true, Placeholder: "http://localhost:9000"},
			{Key: "region", Label: "Region", ValueType: "string", Required: false},
			{Key: "useSSL", Label: "Use SSL", ValueType: "boolean", Required: false, DefaultValue: "false"},
			{Key: "accessKeyId", Label: "Access Key ID", ValueType: "string", Required: true},
			{Key: "secretAccessKey", Label: "Secret Access Key", ValueType: "password", Required: true, Sensitive: true},
			{Key: "bucket", Label: "Bucket", ValueType: "string", Required: false, Description: "Bucket used for sink artifacts (default: " + defaultBucket + ")"},
			{Key: "basePrefix", Label: "Base Prefix", ValueType: "string", Required: false, Description: "Base path for sink artifacts (default: sink)"},
			{Key: "tenantId", Label: "Tenant ID", ValueType: "string", Required: false, Description: "Tenant namespace for the sink layout"},
		},
	}
}

// GetCapabilities advertises supported operations.
func (e *Endpoint) GetCapabilities() *endpoint.Capabilities {
	return &endpoint.Capabilities{
		SupportsWrite:   true,
		SupportsStaging: true,
	}
}

// ValidateConfig verifies connectivity, credentials, and bucket access.
func (e *Endpoint) ValidateConfig(ctx context.Context, params map[string]any) (*endpoint.ValidationResult, error) {
	cfg := ParseConfig(params)
	if err := cfg.Validate(); err != nil {
		return &endpoint.ValidationResult{Valid: false, Message: err.Error()}, nil
	}

	store := selectStore(cfg)
	if err := store.Ping(ctx); err != nil {
		return &endpoint.ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("%s: %v", CodeEndpointUnreachable, err),
		}, nil
	}

	if cfg.Bucket != "" {
		exists, err := store.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return &endpoint.ValidationResult{
				Valid:   false,
				Message: fmt.Sprintf("%s: %v", CodeBucketNotFound, err),
			}, nil
		}
		if !exists {
			if err := store.EnsureBucket(ctx, cfg.Bucket); err != nil {
				return &endpoint.ValidationResult{
					Valid:   false,
					Message: fmt.Sprintf("%s: bucket %s not found", CodeBucketNotFound, cfg.Bucket),
				}, nil
			}
		}
	}

	// Write probe to validate permissions.
	probeKey := joinPath(cfg.BasePrefix, "probe", fmt.Sprintf("ts-%d.txt", time.Now().UnixNano()))
	if err := store.PutObject(ctx, cfg.Bucket, probeKey, []byte("probe")); err != nil {
		return &endpoint.ValidationResult{Valid: false, Message: err.Error()}, nil
	}

	return &endpoint.ValidationResult{
		Valid:           true,
		Message:         "connected to object store",
		DetectedVersion: "minio-go/v7",
	}, nil
}
