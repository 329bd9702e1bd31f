package socrata

// Config holds Socrata connection configuration.
type Config struct {
	// Domains are the catalog domains to enumerate
	// (e.g., ["data.cityofchicago.org"]).
	Domains []string `json:"domains"`

	// APIKeyID and APIKeySecret form an optional basic-auth credential pair.
	// Requests are unauthenticated when APIKeyID is empty.
	APIKeyID     string `json:"apiKeyId,omitempty"`
	APIKeySecret string `json:"apiKeySecret,omitempty"`

	// AppToken is an optional Socrata application token (X-App-Token header,
	// raises rate limits).
	AppToken string `json:"appToken,omitempty"`

	// SecretToken is the optional token paired with AppToken. It is carried
	// in configuration but not used by the extraction logic itself.
	SecretToken string `json:"secretToken,omitempty"`

	// UserAgent overrides the default User-Agent header.
	UserAgent string `json:"userAgent,omitempty"`

	// PageLimit is the number of records requested per extraction page.
	PageLimit int `json:"pageLimit,omitempty"`

	// DiscoveryPageSize is the catalog search page size.
	DiscoveryPageSize int `json:"discoveryPageSize,omitempty"`
}

// DefaultPageLimit is the maximum records returned per resource request.
const DefaultPageLimit = 50000

// DefaultDiscoveryPageSize is the catalog search page size.
const DefaultDiscoveryPageSize = 1000

// Validate validates the configuration and applies defaults.
func (c *Config) Validate() error {
	if len(c.Domains) == 0 {
		return &ValidationError{Field: "domains", Message: "required"}
	}
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.DiscoveryPageSize <= 0 {
		c.DiscoveryPageSize = DefaultDiscoveryPageSize
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// =============================================================================
// CATALOG API RESPONSE TYPES
// =============================================================================

// CatalogPage is one page of the catalog search response.
type CatalogPage struct {
	Results []*DatasetDescriptor `json:"results"`
}

// DatasetDescriptor is one raw catalog entry.
type DatasetDescriptor struct {
	Resource Resource         `json:"resource"`
	Metadata ResourceMetadata `json:"metadata"`
}

// Resource carries the dataset's catalog metadata. ColumnsName and
// ColumnsDatatype are parallel arrays of equal length.
type Resource struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"` // "dataset", "map", ...
	ColumnsName     []string `json:"columns_name"`
	ColumnsDatatype []string `json:"columns_datatype"`
	DataUpdatedAt   string   `json:"data_updated_at,omitempty"`
}

// ResourceMetadata carries the owning domain for a catalog entry.
type ResourceMetadata struct {
	Domain string `json:"domain"`
}

// DatasetKindMap marks geospatial datasets served from the .geojson endpoint.
const DatasetKindMap = "map"
