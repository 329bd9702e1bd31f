package socrata

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/nucleus/socrata-core/internal/connector/http"
)

// =============================================================================
// CATALOG EXPLORER
// Paginated enumeration of dataset descriptors across configured domains.
// =============================================================================

// Exactly two catalog endpoints exist; selection is a static rule over the
// first configured domain's suffix. Known limitation: the rule does not
// generalize past the two region groupings.
const (
	CatalogBaseUS = "https://api.us.socrata.com/api/catalog/v1"
	CatalogBaseEU = "https://api.eu.socrata.com/api/catalog/v1"
)

// CatalogBaseURL picks the catalog endpoint for a discovery run. The rule is
// applied once per run, not per domain: a first domain ending in ".eu"
// selects the EU catalog, anything else the US one.
func CatalogBaseURL(domains []string) string {
	if len(domains) > 0 {
		if strings.HasSuffix(strings.ToLower(domains[0]), ".eu") {
			return CatalogBaseEU
		}
	}
	return CatalogBaseUS
}

// CatalogExplorer enumerates every dataset descriptor whose domain matches
// the configured set, by walking the catalog search endpoint with increasing
// offsets until a query returns zero results.
type CatalogExplorer struct {
	client   *http.Client
	domains  []string
	pageSize int
}

// NewCatalogExplorer creates an explorer over the given domains. The client
// must be configured with the catalog base URL for those domains.
func NewCatalogExplorer(client *http.Client, domains []string, pageSize int) *CatalogExplorer {
	if pageSize <= 0 {
		pageSize = DefaultDiscoveryPageSize
	}
	return &CatalogExplorer{
		client:   client,
		domains:  domains,
		pageSize: pageSize,
	}
}

// Discover returns the complete, unordered set of dataset descriptors.
// Any non-success response aborts the entire discovery run; retries are the
// transport's concern, not this layer's. Nothing is cached across runs.
func (e *CatalogExplorer) Discover(ctx context.Context) ([]*DatasetDescriptor, error) {
	paginator := &http.OffsetPaginator{
		Limit:     e.pageSize,
		OffsetKey: "offset",
		LimitKey:  "limit",
		Query: url.Values{
			"domains": []string{strings.Join(e.domains, ",")},
		},
		// Only a zero-result page terminates discovery; a short page may
		// just reflect catalog churn between requests.
		StopOnShortPage: false,
	}

	var all []*DatasetDescriptor
	req := paginator.FirstPage()
	for req != nil {
		resp, err := e.client.Do(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("catalog search at offset %d: %w", paginator.Offset(), err)
		}

		var page CatalogPage
		if err := resp.JSON(&page); err != nil {
			return nil, fmt.Errorf("parse catalog page at offset %d: %w", paginator.Offset(), err)
		}

		all = append(all, page.Results...)
		req = paginator.NextPage(len(page.Results))
	}

	return all, nil
}
