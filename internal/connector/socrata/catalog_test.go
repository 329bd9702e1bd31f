package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"strings"
	"testing"

	"github.com/nucleus/socrata-core/internal/connector/http"
)

// stubTransport scripts HTTP responses for catalog and resource requests.
type stubTransport struct {
	fn func(req *nethttp.Request) (*nethttp.Response, error)
}

func (s stubTransport) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return s.fn(req)
}

func jsonResponse(status int, body string) *nethttp.Response {
	return &nethttp.Response{
		StatusCode: status,
		Header:     nethttp.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newStubClient(baseURL string, fn func(req *nethttp.Request) (*nethttp.Response, error)) *http.Client {
	return http.NewClient(&http.ClientConfig{
		BaseURL:   baseURL,
		RateLimit: 1000,
		RateBurst: 100,
		Transport: stubTransport{fn: fn},
	})
}

func catalogPageJSON(t *testing.T, ids ...string) string {
	t.Helper()
	page := CatalogPage{}
	for _, id := range ids {
		page.Results = append(page.Results, &DatasetDescriptor{
			Resource: Resource{
				ID:              id,
				Name:            "Dataset " + id,
				Type:            "dataset",
				ColumnsName:     []string{"id", "value"},
				ColumnsDatatype: []string{"text", "number"},
				DataUpdatedAt:   "2026-01-15T08:00:00.000000Z",
			},
			Metadata: ResourceMetadata{Domain: "data.example.org"},
		})
	}
	b, err := json.Marshal(page)
	if err != nil {
		t.Fatalf("marshal page: %v", err)
	}
	return string(b)
}

func TestCatalogBaseURL(t *testing.T) {
	cases := []struct {
		domains []string
		want    string
	}{
		{[]string{"data.cityofchicago.org"}, CatalogBaseUS},
		{[]string{"opendata.paris.eu"}, CatalogBaseEU},
		{[]string{"OpenData.Paris.EU"}, CatalogBaseEU},
		// Only the first domain decides.
		{[]string{"data.example.org", "opendata.paris.eu"}, CatalogBaseUS},
		{nil, CatalogBaseUS},
	}
	for _, tc := range cases {
		if got := CatalogBaseURL(tc.domains); got != tc.want {
			t.Errorf("CatalogBaseURL(%v) = %q, want %q", tc.domains, got, tc.want)
		}
	}
}

func TestCatalogExplorer_Discover(t *testing.T) {
	pageSize := 2
	var requests []string

	pages := []string{
		catalogPageJSON(t, "aaaa-0001", "aaaa-0002"),
		catalogPageJSON(t, "aaaa-0003", "aaaa-0004"),
		catalogPageJSON(t, "aaaa-0005"),
		`{"results": []}`,
	}

	client := newStubClient(CatalogBaseUS, func(req *nethttp.Request) (*nethttp.Response, error) {
		requests = append(requests, req.URL.RawQuery)
		page := pages[0]
		if len(pages) > 1 {
			pages = pages[1:]
		}
		return jsonResponse(200, page), nil
	})

	explorer := NewCatalogExplorer(client, []string{"data.example.org"}, pageSize)
	descriptors, err := explorer.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if len(descriptors) != 5 {
		t.Errorf("expected 5 descriptors, got %d", len(descriptors))
	}
	// The short third page must not terminate discovery; the empty probe does.
	if len(requests) != 4 {
		t.Fatalf("expected 4 requests, got %d: %v", len(requests), requests)
	}
	if !strings.Contains(requests[0], "offset=0") {
		t.Errorf("first request missing offset=0: %s", requests[0])
	}
	if !strings.Contains(requests[2], "offset=4") {
		t.Errorf("third request at wrong offset: %s", requests[2])
	}
	// Offset advances by returned count, not page size.
	if !strings.Contains(requests[3], "offset=5") {
		t.Errorf("probe request at wrong offset: %s", requests[3])
	}
	for _, q := range requests {
		if !strings.Contains(q, "domains=data.example.org") {
			t.Errorf("request missing domains filter: %s", q)
		}
	}
}

func TestCatalogExplorer_AbortsOnError(t *testing.T) {
	client := newStubClient(CatalogBaseUS, func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(403, `{"error":"forbidden"}`), nil
	})

	explorer := NewCatalogExplorer(client, []string{"data.example.org"}, 100)
	_, err := explorer.Discover(context.Background())
	if err == nil {
		t.Fatal("expected error on 403")
	}
	if !strings.Contains(err.Error(), "offset 0") {
		t.Errorf("error should name the failing offset: %v", err)
	}
}

func TestSocrata_DiscoverStreamsDropsBadDatasets(t *testing.T) {
	good := catalogPageJSON(t, "good-0001")

	var bad CatalogPage
	if err := json.Unmarshal([]byte(good), &bad); err != nil {
		t.Fatal(err)
	}
	bad.Results[0].Resource.ID = "badd-0001"
	bad.Results[0].Resource.ColumnsName = nil
	badJSON, _ := json.Marshal(bad)

	merged := fmt.Sprintf(`{"results": %s}`, mergeResults(t, good, string(badJSON)))
	pages := []string{merged, `{"results": []}`}

	source := newTestSource(t, func(req *nethttp.Request) (*nethttp.Response, error) {
		page := pages[0]
		if len(pages) > 1 {
			pages = pages[1:]
		}
		return jsonResponse(200, page), nil
	})

	var warnings []string
	source.Warnf = func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	streams, err := source.DiscoverStreams(context.Background())
	if err != nil {
		t.Fatalf("DiscoverStreams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("expected 1 surviving stream, got %d", len(streams))
	}
	if streams[0].DatasetID != "good-0001" {
		t.Errorf("wrong survivor: %s", streams[0].DatasetID)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "badd-0001") {
		t.Errorf("dropped dataset must be logged, got %v", warnings)
	}
}

func mergeResults(t *testing.T, pages ...string) string {
	t.Helper()
	var all []json.RawMessage
	for _, p := range pages {
		var page struct {
			Results []json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal([]byte(p), &page); err != nil {
			t.Fatalf("unmarshal page: %v", err)
		}
		all = append(all, page.Results...)
	}
	b, _ := json.Marshal(all)
	return string(b)
}

// newTestSource builds a Socrata connector whose transport is the stub.
func newTestSource(t *testing.T, fn func(req *nethttp.Request) (*nethttp.Response, error)) *Socrata {
	t.Helper()
	source, err := New(&Config{Domains: []string{"data.example.org"}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	source.Client = newStubClient(CatalogBaseUS, fn)
	return source
}
