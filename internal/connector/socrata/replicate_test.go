package socrata

import (
	"context"
	"encoding/json"
	"fmt"
	nethttp "net/http"
	"strings"
	"testing"
	"time"
)

func testStreamSpec(t *testing.T) *StreamSpec {
	t.Helper()
	spec, err := BuildStreamSpec(testDescriptor())
	if err != nil {
		t.Fatalf("BuildStreamSpec: %v", err)
	}
	return spec
}

// rowsJSON renders n row objects with sequential ids starting at first.
func rowsJSON(first, n int) string {
	rows := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, map[string]any{
			"id":     fmt.Sprintf("row-%d", first+i),
			"amount": first + i,
		})
	}
	b, _ := json.Marshal(rows)
	return string(b)
}

func collectRecords(t *testing.T, s *StreamSync) []map[string]any {
	t.Helper()
	var out []map[string]any
	for s.Next() {
		out = append(out, s.Value())
	}
	if err := s.Err(); err != nil {
		t.Fatalf("sync error: %v", err)
	}
	return out
}

func TestStreamSync_SkipsWhenBookmarkCurrent(t *testing.T) {
	spec := testStreamSpec(t)

	requests := 0
	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		requests++
		return jsonResponse(200, "[]"), nil
	})

	// Bookmark equal to the watermark: nothing changed since last sync.
	bookmark := *spec.DataUpdatedAt
	s := NewStreamSync(context.Background(), client, spec, &bookmark, 100)
	defer s.Close()

	if s.Next() {
		t.Error("expected no records")
	}
	if !s.Skipped() {
		t.Error("expected skip decision")
	}
	if requests != 0 {
		t.Errorf("skip must issue no requests, got %d", requests)
	}

	// A later bookmark also skips.
	later := spec.DataUpdatedAt.Add(time.Hour)
	s2 := NewStreamSync(context.Background(), client, spec, &later, 100)
	defer s2.Close()
	if s2.Next() || !s2.Skipped() {
		t.Error("bookmark past watermark must skip")
	}
}

func TestStreamSync_StaleBookmarkProceeds(t *testing.T) {
	spec := testStreamSpec(t)

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, rowsJSON(0, 1)), nil
	})

	stale := spec.DataUpdatedAt.Add(-time.Hour)
	s := NewStreamSync(context.Background(), client, spec, &stale, 100)
	defer s.Close()

	records := collectRecords(t, s)
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
	if s.Skipped() {
		t.Error("stale bookmark must not skip")
	}
}

func TestStreamSync_PaginationShortPageStops(t *testing.T) {
	spec := testStreamSpec(t)

	var queries []string
	var urls []string
	pages := []string{rowsJSON(0, 2), rowsJSON(2, 2), rowsJSON(4, 1)}
	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		queries = append(queries, req.URL.RawQuery)
		urls = append(urls, req.URL.Scheme+"://"+req.URL.Host+req.URL.Path)
		page := pages[0]
		if len(pages) > 1 {
			pages = pages[1:]
		}
		return jsonResponse(200, page), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 2)
	defer s.Close()

	records := collectRecords(t, s)
	if len(records) != 5 {
		t.Fatalf("expected 5 records, got %d", len(records))
	}
	// ceil(5/2) = 3 requests; the short last page ends the scan without a probe.
	if s.Requests() != 3 {
		t.Errorf("expected 3 requests, got %d", s.Requests())
	}

	if urls[0] != "https://data.example.org/resource/abcd-1234.json" {
		t.Errorf("unexpected resource URL: %s", urls[0])
	}
	if strings.Contains(queries[0], "offset") {
		t.Errorf("first page must omit $offset: %s", queries[0])
	}
	if !strings.Contains(queries[1], "%24offset=2") {
		t.Errorf("second page must carry $offset=2: %s", queries[1])
	}
	for _, q := range queries {
		if !strings.Contains(q, "%24order=%3Aid") {
			t.Errorf("request missing $order=:id: %s", q)
		}
	}
}

func TestStreamSync_ExactMultipleNeedsEmptyProbe(t *testing.T) {
	spec := testStreamSpec(t)

	pages := []string{rowsJSON(0, 2), rowsJSON(2, 2), "[]"}
	requests := 0
	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		requests++
		page := pages[0]
		if len(pages) > 1 {
			pages = pages[1:]
		}
		return jsonResponse(200, page), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 2)
	defer s.Close()

	records := collectRecords(t, s)
	if len(records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(records))
	}
	// Two full pages cannot prove completion; the empty probe is required.
	if s.Requests() != 3 {
		t.Errorf("expected 3 requests, got %d", s.Requests())
	}
}

func TestStreamSync_TagsRecordsWithWatermark(t *testing.T) {
	spec := testStreamSpec(t)

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, rowsJSON(0, 2)), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	want := FormatWatermark(*spec.DataUpdatedAt)
	for _, rec := range collectRecords(t, s) {
		if got := rec[ReplicationKey]; got != want {
			t.Errorf("record watermark = %v, want %q", got, want)
		}
	}
}

func TestStreamSync_NoWatermarkNoTagging(t *testing.T) {
	spec := testStreamSpec(t)
	spec.DataUpdatedAt = nil
	spec.ReplicationKey = ""

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, rowsJSON(0, 1)), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	records := collectRecords(t, s)
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if _, ok := records[0][ReplicationKey]; ok {
		t.Error("records must not be tagged without a watermark")
	}
}

func TestStreamSync_PreservesDecimalPrecision(t *testing.T) {
	spec := testStreamSpec(t)

	const precise = "12345678901234567890.123456789"
	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, fmt.Sprintf(`[{"id":"row-0","amount":%s}]`, precise)), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	records := collectRecords(t, s)
	num, ok := records[0]["amount"].(json.Number)
	if !ok {
		t.Fatalf("expected json.Number, got %T", records[0]["amount"])
	}
	if num.String() != precise {
		t.Errorf("precision lost: %s", num)
	}
}

func TestStreamSync_GeoJSONFeatureCollection(t *testing.T) {
	spec := testStreamSpec(t)
	spec.Kind = DatasetKindMap

	var requestedPath string
	body := `{"type":"FeatureCollection","features":[` +
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[1.5,2.5]},"properties":{"name":"site-a"}},` +
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[3.5,4.5]},"properties":{"name":"site-b"}}]}`
	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		requestedPath = req.URL.Path
		return jsonResponse(200, body), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	records := collectRecords(t, s)
	if len(records) != 2 {
		t.Fatalf("expected 2 features, got %d", len(records))
	}
	if requestedPath != "/resource/abcd-1234.geojson" {
		t.Errorf("map dataset must use the geojson endpoint, got %s", requestedPath)
	}
	if records[0]["type"] != "Feature" {
		t.Errorf("feature shape lost: %v", records[0])
	}
}

func TestStreamSync_GeoJSONNullFeaturesIsEmptyPage(t *testing.T) {
	spec := testStreamSpec(t)
	spec.Kind = DatasetKindMap

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, `{"type":"FeatureCollection","features":null}`), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	if got := len(collectRecords(t, s)); got != 0 {
		t.Errorf("null features must yield no records, got %d", got)
	}
	if s.Err() != nil {
		t.Errorf("null features must not be an error: %v", s.Err())
	}
	if s.Requests() != 1 {
		t.Errorf("expected a single page request, got %d", s.Requests())
	}
}

func TestStreamSync_MapKindBareArrayFallback(t *testing.T) {
	spec := testStreamSpec(t)
	spec.Kind = DatasetKindMap

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(200, rowsJSON(0, 2)), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	if got := len(collectRecords(t, s)); got != 2 {
		t.Errorf("expected 2 records from bare-array fallback, got %d", got)
	}
}

func TestStreamSync_ErrorSurfacesViaErr(t *testing.T) {
	spec := testStreamSpec(t)

	client := newStubClient("", func(req *nethttp.Request) (*nethttp.Response, error) {
		return jsonResponse(404, "gone"), nil
	})

	s := NewStreamSync(context.Background(), client, spec, nil, 100)
	defer s.Close()

	if s.Next() {
		t.Error("expected no records on error")
	}
	if s.Err() == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(s.Err().Error(), "offset 0") {
		t.Errorf("error should name the failing offset: %v", s.Err())
	}
}
