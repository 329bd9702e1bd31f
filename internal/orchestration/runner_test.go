package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nucleus/socrata-core/internal/connector/http"
	"github.com/nucleus/socrata-core/internal/connector/minio"
	"github.com/nucleus/socrata-core/internal/connector/socrata"
	"github.com/nucleus/socrata-core/internal/state"
)

const testWatermark = "2026-01-15T08:00:00.000000Z"

type routeFunc func(req *nethttp.Request) (*nethttp.Response, error)

func (f routeFunc) RoundTrip(req *nethttp.Request) (*nethttp.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *nethttp.Response {
	return &nethttp.Response{
		StatusCode: status,
		Header:     nethttp.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func catalogJSON(t *testing.T, names map[string]string) string {
	t.Helper()
	type result struct {
		Resource map[string]any `json:"resource"`
		Metadata map[string]any `json:"metadata"`
	}
	var results []result
	for id, name := range names {
		results = append(results, result{
			Resource: map[string]any{
				"id":               id,
				"name":             name,
				"type":             "dataset",
				"columns_name":     []string{"id", "amount"},
				"columns_datatype": []string{"text", "number"},
				"data_updated_at":  testWatermark,
			},
			Metadata: map[string]any{"domain": "data.example.org"},
		})
	}
	b, err := json.Marshal(map[string]any{"results": results})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// newTestSource wires a Socrata connector to a stateless routing stub:
// catalog queries answer from the fixture, resource queries from rows.
func newTestSource(t *testing.T, catalog string, rows func(datasetID string) (int, string)) *socrata.Socrata {
	t.Helper()
	source, err := socrata.New(&socrata.Config{Domains: []string{"data.example.org"}})
	if err != nil {
		t.Fatalf("socrata.New: %v", err)
	}

	source.Client = http.NewClient(&http.ClientConfig{
		BaseURL:   socrata.CatalogBaseURL([]string{"data.example.org"}),
		RateLimit: 1000,
		RateBurst: 100,
		Transport: routeFunc(func(req *nethttp.Request) (*nethttp.Response, error) {
			if strings.Contains(req.URL.Host, "socrata.com") {
				if req.URL.Query().Get("offset") == "0" {
					return jsonResponse(200, catalog), nil
				}
				return jsonResponse(200, `{"results":[]}`), nil
			}
			// Resource fetch: /resource/<id>.json
			base := strings.TrimPrefix(req.URL.Path, "/resource/")
			datasetID := strings.TrimSuffix(base, ".json")
			status, body := rows(datasetID)
			return jsonResponse(status, body), nil
		}),
	})
	return source
}

func newTestRunner(t *testing.T, source *socrata.Socrata, store state.Store) (*SyncRunner, string) {
	t.Helper()
	root := t.TempDir()
	sink, err := minio.New(map[string]any{
		"endpointUrl": "file://local",
		"rootPath":    root,
	})
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}

	runner := NewSyncRunner(source, sink, store, BuildStagingRegistry(t.TempDir()), RunnerConfig{
		BatchSize: 2,
		LoadDate:  "2026-01-15",
	})
	runner.Logf = t.Logf
	return runner, root
}

func TestSyncRunner_EndToEnd(t *testing.T) {
	catalog := catalogJSON(t, map[string]string{"abcd-1234": "Crimes"})
	source := newTestSource(t, catalog, func(datasetID string) (int, string) {
		return 200, `[{"id":"r1","amount":1},{"id":"r2","amount":2},{"id":"r3","amount":3}]`
	})

	store := state.NewMemoryStore()
	runner, root := newTestRunner(t, source, store)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Streams) != 1 {
		t.Fatalf("expected 1 stream, got %d", len(summary.Streams))
	}

	st := summary.Streams[0]
	if st.Status != StatusSynced {
		t.Fatalf("status = %s (%s)", st.Status, st.Error)
	}
	if st.Records != 3 {
		t.Errorf("records = %d", st.Records)
	}
	if st.SinkPath == "" {
		t.Error("expected a sink path")
	}

	// Sink artifacts land under the partitioned layout; the 2-record batch
	// size forces two parts.
	dir := filepath.Join(root, "socrata-lake", "sink", "default",
		"crimes_abcd_1234", "dt=2026-01-15", "run="+summary.RunID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read sink dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 part files, got %d", len(entries))
	}

	// The bookmark advances to the catalog watermark.
	b, err := store.Get(context.Background(), "crimes_abcd_1234")
	if err != nil {
		t.Fatalf("Get bookmark: %v", err)
	}
	want, _ := time.Parse("2006-01-02T15:04:05.000000Z", testWatermark)
	if b == nil || !b.Watermark.Equal(want) {
		t.Errorf("bookmark = %+v, want %v", b, want)
	}
}

func TestSyncRunner_SecondRunSkips(t *testing.T) {
	catalog := catalogJSON(t, map[string]string{"abcd-1234": "Crimes"})
	resourceHits := 0
	source := newTestSource(t, catalog, func(datasetID string) (int, string) {
		resourceHits++
		return 200, `[{"id":"r1","amount":1}]`
	})

	store := state.NewMemoryStore()
	runner, _ := newTestRunner(t, source, store)

	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if resourceHits != 1 {
		t.Fatalf("expected 1 resource fetch in first run, got %d", resourceHits)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if summary.Streams[0].Status != StatusSkipped {
		t.Errorf("second run status = %s", summary.Streams[0].Status)
	}
	if resourceHits != 1 {
		t.Errorf("skipped run must not fetch the resource, got %d hits", resourceHits)
	}
}

func TestSyncRunner_StreamFailureIsolated(t *testing.T) {
	catalog := catalogJSON(t, map[string]string{
		"badd-0001": "Broken",
		"good-0002": "Working",
	})
	source := newTestSource(t, catalog, func(datasetID string) (int, string) {
		if datasetID == "badd-0001" {
			return 404, `{"error":"gone"}`
		}
		return 200, `[{"id":"r1","amount":1}]`
	})

	store := state.NewMemoryStore()
	runner, _ := newTestRunner(t, source, store)

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Streams) != 2 {
		t.Fatalf("expected 2 streams, got %d", len(summary.Streams))
	}

	byID := map[string]StreamSummary{}
	for _, st := range summary.Streams {
		byID[st.DatasetID] = st
	}
	if byID["badd-0001"].Status != StatusFailed {
		t.Errorf("broken stream status = %s", byID["badd-0001"].Status)
	}
	if byID["good-0002"].Status != StatusSynced {
		t.Errorf("working stream status = %s (%s)", byID["good-0002"].Status, byID["good-0002"].Error)
	}
	if summary.Failed() != 1 {
		t.Errorf("Failed() = %d", summary.Failed())
	}

	// The failed stream's bookmark must not advance.
	if b, _ := store.Get(context.Background(), byID["badd-0001"].Stream); b != nil {
		t.Errorf("failed stream advanced its bookmark: %+v", b)
	}
	if b, _ := store.Get(context.Background(), byID["good-0002"].Stream); b == nil {
		t.Error("synced stream must advance its bookmark")
	}
}

func TestSyncRunner_LargeStreamOutgrowsMemoryStaging(t *testing.T) {
	catalog := catalogJSON(t, map[string]string{"abcd-1234": "Crimes"})

	// ~3MB of rows, well past the in-memory staging byte cap.
	const total = 3000
	pad := strings.Repeat("x", 1024)
	var rows strings.Builder
	rows.WriteString("[")
	for i := 0; i < total; i++ {
		if i > 0 {
			rows.WriteString(",")
		}
		fmt.Fprintf(&rows, `{"id":"row-%d","value":"%s"}`, i, pad)
	}
	rows.WriteString("]")
	body := rows.String()

	source := newTestSource(t, catalog, func(datasetID string) (int, string) {
		return 200, body
	})

	store := state.NewMemoryStore()
	root := t.TempDir()
	sink, err := minio.New(map[string]any{
		"endpointUrl": "file://local",
		"rootPath":    root,
	})
	if err != nil {
		t.Fatalf("minio.New: %v", err)
	}

	runner := NewSyncRunner(source, sink, store, BuildStagingRegistry(t.TempDir()), RunnerConfig{
		BatchSize: 500,
		LoadDate:  "2026-01-15",
	})
	runner.Logf = t.Logf

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	st := summary.Streams[0]
	if st.Status != StatusSynced {
		t.Fatalf("status = %s (%s)", st.Status, st.Error)
	}
	if st.Records != total {
		t.Errorf("records = %d, want %d", st.Records, total)
	}

	// Every staged batch lands in the sink, including the ones staged in
	// memory before the move to object staging.
	dir := filepath.Join(root, "socrata-lake", "sink", "default",
		"crimes_abcd_1234", "dt=2026-01-15", "run="+summary.RunID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read sink dir: %v", err)
	}
	if len(entries) != total/500 {
		t.Errorf("expected %d part files, got %d", total/500, len(entries))
	}
}

func TestSyncRunner_StreamFilter(t *testing.T) {
	catalog := catalogJSON(t, map[string]string{
		"aaaa-0001": "First",
		"bbbb-0002": "Second",
	})
	source := newTestSource(t, catalog, func(datasetID string) (int, string) {
		return 200, fmt.Sprintf(`[{"id":"%s","amount":1}]`, datasetID)
	})

	runner, _ := newTestRunner(t, source, state.NewMemoryStore())
	runner.cfg.Streams = []string{"aaaa-0001"}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(summary.Streams) != 1 || summary.Streams[0].DatasetID != "aaaa-0001" {
		t.Errorf("filter not applied: %+v", summary.Streams)
	}
}
