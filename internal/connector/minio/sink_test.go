package minio

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nucleus/socrata-core/internal/endpoint"
	"github.com/nucleus/socrata-core/pkg/staging"
)

func newLocalEndpoint(t *testing.T) (*Endpoint, string) {
	t.Helper()
	root := t.TempDir()
	ep, err := New(map[string]any{
		"endpointUrl": "file://local",
		"rootPath":    root,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ep, root
}

func testRecords(n int) []endpoint.Record {
	out := make([]endpoint.Record, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, endpoint.Record{
			"id":               i,
			"name":             "row",
			"_data_updated_at": "2026-01-15T08:00:00.000000Z",
		})
	}
	return out
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg := ParseConfig(map[string]any{"endpointUrl": "http://localhost:9000"})
	if cfg.Bucket != defaultBucket {
		t.Errorf("bucket = %q", cfg.Bucket)
	}
	if cfg.BasePrefix != defaultBasePrefix {
		t.Errorf("basePrefix = %q", cfg.BasePrefix)
	}
	if cfg.TenantID != defaultTenantID {
		t.Errorf("tenantId = %q", cfg.TenantID)
	}
}

func TestConfigValidate_HTTPRequiresCredentials(t *testing.T) {
	cfg := ParseConfig(map[string]any{"endpointUrl": "http://localhost:9000"})
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected credential error")
	}
	if !strings.Contains(err.Error(), CodeAuthInvalid) {
		t.Errorf("error = %v", err)
	}

	cfg = ParseConfig(map[string]any{"endpointUrl": "file:///data"})
	if err := cfg.Validate(); err != nil {
		t.Errorf("file endpoint must not require credentials: %v", err)
	}
}

func TestWriteRaw_JSONLinesLayout(t *testing.T) {
	ep, root := newLocalEndpoint(t)
	ctx := context.Background()

	if err := ep.Provision(ctx, "crimes_abcd_1234", nil); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	res, err := ep.WriteRaw(ctx, &endpoint.WriteRequest{
		DatasetID: "crimes_abcd_1234",
		Mode:      "append",
		LoadDate:  "2026-01-15",
		RunID:     "run-1",
		Records:   testRecords(3),
	})
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if res.RowsWritten != 3 {
		t.Errorf("rows written = %d", res.RowsWritten)
	}

	want := filepath.Join(root, defaultBucket, "sink", "default",
		"crimes_abcd_1234", "dt=2026-01-15", "run=run-1", "part-000000.jsonl.gz")
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("part file missing at partition path: %v", err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip: %v", err)
	}
	dec := json.NewDecoder(gz)
	count := 0
	for dec.More() {
		var row map[string]any
		if err := dec.Decode(&row); err != nil {
			t.Fatalf("decode row: %v", err)
		}
		if row["_data_updated_at"] != "2026-01-15T08:00:00.000000Z" {
			t.Errorf("row lost watermark tag: %v", row)
		}
		count++
	}
	if count != 3 {
		t.Errorf("expected 3 rows in part file, got %d", count)
	}
}

func TestWriteRaw_PartSequenceAdvances(t *testing.T) {
	ep, root := newLocalEndpoint(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := ep.WriteRaw(ctx, &endpoint.WriteRequest{
			DatasetID: "crimes",
			LoadDate:  "2026-01-15",
			RunID:     "run-1",
			Records:   testRecords(1),
		})
		if err != nil {
			t.Fatalf("WriteRaw %d: %v", i, err)
		}
	}

	dir := filepath.Join(root, defaultBucket, "sink", "default", "crimes",
		"dt=2026-01-15", "run=run-1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read run dir: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 part files, got %d", len(entries))
	}
	if entries[0].Name() != "part-000000.jsonl.gz" || entries[2].Name() != "part-000002.jsonl.gz" {
		t.Errorf("unexpected part names: %v, %v", entries[0].Name(), entries[2].Name())
	}
}

func TestWriteRaw_ParquetWithSchema(t *testing.T) {
	ep, root := newLocalEndpoint(t)
	ctx := context.Background()

	schema := &endpoint.Schema{
		Fields: []*endpoint.FieldDefinition{
			{Name: "id", DataType: "STRING", Nullable: true, Position: 1},
			{Name: "amount", DataType: "NUMBER", Nullable: true, Position: 2},
		},
	}
	records := []endpoint.Record{
		{"id": "row-0", "amount": 12.5},
		{"id": "row-1", "amount": 99.0},
	}

	res, err := ep.WriteRaw(ctx, &endpoint.WriteRequest{
		DatasetID: "payments",
		LoadDate:  "2026-01-15",
		RunID:     "run-1",
		Records:   records,
		Schema:    schema,
	})
	if err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Errorf("rows written = %d", res.RowsWritten)
	}

	dir := filepath.Join(root, defaultBucket, "sink", "default", "payments",
		"dt=2026-01-15", "run=run-1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read run dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 part file, got %d", len(entries))
	}
	// Parquet when the writer accepts the schema, JSONL fallback otherwise;
	// either way exactly one part lands under the partition.
	name := entries[0].Name()
	if !strings.HasPrefix(name, "part-000000.") {
		t.Errorf("unexpected part name %q", name)
	}
}

func TestWriteFromStage_GroupsByStream(t *testing.T) {
	ep, root := newLocalEndpoint(t)
	ctx := context.Background()

	provider := staging.NewMemoryProvider(0)
	envs := []staging.RecordEnvelope{
		{Stream: "crimes", Payload: map[string]any{"id": 1}},
		{Stream: "permits", Payload: map[string]any{"id": 2}},
		{Stream: "crimes", Payload: map[string]any{"id": 3}},
	}
	put, err := provider.PutBatch(ctx, &staging.PutBatchRequest{Stream: "mixed", Records: envs})
	if err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	res, err := ep.WriteFromStage(ctx, provider, &endpoint.StageWriteRequest{
		StageRef:  put.StageRef,
		BatchRefs: []string{put.BatchRef},
		RunID:     "run-7",
		LoadDate:  "2026-01-15",
	})
	if err != nil {
		t.Fatalf("WriteFromStage: %v", err)
	}
	if res.Records != 3 {
		t.Errorf("records = %d", res.Records)
	}
	if len(res.Objects) != 2 {
		t.Errorf("expected one object per stream, got %v", res.Objects)
	}

	for _, stream := range []string{"crimes", "permits"} {
		path := filepath.Join(root, defaultBucket, "sink", "default", stream,
			"dt=2026-01-15", "run=run-7", "part-000000.jsonl.gz")
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing part for stream %s: %v", stream, err)
		}
	}
}

func TestFinalize(t *testing.T) {
	ep, _ := newLocalEndpoint(t)

	res, err := ep.Finalize(context.Background(), "crimes", "2026-01-15")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := "minio://" + defaultBucket + "/sink/default/crimes/dt=2026-01-15"
	if res.FinalPath != want {
		t.Errorf("final path = %q, want %q", res.FinalPath, want)
	}
}

func TestValidateConfig_LocalStore(t *testing.T) {
	ep, _ := newLocalEndpoint(t)

	res, err := ep.ValidateConfig(context.Background(), map[string]any{
		"endpointUrl": "file://local",
		"rootPath":    t.TempDir(),
	})
	if err != nil {
		t.Fatalf("ValidateConfig: %v", err)
	}
	if !res.Valid {
		t.Errorf("expected valid, got %q", res.Message)
	}
}
