package socrata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/nucleus/socrata-core/internal/connector/http"
	"github.com/nucleus/socrata-core/internal/endpoint"
)

// =============================================================================
// REPLICATION ENGINE
// Per-stream incremental-skip decision + offset pagination + record tagging.
// States: INIT -> (SKIP | PAGINATING) -> DONE.
// =============================================================================

// orderColumn is the internal Socrata row identifier. Ordering by it is
// mandatory: the service offers no other stable sort, and offset pagination
// over an unordered set would skip or duplicate rows under concurrent writes.
const orderColumn = ":id"

type syncState int

const (
	stateInit syncState = iota
	stateSkip
	statePaginating
	stateDone
)

// StreamSync lazily paginates one stream's records for a single sync run.
// It implements endpoint.Iterator[endpoint.Record]; each instance owns its
// own cursor and bookmark read, so independent streams can run in parallel.
// A new StreamSync must be created per sync: there is no shared iterator
// state across runs.
type StreamSync struct {
	client *http.Client
	spec   *StreamSpec
	limit  int

	// bookmark is the replication-key value persisted by a prior sync,
	// read once at construction and never written here.
	bookmark *time.Time

	ctx       context.Context
	state     syncState
	paginator *http.OffsetPaginator
	nextReq   *http.Request

	page     []endpoint.Record
	pageIdx  int
	requests int
	err      error
}

// NewStreamSync prepares a sync for one stream. limit <= 0 uses the default
// page limit.
func NewStreamSync(ctx context.Context, client *http.Client, spec *StreamSpec, bookmark *time.Time, limit int) *StreamSync {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	paginator := &http.OffsetPaginator{
		Limit:     limit,
		OffsetKey: "$offset",
		LimitKey:  "$limit",
		Query: url.Values{
			"$order": []string{orderColumn},
		},
		OmitZeroOffset:  true,
		StopOnShortPage: true,
	}

	return &StreamSync{
		client:    client,
		spec:      spec,
		limit:     limit,
		bookmark:  bookmark,
		ctx:       ctx,
		paginator: paginator,
	}
}

// resourceURL is the per-domain extraction endpoint. Map-kind datasets switch
// to the GeoJSON representation.
func (s *StreamSync) resourceURL() string {
	ext := "json"
	if s.spec.Kind == DatasetKindMap {
		ext = "geojson"
	}
	return fmt.Sprintf("https://%s/resource/%s.%s", s.spec.Domain, s.spec.DatasetID, ext)
}

// Next advances to the next record, fetching pages as needed.
func (s *StreamSync) Next() bool {
	if s.err != nil {
		return false
	}

	for {
		switch s.state {
		case stateInit:
			// A bookmark at or past the stream watermark means the dataset
			// has not changed since the last sync: yield nothing.
			if s.bookmark != nil && s.spec.DataUpdatedAt != nil &&
				!s.bookmark.UTC().Before(s.spec.DataUpdatedAt.UTC()) {
				s.state = stateSkip
				continue
			}
			s.state = statePaginating
			s.nextReq = s.paginator.FirstPage()

		case stateSkip, stateDone:
			return false

		case statePaginating:
			if s.pageIdx < len(s.page) {
				return true
			}
			if s.nextReq == nil {
				s.state = stateDone
				continue
			}
			if err := s.fetchPage(); err != nil {
				s.err = err
				return false
			}
		}
	}
}

// fetchPage issues one page request and stages its records. Any non-success
// response is fatal for this stream's sync.
func (s *StreamSync) fetchPage() error {
	req := s.nextReq
	req.URL = s.resourceURL()

	resp, err := s.client.Do(s.ctx, req)
	if err != nil {
		return fmt.Errorf("fetch page at offset %d: %w", s.paginator.Offset(), err)
	}
	s.requests++

	rows, err := parseRecords(resp, s.spec.Kind)
	if err != nil {
		return fmt.Errorf("parse page at offset %d: %w", s.paginator.Offset(), err)
	}

	if s.spec.DataUpdatedAt != nil {
		watermark := FormatWatermark(*s.spec.DataUpdatedAt)
		for _, row := range rows {
			row[ReplicationKey] = watermark
		}
	}

	s.page = rows
	s.pageIdx = 0
	s.nextReq = s.paginator.NextPage(len(rows))
	return nil
}

// Value returns the current record and advances past it.
func (s *StreamSync) Value() endpoint.Record {
	if s.pageIdx < len(s.page) {
		rec := s.page[s.pageIdx]
		s.pageIdx++
		return rec
	}
	return nil
}

// Err returns any error encountered during the sync.
func (s *StreamSync) Err() error { return s.err }

// Close terminates the sync; no further requests are issued.
func (s *StreamSync) Close() error {
	s.state = stateDone
	s.page = nil
	return nil
}

// Skipped reports whether the incremental-skip decision ended the sync
// before any page was requested.
func (s *StreamSync) Skipped() bool { return s.state == stateSkip }

// Requests returns the number of page requests issued so far.
func (s *StreamSync) Requests() int { return s.requests }

// =============================================================================
// RESPONSE PARSING
// =============================================================================

// geoFeatureCollection is the GeoJSON shape served for map-kind datasets.
type geoFeatureCollection struct {
	Type     string           `json:"type"`
	Features []map[string]any `json:"features"`
}

// parseRecords extracts row records from a page response. Tabular datasets
// return a bare JSON array of row objects; map-kind datasets return a
// feature collection whose features are the records. Numeric fields decode
// as json.Number so arbitrary-precision decimals survive unchanged.
func parseRecords(resp *http.Response, kind string) ([]endpoint.Record, error) {
	if kind == DatasetKindMap {
		var fc geoFeatureCollection
		// A decoded FeatureCollection object is authoritative even when
		// features is null: that is the empty page past the last row.
		if err := resp.JSONNumber(&fc); err == nil &&
			(strings.EqualFold(fc.Type, "FeatureCollection") || fc.Features != nil) {
			rows := make([]endpoint.Record, 0, len(fc.Features))
			for _, f := range fc.Features {
				rows = append(rows, endpoint.Record(f))
			}
			return rows, nil
		}
		// Some map resources answer with a bare array; fall through.
	}

	var rows []map[string]any
	if err := resp.JSONNumber(&rows); err != nil {
		return nil, err
	}
	records := make([]endpoint.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, endpoint.Record(row))
	}
	return records, nil
}

// FormatWatermark renders a watermark in the catalog's timestamp format.
func FormatWatermark(ts time.Time) string {
	return ts.UTC().Format(watermarkLayouts[0])
}
