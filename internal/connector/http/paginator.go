package http

import (
	"net/url"
	"strconv"
)

// =============================================================================
// OFFSET PAGINATION
// =============================================================================

// OffsetPaginator pages through an offset/limit API where the server gives no
// total count: the offset advances by the number of records each page actually
// returned, and an empty page always ends the scan. This count-based advance
// is what makes offset paging deterministic against a stably-ordered result
// set.
type OffsetPaginator struct {
	Path  string
	Limit int

	// OffsetKey and LimitKey name the query parameters (e.g. "offset"/"limit"
	// for the catalog API, "$offset"/"$limit" for resource queries).
	OffsetKey string
	LimitKey  string

	// Query carries base parameters repeated on every page (e.g. "$order").
	Query url.Values

	// OmitZeroOffset leaves the offset parameter off the first page request.
	OmitZeroOffset bool

	// StopOnShortPage ends the scan when a page returns fewer records than
	// Limit, saving the trailing empty-page probe. When false, only an empty
	// page terminates.
	StopOnShortPage bool

	offset int
}

// Offset returns the current offset.
func (p *OffsetPaginator) Offset() int {
	return p.offset
}

// FirstPage returns the request for the current page.
func (p *OffsetPaginator) FirstPage() *Request {
	query := url.Values{}
	for k, vs := range p.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set(p.LimitKey, strconv.Itoa(p.Limit))
	if p.offset > 0 || !p.OmitZeroOffset {
		query.Set(p.OffsetKey, strconv.Itoa(p.offset))
	}
	return &Request{
		Method: "GET",
		Path:   p.Path,
		Query:  query,
	}
}

// NextPage advances past a page of returned records and builds the next
// request, or returns nil when the scan is complete.
func (p *OffsetPaginator) NextPage(returned int) *Request {
	if returned == 0 {
		return nil
	}
	if p.StopOnShortPage && returned < p.Limit {
		return nil
	}
	p.offset += returned
	return p.FirstPage()
}
