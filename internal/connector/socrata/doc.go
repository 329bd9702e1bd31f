// Package socrata implements a Socrata open-data connector using the endpoint
// interfaces. It discovers every dataset published under the configured catalog
// domains, synthesizes a typed schema per dataset from the loosely-typed column
// metadata, and extracts records incrementally with stable offset pagination.
//
// Streams:
//   - one stream per discovered dataset (tabular or geospatial)
//   - replication key `_data_updated_at` when the catalog reports a
//     dataset-level "data last updated" timestamp; full re-scan otherwise
package socrata
