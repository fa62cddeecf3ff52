// Package engine implements the request processing pipeline of the resource
// server: URL-to-resource resolution, resource allow-listing, per-verb
// request normalization, JSON Schema validation, body interception,
// etag-based optimistic concurrency, and response assembly.
//
// Within a request the stages run strictly in that order and the first
// failing stage produces the response. Across requests no ordering is
// guaranteed beyond what the precondition checks enforce for a single item.
package engine
