// Package etag derives entity tags from item content and evaluates
// If-Match / If-None-Match preconditions.
//
// Tags are pure functions of content: two reads of unchanged state yield the
// same tag, and any field change yields a different one. They never depend
// on read time or process identity, so concurrent readers converge on the
// same tag for the same state.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/getrestd/restd/pkg/storage"
)

// Compute returns the entity tag for a single item: the hex SHA-256 of its
// canonical JSON serialization. encoding/json sorts map keys, which gives a
// canonical byte form for JSON-compatible maps.
func Compute(item storage.Item) string {
	data, err := json.Marshal(item)
	if err != nil {
		// Items come from decoded JSON, so this cannot fail in practice;
		// fall back to hashing the error text rather than panicking.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeCollection returns the tag for a resource's aggregate state. Items
// are ordered by id first so the tag is independent of retrieval order.
func ComputeCollection(items []storage.Item) string {
	sorted := make([]storage.Item, len(items))
	copy(sorted, items)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ID() < sorted[j].ID()
	})

	h := sha256.New()
	for _, item := range sorted {
		data, err := json.Marshal(item)
		if err != nil {
			data = []byte(err.Error())
		}
		h.Write(data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Quote renders a tag as a strong entity-tag header value.
func Quote(tag string) string {
	return `"` + tag + `"`
}

// normalize strips a weak-validator prefix and surrounding quotes so that
// clients echoing either the quoted or the raw form compare equal.
func normalize(tag string) string {
	tag = strings.TrimSpace(tag)
	tag = strings.TrimPrefix(tag, "W/")
	return strings.Trim(tag, `"`)
}

// Match reports whether an If-Match / If-None-Match header value matches the
// current tag. The header may carry a comma-separated list; "*" matches any
// current state.
func Match(headerValue, current string) bool {
	for _, candidate := range strings.Split(headerValue, ",") {
		candidate = normalize(candidate)
		if candidate == "" {
			continue
		}
		if candidate == "*" || candidate == current {
			return true
		}
	}
	return false
}
