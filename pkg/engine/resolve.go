package engine

import "strings"

// resolvePath maps a request path to a resource name and item id. Empty
// segments (repeated slashes) collapse; the first remaining segment is the
// resource, the second the id, and anything further is ignored. No decoding
// or case folding happens here; the gate compares case-insensitively.
func resolvePath(path string) (resource, id string) {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			segments = append(segments, seg)
		}
	}
	if len(segments) > 0 {
		resource = segments[0]
	}
	if len(segments) > 1 {
		id = segments[1]
	}
	return resource, id
}

// checkResource validates the resolved resource name against the allow-list.
// A nil allow-list means allow-listing is disabled. Runs before any storage
// access so invalid resources never reach the backend.
func checkResource(resource string, allowed map[string]struct{}) error {
	if allowed == nil {
		return nil
	}
	if _, ok := allowed[strings.ToLower(resource)]; !ok {
		return errUnknownResource(resource)
	}
	return nil
}
