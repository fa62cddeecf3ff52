package engine

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/getrestd/restd/pkg/etag"
	"github.com/getrestd/restd/pkg/storage"
)

// responseMeta carries the header-shaping decisions of earlier stages into
// the assembler.
type responseMeta struct {
	tag      string // quoted into an ETag header when non-empty
	location string // Location header for created items
	cache    bool   // set Cache-Control (GET/HEAD only)
}

// writeResponse is the single exit point for success responses. It applies
// null-field filtering, serializes once so HEAD responses still carry an
// accurate Content-Length, and suppresses the body for HEAD and 304.
func (h *handler) writeResponse(w http.ResponseWriter, r *http.Request, status int, body any, meta responseMeta) {
	header := w.Header()
	if meta.tag != "" {
		header.Set("ETag", etag.Quote(meta.tag))
	}
	if meta.location != "" {
		header.Set("Location", meta.location)
	}
	if meta.cache && h.cacheControl != "" {
		header.Set("Cache-Control", h.cacheControl)
	}

	if status == http.StatusNoContent || status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}

	if !h.returnNullFields {
		body = stripNulls(body)
	}

	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, err)
		return
	}
	data = append(data, '\n')

	header.Set("Content-Type", "application/json")
	header.Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		_, _ = w.Write(data)
	}
}

// stripNulls removes top-level fields whose value is an explicit null from
// object bodies, and from each element of array bodies. The scope is
// deliberately shallow: nested objects keep their nulls.
func stripNulls(body any) any {
	switch v := body.(type) {
	case map[string]any:
		return stripNullFields(v)
	case storage.Item:
		return stripNullFields(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = stripNulls(e)
		}
		return out
	case []storage.Item:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = stripNullFields(e)
		}
		return out
	default:
		return body
	}
}

func stripNullFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
