package engine

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/getrestd/restd/pkg/storage"
)

// maxBodySize caps request bodies at 1 MiB.
const maxBodySize int64 = 1 << 20

// requestRecord is the typed, verb-specific view of an incoming request.
// It is built once by normalize and immutable afterwards.
type requestRecord struct {
	resource string
	id       string
	body     map[string]any
	protocol string // POST only, for the Location header
	host     string // POST only, for the Location header

	ifMatch     string
	ifNoneMatch string
}

// normalize builds the request record and applies the per-verb validation
// rules. Checks run in a fixed order and short-circuit: the first failure is
// the response, and later checks (including schema validation) never run.
func normalize(r *http.Request, resource, id string) (*requestRecord, error) {
	rec := &requestRecord{
		resource:    strings.ToLower(resource),
		id:          id,
		ifMatch:     r.Header.Get("If-Match"),
		ifNoneMatch: r.Header.Get("If-None-Match"),
	}

	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		if id == "" {
			return nil, errMissingIDInURL()
		}
	case http.MethodPost:
		if id != "" {
			return nil, errIDNotAllowedInURL()
		}
		rec.protocol, rec.host = requestOrigin(r)
	}

	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		body, err := readJSONBody(r)
		if err != nil {
			return nil, err
		}
		if _, ok := body[storage.IDField]; ok {
			return nil, errIDNotAllowedInBody()
		}
		rec.body = body
	}

	return rec, nil
}

// readJSONBody parses the request body into a JSON object. An empty body is
// treated as an empty object.
func readJSONBody(r *http.Request) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, errInvalidJSON(err)
	}
	if int64(len(data)) > maxBodySize {
		return nil, errPayloadTooLarge(maxBodySize)
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}

	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, errInvalidJSON(err)
	}
	if body == nil {
		return nil, errInvalidJSON(errors.New("body must be a JSON object"))
	}
	return body, nil
}

// requestOrigin derives the scheme and host used to synthesize the Location
// header for created items. A forwarding proxy's X-Forwarded-Proto wins over
// the transport scheme.
func requestOrigin(r *http.Request) (protocol, host string) {
	protocol = "http"
	if r.TLS != nil {
		protocol = "https"
	}
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		protocol = xf
	}
	return protocol, r.Host
}
