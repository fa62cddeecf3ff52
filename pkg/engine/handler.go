package engine

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getrestd/restd/internal/keylock"
	"github.com/getrestd/restd/pkg/etag"
	"github.com/getrestd/restd/pkg/httputil"
	"github.com/getrestd/restd/pkg/interceptor"
	"github.com/getrestd/restd/pkg/schema"
	"github.com/getrestd/restd/pkg/storage"
)

// handler runs the request pipeline. All fields are set at construction and
// read-only afterwards; the storage gateway is the only mutable collaborator.
type handler struct {
	log     *slog.Logger
	gateway storage.Gateway
	schemas *schema.Set
	chain   interceptor.Chain

	allowed map[string]struct{} // nil disables allow-listing
	prefix  string              // "" or "/prefix"
	static  http.Handler        // optional, serves paths outside the prefix

	cacheControl          string
	delay                 time.Duration
	returnNullFields      bool
	allowDeleteCollection bool
	etags                 bool

	locks keylock.Map
}

// statusWriter records the status code for request logging.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic while handling request",
				"method", r.Method, "path", r.URL.Path, "error", rec)
			httputil.WriteError(sw, http.StatusInternalServerError, fmt.Sprintf("%v", rec))
		}
		h.log.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", sw.status, "duration", time.Since(start))
	}()

	if h.delay > 0 {
		time.Sleep(h.delay)
	}

	path := r.URL.Path
	if h.prefix != "" {
		rest, ok := strings.CutPrefix(path, h.prefix)
		if !ok || (rest != "" && !strings.HasPrefix(rest, "/")) {
			// Outside the API prefix: static territory.
			h.serveOutsideAPI(sw, r)
			return
		}
		path = rest
	}

	resource, id := resolvePath(path)
	if resource == "" {
		h.serveOutsideAPI(sw, r)
		return
	}

	if err := checkResource(resource, h.allowed); err != nil {
		writeError(sw, err)
		return
	}

	rec, err := normalize(r, resource, id)
	if err != nil {
		writeError(sw, err)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		err = h.handleGet(sw, r, rec)
	case http.MethodPost:
		err = h.handlePost(sw, r, rec)
	case http.MethodPut:
		err = h.handleWrite(sw, r, rec, schema.VerbPut)
	case http.MethodPatch:
		err = h.handleWrite(sw, r, rec, schema.VerbPatch)
	case http.MethodDelete:
		err = h.handleDelete(sw, r, rec)
	default:
		err = errMethodNotAllowed(r.Method)
	}
	if err != nil {
		writeError(sw, err)
	}
}

// serveOutsideAPI handles paths that do not resolve to a resource route:
// the static folder when configured, a 404 otherwise.
func (h *handler) serveOutsideAPI(w http.ResponseWriter, r *http.Request) {
	if h.static != nil && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		h.static.ServeHTTP(w, r)
		return
	}
	writeError(w, errUnknownResource(strings.Trim(r.URL.Path, "/")))
}

// handleGet serves single-item fetches and collection lists. HEAD follows
// the same path; the assembler suppresses the body.
func (h *handler) handleGet(w http.ResponseWriter, r *http.Request, rec *requestRecord) error {
	ctx := r.Context()
	meta := responseMeta{cache: true}

	var body any
	if rec.id == "" {
		items, err := h.gateway.GetAll(ctx, rec.resource)
		if err != nil {
			return err
		}
		if h.etags {
			meta.tag = etag.ComputeCollection(items)
		}
		body = items
	} else {
		item, err := h.gateway.GetByID(ctx, rec.resource, rec.id)
		if err != nil {
			return err
		}
		if h.etags {
			meta.tag = etag.Compute(item)
		}
		body = item
	}

	if h.etags && rec.ifNoneMatch != "" && etag.Match(rec.ifNoneMatch, meta.tag) {
		h.writeResponse(w, r, http.StatusNotModified, nil, meta)
		return nil
	}

	body, err := h.interceptResponse(rec.resource, rec.id, body)
	if err != nil {
		return err
	}
	h.writeResponse(w, r, http.StatusOK, body, meta)
	return nil
}

// handlePost creates a new item and points at it with a Location header.
func (h *handler) handlePost(w http.ResponseWriter, r *http.Request, rec *requestRecord) error {
	if err := h.schemas.Validate(rec.resource, schema.VerbPost, rec.body); err != nil {
		return errSchemaViolation(err)
	}
	body, err := h.interceptRequest(schema.VerbPost, rec.resource, rec.body)
	if err != nil {
		return err
	}

	created, err := h.gateway.Create(r.Context(), rec.resource, storage.Item(body))
	if err != nil {
		return err
	}

	respBody, err := h.interceptResponse(rec.resource, created.ID(), created)
	if err != nil {
		return err
	}

	meta := responseMeta{
		location: fmt.Sprintf("%s://%s%s/%s/%s", rec.protocol, rec.host, h.prefix, rec.resource, created.ID()),
	}
	if h.etags {
		meta.tag = etag.Compute(created)
	}
	h.writeResponse(w, r, http.StatusCreated, respBody, meta)
	return nil
}

// handleWrite serves PUT (full replacement) and PATCH (top-level merge).
// The read-compare-mutate sequence runs under the item's lock so concurrent
// writers with the same stale tag cannot both succeed.
func (h *handler) handleWrite(w http.ResponseWriter, r *http.Request, rec *requestRecord, verb string) error {
	if err := h.schemas.Validate(rec.resource, verb, rec.body); err != nil {
		return errSchemaViolation(err)
	}
	body, err := h.interceptRequest(verb, rec.resource, rec.body)
	if err != nil {
		return err
	}
	if h.etags && rec.ifMatch == "" {
		return errMissingPrecondition()
	}

	unlock := h.locks.Lock(itemKey(rec.resource, rec.id))
	defer unlock()

	current, err := h.gateway.GetByID(r.Context(), rec.resource, rec.id)
	if err != nil {
		return err
	}
	if h.etags && !etag.Match(rec.ifMatch, etag.Compute(current)) {
		return errPreconditionFailed()
	}

	var stored storage.Item
	if verb == schema.VerbPut {
		item := storage.Item(body).Clone()
		item[storage.IDField] = rec.id
		stored, err = h.gateway.Replace(r.Context(), rec.resource, item)
	} else {
		item := current.Clone()
		for k, v := range body {
			item[k] = v
		}
		stored, err = h.gateway.Update(r.Context(), rec.resource, item)
	}
	if err != nil {
		return err
	}

	respBody, err := h.interceptResponse(rec.resource, rec.id, stored)
	if err != nil {
		return err
	}
	meta := responseMeta{}
	if h.etags {
		meta.tag = etag.Compute(stored)
	}
	h.writeResponse(w, r, http.StatusOK, respBody, meta)
	return nil
}

// handleDelete serves single-item and whole-collection deletes. Both are
// idempotent: deleting what is already gone succeeds.
func (h *handler) handleDelete(w http.ResponseWriter, r *http.Request, rec *requestRecord) error {
	ctx := r.Context()

	if rec.id == "" {
		if !h.allowDeleteCollection {
			return errDeleteCollectionDisabled()
		}
		if h.etags {
			if rec.ifMatch == "" {
				return errMissingPrecondition()
			}
			unlock := h.locks.Lock(itemKey(rec.resource, ""))
			defer unlock()
			items, err := h.gateway.GetAll(ctx, rec.resource)
			if err != nil {
				return err
			}
			if !etag.Match(rec.ifMatch, etag.ComputeCollection(items)) {
				return errPreconditionFailed()
			}
		}
		if err := h.gateway.DeleteAll(ctx, rec.resource); err != nil {
			return err
		}
		h.writeResponse(w, r, http.StatusNoContent, nil, responseMeta{})
		return nil
	}

	if h.etags {
		if rec.ifMatch == "" {
			return errMissingPrecondition()
		}
		unlock := h.locks.Lock(itemKey(rec.resource, rec.id))
		defer unlock()

		current, err := h.gateway.GetByID(ctx, rec.resource, rec.id)
		if err != nil {
			if isNotFound(err) {
				// Already gone: the precondition race window is closed, so
				// even a stale tag deletes successfully.
				h.writeResponse(w, r, http.StatusNoContent, nil, responseMeta{})
				return nil
			}
			return err
		}
		if !etag.Match(rec.ifMatch, etag.Compute(current)) {
			return errPreconditionFailed()
		}
		if err := h.gateway.DeleteByID(ctx, rec.resource, rec.id); err != nil {
			return err
		}
		h.writeResponse(w, r, http.StatusNoContent, nil, responseMeta{})
		return nil
	}

	if err := h.gateway.DeleteByID(ctx, rec.resource, rec.id); err != nil {
		return err
	}
	h.writeResponse(w, r, http.StatusNoContent, nil, responseMeta{})
	return nil
}

// interceptRequest runs the per-verb request hook on an already validated
// body and applies its tagged result.
func (h *handler) interceptRequest(verb, resource string, body map[string]any) (map[string]any, error) {
	fn := h.chain.ForVerb(verb)
	if fn == nil {
		return body, nil
	}
	result, err := fn(interceptor.Request{Resource: resource, Body: body})
	if err != nil {
		return nil, err
	}
	switch result.Kind() {
	case interceptor.KindReject:
		return nil, errInterceptorReject(result.Message())
	case interceptor.KindReplace:
		if result.Body() != nil {
			return result.Body(), nil
		}
		return body, nil
	default:
		return body, nil
	}
}

// interceptResponse runs the response hook; a nil return keeps the original
// body.
func (h *handler) interceptResponse(resource, id string, body any) (any, error) {
	if h.chain.Response == nil {
		return body, nil
	}
	out, err := h.chain.Response(interceptor.Response{Resource: resource, ID: id, Body: body})
	if err != nil {
		return nil, err
	}
	if out == nil {
		return body, nil
	}
	return out, nil
}
