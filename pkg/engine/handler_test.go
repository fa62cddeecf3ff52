package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getrestd/restd/pkg/config"
	"github.com/getrestd/restd/pkg/interceptor"
	"github.com/getrestd/restd/pkg/schema"
	"github.com/getrestd/restd/pkg/storage"
)

func newTestHandler(t *testing.T, mutate func(*config.Config), opts ...Option) http.Handler {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())
	srv, err := New(cfg, storage.NewMemory(), opts...)
	require.NoError(t, err)
	return srv.Handler()
}

func doRequest(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeObject(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) []any {
	t.Helper()
	var out []any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestCreateAndFetch(t *testing.T) {
	h := newTestHandler(t, nil)

	w := doRequest(h, http.MethodPost, "/articles", `{"title":"hello"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeObject(t, w)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, "hello", created["title"])
	assert.True(t, strings.HasSuffix(w.Header().Get("Location"), "/articles/"+id))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	w = doRequest(h, http.MethodGet, "/articles/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello", decodeObject(t, w)["title"])

	w = doRequest(h, http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeList(t, w), 1)
}

func TestEmptyCollectionIsAnArray(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doRequest(h, http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestResourceNamesAreCaseInsensitive(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doRequest(h, http.MethodPost, "/Articles", `{"title":"t"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(h, http.MethodGet, "/articles", "", nil)
	assert.Len(t, decodeList(t, w), 1)
}

func TestIDPlacementRules(t *testing.T) {
	h := newTestHandler(t, nil)

	w := doRequest(h, http.MethodPost, "/articles/some-id", `{"a":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(h, http.MethodPost, "/articles", `{"id":"mine"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(h, http.MethodPut, "/articles", `{"a":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPutReplacesWholeItem(t *testing.T) {
	h := newTestHandler(t, nil)
	created := decodeObject(t, doRequest(h, http.MethodPost, "/articles", `{"title":"a","draft":true}`, nil))
	id := created["id"].(string)

	w := doRequest(h, http.MethodPut, "/articles/"+id, `{"title":"b"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replaced := decodeObject(t, w)
	assert.Equal(t, id, replaced["id"])
	assert.Equal(t, "b", replaced["title"])
	assert.NotContains(t, replaced, "draft")

	got := decodeObject(t, doRequest(h, http.MethodGet, "/articles/"+id, "", nil))
	assert.NotContains(t, got, "draft")
}

func TestPutMissingItemIs404(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doRequest(h, http.MethodPut, "/articles/nope", `{"title":"b"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPatchMergesTopLevel(t *testing.T) {
	h := newTestHandler(t, nil)
	created := decodeObject(t, doRequest(h, http.MethodPost, "/articles", `{"title":"a","views":1}`, nil))
	id := created["id"].(string)

	w := doRequest(h, http.MethodPatch, "/articles/"+id, `{"views":2}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	patched := decodeObject(t, w)
	assert.Equal(t, "a", patched["title"])
	assert.Equal(t, float64(2), patched["views"])
}

func TestDeleteIsIdempotent(t *testing.T) {
	h := newTestHandler(t, nil)
	created := decodeObject(t, doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil))
	id := created["id"].(string)

	w := doRequest(h, http.MethodDelete, "/articles/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())

	w = doRequest(h, http.MethodDelete, "/articles/"+id, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(h, http.MethodGet, "/articles/"+id, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteCollection(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		h := newTestHandler(t, nil)
		w := doRequest(h, http.MethodDelete, "/articles", "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		h := newTestHandler(t, func(c *config.Config) { c.AllowDeleteCollection = true })
		doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)

		w := doRequest(h, http.MethodDelete, "/articles", "", nil)
		require.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, decodeList(t, doRequest(h, http.MethodGet, "/articles", "", nil)))
	})
}

func TestResourceAllowList(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) { c.Resources = []string{"articles"} })

	w := doRequest(h, http.MethodGet, "/movies", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decodeObject(t, w)
	assert.Len(t, body, 1)
	assert.Contains(t, body["message"], "movies")

	w = doRequest(h, http.MethodGet, "/ARTICLES", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInvalidBodies(t *testing.T) {
	h := newTestHandler(t, nil)

	w := doRequest(h, http.MethodPost, "/articles", `not json`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// An empty body is a valid empty object.
	w = doRequest(h, http.MethodPost, "/articles", "", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSchemaValidationGatesStorage(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) {
		c.Schemas = map[string]schema.ResourceSchemas{
			"articles": {
				Post: map[string]any{
					"type":     "object",
					"required": []any{"title"},
					"properties": map[string]any{
						"title": map[string]any{"type": "string"},
					},
				},
			},
		}
	})

	w := doRequest(h, http.MethodPost, "/articles", `{"views":3}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "title")

	// The rejected item never reached storage.
	assert.Empty(t, decodeList(t, doRequest(h, http.MethodGet, "/articles", "", nil)))

	w = doRequest(h, http.MethodPost, "/articles", `{"title":"ok"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestExpressionInterceptors(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		h := newTestHandler(t, func(c *config.Config) {
			c.Interceptors.Post = `body.title == "veto" ? "that title is not allowed" : nil`
		})
		w := doRequest(h, http.MethodPost, "/articles", `{"title":"veto"}`, nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "that title is not allowed", decodeObject(t, w)["message"])

		w = doRequest(h, http.MethodPost, "/articles", `{"title":"fine"}`, nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	})

	t.Run("replace", func(t *testing.T) {
		h := newTestHandler(t, func(c *config.Config) {
			c.Interceptors.Post = `{"title": upper(body.title)}`
		})
		w := doRequest(h, http.MethodPost, "/articles", `{"title":"shout"}`, nil)
		require.Equal(t, http.StatusCreated, w.Code)
		assert.Equal(t, "SHOUT", decodeObject(t, w)["title"])
	})

	t.Run("response", func(t *testing.T) {
		h := newTestHandler(t, func(c *config.Config) {
			c.Interceptors.Response = `{"resource": resource, "id": id}`
		})
		created := decodeObject(t, doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil))
		assert.Equal(t, "articles", created["resource"])
	})
}

func TestProgrammaticInterceptorsWinOverExpressions(t *testing.T) {
	h := newTestHandler(t,
		func(c *config.Config) { c.Interceptors.Post = `"config says no"` },
		WithInterceptors(interceptor.Chain{
			Post: func(interceptor.Request) (interceptor.Result, error) {
				return interceptor.Unchanged(), nil
			},
		}))

	w := doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestInterceptorErrorIs500(t *testing.T) {
	h := newTestHandler(t, nil, WithInterceptors(interceptor.Chain{
		Response: func(interceptor.Response) (any, error) {
			return nil, errors.New("hook blew up")
		},
	}))

	w := doRequest(h, http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeObject(t, w)["message"], "hook blew up")
}

func TestETagLifecycle(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) { c.ETags = true })

	w := doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeObject(t, w)["id"].(string)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.True(t, strings.HasPrefix(tag, `"`) && strings.HasSuffix(tag, `"`))

	t.Run("conditional get", func(t *testing.T) {
		w := doRequest(h, http.MethodGet, "/articles/"+id, "", map[string]string{"If-None-Match": tag})
		assert.Equal(t, http.StatusNotModified, w.Code)
		assert.Empty(t, w.Body.String())
	})

	t.Run("write preconditions", func(t *testing.T) {
		w := doRequest(h, http.MethodPut, "/articles/"+id, `{"title":"b"}`, nil)
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)

		w = doRequest(h, http.MethodPut, "/articles/"+id, `{"title":"b"}`,
			map[string]string{"If-Match": `"0000"`})
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)

		w = doRequest(h, http.MethodPut, "/articles/"+id, `{"title":"b"}`,
			map[string]string{"If-Match": tag})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		newTag := w.Header().Get("ETag")
		require.NotEmpty(t, newTag)
		assert.NotEqual(t, tag, newTag)

		// The old tag is stale now.
		w = doRequest(h, http.MethodPut, "/articles/"+id, `{"title":"c"}`,
			map[string]string{"If-Match": tag})
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)
		tag = newTag
	})

	t.Run("delete preconditions", func(t *testing.T) {
		w := doRequest(h, http.MethodDelete, "/articles/"+id, "", nil)
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)

		w = doRequest(h, http.MethodDelete, "/articles/"+id, "",
			map[string]string{"If-Match": `"0000"`})
		assert.Equal(t, http.StatusPreconditionFailed, w.Code)

		w = doRequest(h, http.MethodDelete, "/articles/"+id, "",
			map[string]string{"If-Match": tag})
		assert.Equal(t, http.StatusNoContent, w.Code)

		// Deleting what is already gone succeeds even with a stale tag.
		w = doRequest(h, http.MethodDelete, "/articles/"+id, "",
			map[string]string{"If-Match": `"0000"`})
		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}

func TestCollectionETag(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) {
		c.ETags = true
		c.AllowDeleteCollection = true
	})

	w := doRequest(h, http.MethodGet, "/articles", "", nil)
	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)

	w = doRequest(h, http.MethodGet, "/articles", "", map[string]string{"If-None-Match": tag})
	assert.Equal(t, http.StatusNotModified, w.Code)

	doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)
	w = doRequest(h, http.MethodGet, "/articles", "", map[string]string{"If-None-Match": tag})
	require.Equal(t, http.StatusOK, w.Code)
	newTag := w.Header().Get("ETag")
	assert.NotEqual(t, tag, newTag)

	w = doRequest(h, http.MethodDelete, "/articles", "", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	w = doRequest(h, http.MethodDelete, "/articles", "", map[string]string{"If-Match": newTag})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNullFieldFiltering(t *testing.T) {
	t.Run("returned by default", func(t *testing.T) {
		h := newTestHandler(t, nil)
		w := doRequest(h, http.MethodPost, "/articles", `{"title":null}`, nil)
		body := decodeObject(t, w)
		_, present := body["title"]
		assert.True(t, present)
	})

	t.Run("filtered when disabled", func(t *testing.T) {
		h := newTestHandler(t, func(c *config.Config) { c.ReturnNullFields = false })
		w := doRequest(h, http.MethodPost, "/articles", `{"title":null,"meta":{"sub":null}}`, nil)
		body := decodeObject(t, w)
		_, present := body["title"]
		assert.False(t, present)
		// Nested nulls stay: filtering is top-level only.
		assert.Contains(t, body["meta"], "sub")
	})
}

func TestHeadMatchesGet(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) { c.ETags = true })
	doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)

	get := doRequest(h, http.MethodGet, "/articles", "", nil)
	head := doRequest(h, http.MethodHead, "/articles", "", nil)

	assert.Equal(t, get.Code, head.Code)
	assert.Empty(t, head.Body.String())
	assert.Equal(t, get.Header().Get("Content-Length"), head.Header().Get("Content-Length"))
	assert.Equal(t, get.Header().Get("ETag"), head.Header().Get("ETag"))
	assert.Equal(t, get.Header().Get("Content-Type"), head.Header().Get("Content-Type"))
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doRequest(h, "OPTIONS", "/articles", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAPIPrefix(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) { c.APIPrefix = "api" })

	w := doRequest(h, http.MethodGet, "/api/articles", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(h, http.MethodGet, "/articles", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(h, http.MethodPost, "/api/articles", `{"title":"a"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/api/articles/")
}

func TestStaticFolder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi there"), 0o644))

	h := newTestHandler(t, func(c *config.Config) {
		c.APIPrefix = "api"
		c.StaticFolder = dir
	})

	w := doRequest(h, http.MethodGet, "/hello.txt", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hi there", w.Body.String())

	w = doRequest(h, http.MethodGet, "/api/articles", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCacheControlHeader(t *testing.T) {
	h := newTestHandler(t, func(c *config.Config) { c.CacheControl = "max-age=60" })

	w := doRequest(h, http.MethodGet, "/articles", "", nil)
	assert.Equal(t, "max-age=60", w.Header().Get("Cache-Control"))

	w = doRequest(h, http.MethodPost, "/articles", `{"title":"a"}`, nil)
	assert.Empty(t, w.Header().Get("Cache-Control"))
}

type explodingGateway struct {
	storage.Gateway
}

func (explodingGateway) GetAll(context.Context, string) ([]storage.Item, error) {
	panic("storage exploded")
}

func TestPanicBecomes500(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	srv, err := New(cfg, explodingGateway{storage.NewMemory()})
	require.NoError(t, err)

	w := doRequest(srv.Handler(), http.MethodGet, "/articles", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeObject(t, w)["message"], "storage exploded")
}
