// Package interceptor defines the user-supplied request and response body
// hooks and the tagged result type they return.
//
// Request interceptors run after schema validation and may leave the body
// unchanged, replace it, or veto the request with a message. Response
// interceptors may replace the outgoing body. Hooks are registered once at
// server construction and never mutated afterwards.
package interceptor

// Kind discriminates the outcomes a request interceptor can produce.
type Kind int

const (
	// KindUnchanged keeps the original body.
	KindUnchanged Kind = iota
	// KindReplace substitutes a new body for all downstream processing.
	KindReplace
	// KindReject short-circuits the request with a 400 and a message.
	KindReject
)

// Result is the tagged outcome of a request interceptor.
type Result struct {
	kind    Kind
	body    map[string]any
	message string
}

// Unchanged keeps the original request body.
func Unchanged() Result {
	return Result{kind: KindUnchanged}
}

// Replace substitutes body for the original request body.
func Replace(body map[string]any) Result {
	return Result{kind: KindReplace, body: body}
}

// Reject vetoes the request; the pipeline responds 400 with the message.
func Reject(message string) Result {
	return Result{kind: KindReject, message: message}
}

// Kind returns the outcome tag.
func (r Result) Kind() Kind { return r.kind }

// Body returns the replacement body for KindReplace results.
func (r Result) Body() map[string]any { return r.body }

// Message returns the veto message for KindReject results.
func (r Result) Message() string { return r.message }

// Request carries the request context an interceptor sees.
type Request struct {
	Resource string
	Body     map[string]any
}

// Response carries the response context an interceptor sees. ID is empty for
// collection responses.
type Response struct {
	Resource string
	ID       string
	Body     any
}

// RequestInterceptor inspects a body-bearing request before it reaches
// storage. A non-nil error becomes a 500.
type RequestInterceptor func(req Request) (Result, error)

// ResponseInterceptor may replace an outgoing response body. Returning nil
// keeps the original body. A non-nil error becomes a 500.
type ResponseInterceptor func(resp Response) (any, error)

// Chain holds the per-verb request interceptors and the response
// interceptor. Any entry may be nil.
type Chain struct {
	Post     RequestInterceptor
	Put      RequestInterceptor
	Patch    RequestInterceptor
	Response ResponseInterceptor
}

// ForVerb returns the request interceptor for a verb ("post", "put",
// "patch"), or nil when none is registered.
func (c Chain) ForVerb(verb string) RequestInterceptor {
	switch verb {
	case "post":
		return c.Post
	case "put":
		return c.Put
	case "patch":
		return c.Patch
	default:
		return nil
	}
}

// Merge overlays non-nil entries of other onto c and returns the result.
// Used to let programmatic hooks take precedence over config-declared ones.
func (c Chain) Merge(other Chain) Chain {
	if other.Post != nil {
		c.Post = other.Post
	}
	if other.Put != nil {
		c.Put = other.Put
	}
	if other.Patch != nil {
		c.Patch = other.Patch
	}
	if other.Response != nil {
		c.Response = other.Response
	}
	return c
}
