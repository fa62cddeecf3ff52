package engine

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/getrestd/restd/pkg/httputil"
	"github.com/getrestd/restd/pkg/storage"
)

// apiError couples an HTTP status with the client-visible message. Every
// pipeline stage returns one of these (or a storage error) rather than
// writing to the response itself; classification happens in one place.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string {
	return e.message
}

func errUnknownResource(resource string) error {
	return &apiError{http.StatusNotFound, fmt.Sprintf("resource %q does not exist", resource)}
}

func errMissingIDInURL() error {
	return &apiError{http.StatusBadRequest, "an id is required in the URL"}
}

func errIDNotAllowedInURL() error {
	return &apiError{http.StatusBadRequest, "an id is not allowed in the URL when creating an item"}
}

func errIDNotAllowedInBody() error {
	return &apiError{http.StatusBadRequest, "an id is not allowed in the request body"}
}

func errInvalidJSON(err error) error {
	return &apiError{http.StatusBadRequest, "invalid JSON in request body: " + err.Error()}
}

func errSchemaViolation(err error) error {
	return &apiError{http.StatusBadRequest, err.Error()}
}

func errInterceptorReject(message string) error {
	return &apiError{http.StatusBadRequest, message}
}

func errMissingPrecondition() error {
	return &apiError{http.StatusPreconditionFailed, "an If-Match header is required"}
}

func errPreconditionFailed() error {
	return &apiError{http.StatusPreconditionFailed, "the If-Match precondition failed"}
}

func errMethodNotAllowed(method string) error {
	return &apiError{http.StatusMethodNotAllowed, fmt.Sprintf("method %s is not allowed", method)}
}

func errDeleteCollectionDisabled() error {
	return &apiError{http.StatusMethodNotAllowed, "deleting whole collections is not enabled"}
}

func errPayloadTooLarge(max int64) error {
	return &apiError{http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", max)}
}

// classify maps any pipeline error to its HTTP status and message. Unknown
// errors (storage faults, interceptor failures) become a 500 carrying the
// error message and nothing else.
func classify(err error) (int, string) {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status, ae.message
	}
	var nf *storage.NotFoundError
	if errors.As(err, &nf) {
		return http.StatusNotFound, nf.Error()
	}
	return http.StatusInternalServerError, err.Error()
}

func writeError(w http.ResponseWriter, err error) {
	status, message := classify(err)
	httputil.WriteError(w, status, message)
}
