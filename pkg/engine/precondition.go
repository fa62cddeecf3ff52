package engine

import (
	"errors"

	"github.com/getrestd/restd/pkg/storage"
)

// itemKey builds the lock key for a resource/id pair. The NUL separator keeps
// distinct pairs from colliding on concatenation. An empty id addresses the
// whole collection.
func itemKey(resource, id string) string {
	return resource + "\x00" + id
}

func isNotFound(err error) bool {
	var nf *storage.NotFoundError
	return errors.As(err, &nf)
}
