// Package storage defines the gateway contract that backs resource
// collections, along with the item and error types shared by all backends.
package storage

import (
	"context"
	"fmt"
	"net/http"
)

// IDField is the reserved field name that carries an item's identity.
const IDField = "id"

// Item is a single resource record: arbitrary JSON-compatible fields plus a
// unique string id under the "id" key.
type Item map[string]any

// ID returns the item's id, or "" when unset.
func (it Item) ID() string {
	s, _ := it[IDField].(string)
	return s
}

// Gateway is the storage contract the request pipeline is written against.
// Implementations are resource-scoped key/value stores; they do not need to
// support transactions across resources. Every method must be safe for
// concurrent use.
//
// Returned items must not alias internal state: callers may mutate them
// freely without affecting the store.
type Gateway interface {
	// GetAll returns every item in the resource. An unknown resource is an
	// empty collection, not an error.
	GetAll(ctx context.Context, resource string) ([]Item, error)

	// GetByID returns a single item, or a NotFoundError when absent.
	GetByID(ctx context.Context, resource, id string) (Item, error)

	// Create stores a new item, assigning a fresh id, and returns the
	// stored item including that id.
	Create(ctx context.Context, resource string, item Item) (Item, error)

	// Replace fully replaces the item identified by item["id"].
	// Returns a NotFoundError when no such item exists.
	Replace(ctx context.Context, resource string, item Item) (Item, error)

	// Update stores the item identified by item["id"]; the partial merge
	// with the existing state has already been applied by the caller.
	// Returns a NotFoundError when no such item exists.
	Update(ctx context.Context, resource string, item Item) (Item, error)

	// DeleteByID removes an item. Deleting an absent item is not an error.
	DeleteByID(ctx context.Context, resource, id string) error

	// DeleteAll removes every item in the resource.
	DeleteAll(ctx context.Context, resource string) error

	// Close releases backend resources, flushing pending writes.
	Close() error
}

// NotFoundError is returned when a resource item is not found.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("resource %q item %q not found", e.Resource, e.ID)
	}
	return fmt.Sprintf("resource %q not found", e.Resource)
}

// StatusCode returns the HTTP status code for this error.
func (e *NotFoundError) StatusCode() int {
	return http.StatusNotFound
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return val
	}
}
