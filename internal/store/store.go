package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/law4percent/Chick-Up/internal/domain"
)

// ErrNotFound returned by Get when nothing is stored at the path
var ErrNotFound = domain.ErrNotFound

// Store hierarchical pub/sub key-value store used by every component.
// Paths are slash-separated logical paths such as "settings/u1".
// Objects are stored one level deep: each top-level field is its own JSON value.
type Store interface {
	// Get decodes the object (or the children of a collection, keyed by id) into dest
	Get(ctx context.Context, path string, dest any) error
	Exists(ctx context.Context, path string) (bool, error)
	// Set replaces the whole object
	Set(ctx context.Context, path string, value any) error
	// SetIfAbsent writes value only when nothing exists at path, atomically
	SetIfAbsent(ctx context.Context, path string, value any) (bool, error)
	// Update merges top-level fields; a nil value removes the field
	Update(ctx context.Context, path string, fields map[string]any) error
	// Push appends to a collection and returns the server-assigned, ordered key
	Push(ctx context.Context, path string, value any) (string, error)
	// List returns children in key order (append order for collections)
	List(ctx context.Context, path string) ([]Child, error)
	Delete(ctx context.Context, paths ...string) error
	DeleteFields(ctx context.Context, path string, fields ...string) error
	// Subscribe delivers the current value immediately and again after every change
	Subscribe(ctx context.Context, path string, onData func(Snapshot), onError func(error)) (*Subscription, error)
	ServerTime(ctx context.Context) (time.Time, error)
}

// Child one entry of a collection or object
type Child struct {
	Key   string
	Value json.RawMessage
}

// Decode unmarshals the child's value
func (c Child) Decode(dest any) error {
	return json.Unmarshal(c.Value, dest)
}

type serverTimestamp struct{}

// ServerTimestamp placeholder resolved to the store's clock (unix ms) when written
// as a top-level field.
var ServerTimestamp = serverTimestamp{}

const serverTimestampJSON = `{".sv":"timestamp"}`

func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(serverTimestampJSON), nil
}
