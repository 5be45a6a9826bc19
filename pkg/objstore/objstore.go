// Package objstore defines the object-store abstraction used by the
// pipeline: GET/PUT/DELETE by key plus time-limited presigned URL
// generation.
//
// Keys are always bare (no scheme prefix); see the keys package for the
// layout. Presigned URLs are transient views of a key — they may be
// regenerated at any time and must never be persisted as authoritative
// state.
//
// Implementations must be safe for concurrent use.
package objstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no object exists under the key.
var ErrNotFound = errors.New("objstore: object not found")

// ErrNoCredentials is returned by presign operations when the store was
// constructed without signing credentials.
var ErrNoCredentials = errors.New("objstore: signing credentials not configured")

// PresignOp selects the HTTP method a presigned URL authorizes.
type PresignOp string

const (
	PresignGet PresignOp = "GET"
	PresignPut PresignOp = "PUT"
)

// Object is the result of a Get: the raw bytes plus the stored content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Store is the abstraction over any object store backend.
type Store interface {
	// Get fetches the object stored under key. Returns ErrNotFound when the
	// key does not exist.
	Get(ctx context.Context, key string) (*Object, error)

	// Put stores data under key with the given content type. Existing
	// objects are overwritten.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes the object under key. Deleting a missing key is not an
	// error.
	Delete(ctx context.Context, key string) error

	// Presign returns a time-limited URL authorizing op on key. contentType
	// is only meaningful for PUT and may be empty. Returns ErrNoCredentials
	// when the store cannot sign.
	Presign(ctx context.Context, op PresignOp, key string, contentType string, ttl time.Duration) (string, error)
}
