// Package memstore provides an in-memory objstore.Store used by tests and
// local development. Presigned URLs are synthetic ("mem://<op>/<key>") but
// stable, so tests can assert on them.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/castpipe/castpipe/pkg/objstore"
)

// Compile-time assertion that Store implements objstore.Store.
var _ objstore.Store = (*Store)(nil)

// Store is an in-memory object store. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	objects map[string]objstore.Object
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{objects: make(map[string]objstore.Object)}
}

// Get fetches the object stored under key.
func (s *Store) Get(_ context.Context, key string) (*objstore.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", objstore.ErrNotFound, key)
	}
	cp := obj
	cp.Data = slices.Clone(obj.Data)
	return &cp, nil
}

// Put stores data under key.
func (s *Store) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = objstore.Object{Data: slices.Clone(data), ContentType: contentType}
	return nil
}

// Delete removes the object under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Presign returns a synthetic URL of the form "mem://<op>/<key>".
func (s *Store) Presign(_ context.Context, op objstore.PresignOp, key, _ string, _ time.Duration) (string, error) {
	return fmt.Sprintf("mem://%s/%s", strings.ToLower(string(op)), key), nil
}

// Has reports whether an object exists under key.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// Keys returns all stored keys, sorted. Intended for test assertions.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.objects))
}

// KeysWithPrefix returns all stored keys under prefix, sorted.
func (s *Store) KeysWithPrefix(prefix string) []string {
	var out []string
	for _, k := range s.Keys() {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}
