package pipeline

import (
	"context"
	"log/slog"

	"github.com/castpipe/castpipe/pkg/objstore"
)

// Cleaner deletes intermediate objects after a successful run. Deletion
// failures are logged and swallowed: leftover intermediates are garbage, not
// corruption, and must never fail a finished pipeline.
type Cleaner struct {
	store  objstore.Store
	logger *slog.Logger
}

// NewCleaner creates a Cleaner over store.
func NewCleaner(store objstore.Store, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{store: store, logger: logger}
}

// Cleanup deletes every key, best-effort. Returns the number of keys
// actually deleted.
func (c *Cleaner) Cleanup(ctx context.Context, keys []string) int {
	deleted := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("cleanup delete failed", "key", key, "error", err)
			continue
		}
		deleted++
	}
	return deleted
}
