package step

import (
	"context"
	"encoding/json"
	"sync"
)

// Compile-time assertion that MemLog implements Log.
var _ Log = (*MemLog)(nil)

// MemLog is an in-memory Log for tests and local runs. Safe for concurrent use.
type MemLog struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemLog creates an empty MemLog.
func NewMemLog() *MemLog {
	return &MemLog{records: make(map[string]Record)}
}

func memLogKey(workflowID, stepName string) string {
	return workflowID + "\x00" + stepName
}

// Get implements Log.
func (l *MemLog) Get(ctx context.Context, workflowID, stepName string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[memLogKey(workflowID, stepName)]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec
	out.Output = append(json.RawMessage(nil), rec.Output...)
	return &out, nil
}

// Put implements Log.
func (l *MemLog) Put(ctx context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec.Output = append(json.RawMessage(nil), rec.Output...)
	l.records[memLogKey(rec.WorkflowID, rec.Step)] = rec
	return nil
}

// Len returns the number of persisted records, for tests.
func (l *MemLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
