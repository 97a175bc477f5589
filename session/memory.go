package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	agent "github.com/armatrix/opencode-agent-sdk-go"
)

// ErrNotFound is returned when no record has the requested id.
var ErrNotFound = errors.New("session not found")

var errNilRecord = errors.New("session record is nil")

// MemoryStore is an in-memory store backed by a sync.RWMutex-protected map.
// Records are copied on save and load to prevent external mutation.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*agent.SessionRecord
}

var _ agent.SessionLister = (*MemoryStore)(nil)

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*agent.SessionRecord)}
}

// Save stores a copy of record, replacing any record with the same id.
func (m *MemoryStore) Save(_ context.Context, record *agent.SessionRecord) error {
	if record == nil {
		return errNilRecord
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = record.Clone()
	return nil
}

// Load returns a copy of the record with the given id.
func (m *MemoryStore) Load(_ context.Context, id string) (*agent.SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.Clone(), nil
}

// Delete removes a record by id.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.records, id)
	return nil
}

// List returns copies of all records, most recently updated first.
func (m *MemoryStore) List(_ context.Context) ([]*agent.SessionRecord, error) {
	m.mu.RLock()
	out := make([]*agent.SessionRecord, 0, len(m.records))
	for _, r := range m.records {
		out = append(out, r.Clone())
	}
	m.mu.RUnlock()
	sortByUpdated(out)
	return out, nil
}

func sortByUpdated(records []*agent.SessionRecord) {
	slices.SortFunc(records, func(a, b *agent.SessionRecord) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
