package record

import (
	"context"
	"sync"

	"github.com/argon-hosting/daemon/internal/argonerr"
)

// MemoryStore is an in-process Store, used in tests and for single-node
// deployments that don't need their records to survive a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*ServerRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*ServerRecord)}
}

func (m *MemoryStore) Create(ctx context.Context, rec *ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", id)
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*ServerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ServerRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Update(ctx context.Context, rec *ServerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; !ok {
		return argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", rec.ID)
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return argonerr.Newf(argonerr.KindRecordNotFound, "server %s not found", id)
	}
	delete(m.records, id)
	return nil
}
