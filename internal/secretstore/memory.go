package secretstore

import (
	"context"
	"sync"

	svcerrors "github.com/blockjoy/controlplane/infrastructure/errors"
	"github.com/blockjoy/controlplane/internal/ids"
)

type memoryKey struct {
	nodeID ids.NodeID
	kind   Kind
	name   string
}

// MemoryStore is a sync.RWMutex-guarded-map backend, same shape as
// internal/store/memory, kept in its own package since secrets are a
// transport-adjacent concern rather than a domain Store aggregate.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[memoryKey][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[memoryKey][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, nodeID ids.NodeID, kind Kind, name string, plaintext []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(plaintext))
	copy(cp, plaintext)
	m.entries[memoryKey{nodeID, kind, name}] = cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[memoryKey{nodeID, kind, name}]
	if !ok {
		return nil, svcerrors.NotFound(string(kind), name)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *MemoryStore) List(ctx context.Context, nodeID ids.NodeID, kind Kind) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for k := range m.entries {
		if k.nodeID == nodeID && k.kind == kind {
			names = append(names, k.name)
		}
	}
	return names, nil
}

func (m *MemoryStore) Delete(ctx context.Context, nodeID ids.NodeID, kind Kind, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, memoryKey{nodeID, kind, name})
	return nil
}

func (m *MemoryStore) DeleteAllForNode(ctx context.Context, nodeID ids.NodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if k.nodeID == nodeID {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *MemoryStore) CopyForNode(ctx context.Context, fromNodeID, toNodeID ids.NodeID, kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.entries {
		if k.nodeID == fromNodeID && k.kind == kind {
			cp := make([]byte, len(v))
			copy(cp, v)
			m.entries[memoryKey{toNodeID, kind, k.name}] = cp
		}
	}
	return nil
}
