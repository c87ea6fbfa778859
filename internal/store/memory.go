package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps collections in process memory.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]map[string]Document
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]map[string]Document)}
}

func (m *MemoryBackend) Load(_ context.Context, identity, collection string) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.docs[identity][collection]
	doc.Payload = append([]byte(nil), doc.Payload...)
	return doc, nil
}

func (m *MemoryBackend) Save(_ context.Context, identity, collection string, payload []byte, expected int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cols, ok := m.docs[identity]
	if !ok {
		cols = make(map[string]Document)
		m.docs[identity] = cols
	}
	cur := cols[collection]
	if cur.Revision != expected {
		return cur.Revision, ErrRevisionConflict
	}
	next := Document{Payload: append([]byte(nil), payload...), Revision: cur.Revision + 1}
	cols[collection] = next
	return next.Revision, nil
}

func (m *MemoryBackend) Clear(_ context.Context, identity, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs[identity], collection)
	return nil
}

func (m *MemoryBackend) Identities(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.docs))
	for id, cols := range m.docs {
		if len(cols) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryBackend) Close() error { return nil }
