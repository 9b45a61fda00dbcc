package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("not found")

// KV is the ordered key-value backend under the chain store.
type KV interface {
	Get(key []byte) ([]byte, error)
	// Scan visits keys with prefix in ascending order.
	Scan(prefix []byte, fn func(key, val []byte) error) error
	NewBatch() Batch
	Close() error
}

// Batch collects writes that become visible atomically on Commit. Reads
// through a batch see its own pending writes.
type Batch interface {
	Get(key []byte) ([]byte, error)
	Set(key, val []byte) error
	Delete(key []byte) error
	Commit() error
	Close() error
}

// MemKV is an in-memory KV for tests and throwaway devnets.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemKV() *MemKV {
	return &MemKV{data: make(map[string][]byte)}
}

func (m *MemKV) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (m *MemKV) Scan(prefix []byte, fn func(key, val []byte) error) error {
	m.mu.RLock()
	type kv struct{ k, v []byte }
	var hits []kv
	for k, v := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			hits = append(hits, kv{[]byte(k), bytes.Clone(v)})
		}
	}
	m.mu.RUnlock()
	sort.Slice(hits, func(i, j int) bool { return bytes.Compare(hits[i].k, hits[j].k) < 0 })
	for _, h := range hits {
		if err := fn(h.k, h.v); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemKV) NewBatch() Batch {
	return &memBatch{kv: m, pending: make(map[string][]byte)}
}

func (m *MemKV) Close() error { return nil }

type memBatch struct {
	kv      *MemKV
	pending map[string][]byte // nil value = delete
}

func (b *memBatch) Get(key []byte) ([]byte, error) {
	if v, ok := b.pending[string(key)]; ok {
		if v == nil {
			return nil, ErrNotFound
		}
		return bytes.Clone(v), nil
	}
	return b.kv.Get(key)
}

func (b *memBatch) Set(key, val []byte) error {
	v := bytes.Clone(val)
	if v == nil {
		v = []byte{}
	}
	b.pending[string(key)] = v
	return nil
}

func (b *memBatch) Delete(key []byte) error {
	b.pending[string(key)] = nil
	return nil
}

func (b *memBatch) Commit() error {
	b.kv.mu.Lock()
	defer b.kv.mu.Unlock()
	for k, v := range b.pending {
		if v == nil {
			delete(b.kv.data, k)
			continue
		}
		b.kv.data[k] = v
	}
	b.pending = make(map[string][]byte)
	return nil
}

func (b *memBatch) Close() error { return nil }

var _ KV = (*MemKV)(nil)
