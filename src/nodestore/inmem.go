package nodestore

import (
	"sync"

	"github.com/rtxnet/rtxd/src/wire"
)

func init() {
	Register("inmem", func(string) (Store, error) {
		return NewInmemStore(), nil
	})
}

// InmemStore is a map-backed Store. It serves tests and nodes run without
// persistence.
type InmemStore struct {
	mu    sync.RWMutex
	items map[wire.Fingerprint][]byte
}

// NewInmemStore creates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		items: make(map[wire.Fingerprint][]byte),
	}
}

// Put implements Store.
func (s *InmemStore) Put(fp wire.Fingerprint, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[fp] = append([]byte(nil), data...)
	return nil
}

// Get implements Store.
func (s *InmemStore) Get(fp wire.Fingerprint) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.items[fp]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Has implements Store.
func (s *InmemStore) Has(fp wire.Fingerprint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[fp]
	return ok
}

// Close implements Store.
func (s *InmemStore) Close() error {
	return nil
}
