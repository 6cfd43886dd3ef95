package handoff

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Contexts living in one process (and
// tests) share a single instance.
type MemoryStore struct {
	mu      sync.Mutex
	slots   map[string]Slot
	version int64
	changed chan struct{}
	closed  bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots:   make(map[string]Slot),
		changed: make(chan struct{}),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Slot{}, ErrClosed
	}
	s, ok := m.slots[key]
	if !ok {
		return Slot{Key: key}, nil
	}
	return s, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Slot{}, ErrClosed
	}
	return m.writeLocked(key, value), nil
}

func (m *MemoryStore) CompareAndSet(_ context.Context, key string, version int64, value string) (Slot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Slot{}, false, ErrClosed
	}
	cur := m.slots[key]
	if cur.Version != version {
		if cur.Key == "" {
			cur.Key = key
		}
		return cur, false, nil
	}
	return m.writeLocked(key, value), true, nil
}

func (m *MemoryStore) writeLocked(key, value string) Slot {
	m.version++
	s := Slot{Key: key, Value: value, Version: m.version}
	m.slots[key] = s
	close(m.changed)
	m.changed = make(chan struct{})
	return s
}

func (m *MemoryStore) Since(_ context.Context, version int64) ([]Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Slot
	for _, s := range m.slots {
		if s.Version > version {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (m *MemoryStore) Version(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return m.version, nil
}

func (m *MemoryStore) Wait(ctx context.Context, after int64) error {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		if m.version > after {
			m.mu.Unlock()
			return nil
		}
		ch := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Close wakes all waiters; later calls fail with ErrClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.changed)
	return nil
}
