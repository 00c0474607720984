package store

import (
	"context"
	"sync"
)

// Memory keeps the record in process memory. Used in tests and when no state path is set.
type Memory struct {
	mu     sync.Mutex
	record *Record
	saves  int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(context.Context) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.record), nil
}

func (m *Memory) Save(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = clone(r)
	m.saves++
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
