// Package credstore holds the access/renewal credential pair shared by the
// realtime connection and the authenticated request path.
//
// Both slots are always written together; a reader never sees the access
// credential of one pair next to the renewal credential of another.
package credstore

import "sync"

type Pair struct {
	Access  string `json:"access_token"`
	Renewal string `json:"refresh_token"`
}

func (p Pair) Empty() bool {
	return p.Access == "" && p.Renewal == ""
}

type Store interface {
	Get() Pair
	Set(pair Pair) error
	Clear() error
}

// Memory is a process-local Store.
type Memory struct {
	mu   sync.RWMutex
	pair Pair
}

func NewMemory(initial Pair) *Memory {
	return &Memory{pair: initial}
}

func (m *Memory) Get() Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pair
}

func (m *Memory) Set(pair Pair) error {
	m.mu.Lock()
	m.pair = pair
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear() error {
	return m.Set(Pair{})
}
