package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// DefaultMemorySize bounds the in-process cache when no size is configured.
const DefaultMemorySize = 4096

// Memory is a bounded in-process cache provider backed by an LRU. It is safe
// for concurrent use.
type Memory struct {
	entries *lru.Cache[string, interface{}]
}

// NewMemory creates a memory cache holding at most size entries.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	entries, err := lru.New[string, interface{}](size)
	if err != nil {
		return nil, err
	}
	return &Memory{entries: entries}, nil
}

// Get returns the cached value for key, if present.
func (m *Memory) Get(key Key) (interface{}, bool) {
	return m.entries.Get(key.String())
}

// Add stores value under key.
func (m *Memory) Add(key Key, value interface{}) {
	m.entries.Add(key.String(), value)
}

// Delete removes a single entry.
func (m *Memory) Delete(key Key) {
	m.entries.Remove(key.String())
}

// Flush removes every entry.
func (m *Memory) Flush() {
	m.entries.Purge()
	logrus.Debug("Memory cache flushed")
}

// Len returns the number of cached entries.
func (m *Memory) Len() int {
	return m.entries.Len()
}
