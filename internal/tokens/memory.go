package tokens

import (
	"math"
	"sync"

	"github.com/google/btree"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const memoryTreeDegree = 16

// item is one token record inside the in-memory tree.
type item struct {
	token ring.Token
	entry Entry
}

func lessItem(a, b item) bool {
	return a.token < b.token
}

// Memory is a Backend held entirely in memory, backed by a B-tree.
// Suited to tests and to nodes whose token share fits in RAM.
type Memory struct {
	mu   sync.RWMutex
	tree *btree.BTreeG[item]
}

// NewMemory creates an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tree: btree.NewG(memoryTreeDegree, lessItem)}
}

// Lookup returns the entry for a token, if stored.
func (m *Memory) Lookup(token ring.Token) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.tree.Get(item{token: token})
	if !ok {
		return Entry{}, false, nil
	}

	return it.entry, true, nil
}

// Set stores or replaces the entry for a token.
func (m *Memory) Set(token ring.Token, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.ReplaceOrInsert(item{token: token, entry: e})

	return nil
}

// Delete removes a token.
func (m *Memory) Delete(token ring.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.Delete(item{token: token})

	return nil
}

// AscendAfter visits tokens strictly greater than after, ascending.
func (m *Memory) AscendAfter(after ring.Token, fn func(ring.Token, Entry) bool) error {
	if after == math.MaxUint64 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	m.tree.AscendGreaterOrEqual(item{token: after + 1}, func(it item) bool {
		return fn(it.token, it.entry)
	})

	return nil
}

// DescendBefore visits tokens strictly smaller than before, descending.
func (m *Memory) DescendBefore(before ring.Token, fn func(ring.Token, Entry) bool) error {
	if before == 0 {
		return nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	m.tree.DescendLessOrEqual(item{token: before - 1}, func(it item) bool {
		return fn(it.token, it.entry)
	})

	return nil
}

// Range visits every stored token in ascending order.
func (m *Memory) Range(fn func(ring.Token, Entry) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	m.tree.Ascend(func(it item) bool {
		return fn(it.token, it.entry)
	})

	return nil
}

// Len returns the number of stored tokens.
func (m *Memory) Len() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.tree.Len(), nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error {
	return nil
}
