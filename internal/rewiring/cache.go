// Package rewiring turns original class definitions into sandboxed ones and
// caches the result.
package rewiring

import (
	"sort"
	"sync"

	"github.com/detbox-dev/detbox/internal/analysis"
)

// Key identifies generated bytecode: the original class name, scoped to the
// rule set that produced it.
type Key struct {
	Class   string
	RuleSet string
}

// ByteCode is one generated class.
type ByteCode struct {
	// Name is the sandboxed class name.
	Name string
	// Source is the original class name.
	Source string
	Bytes  []byte
	// References lists the original classes the source definition refers
	// to, excluding runtime support classes.
	References []string
}

// ByteCodeCache stores generated classes. Lookups fall through to the
// parent chain; writes only ever land in the receiver.
type ByteCodeCache struct {
	parent  *ByteCodeCache
	mu      sync.RWMutex
	entries map[Key]*ByteCode
}

// NewByteCodeCache creates an empty cache chained to parent, which may be
// nil.
func NewByteCodeCache(parent *ByteCodeCache) *ByteCodeCache {
	return &ByteCodeCache{parent: parent, entries: make(map[Key]*ByteCode)}
}

// CreateFor creates an empty cache chain with one level per configuration
// in cfg's ancestry.
func CreateFor(cfg *analysis.Configuration) *ByteCodeCache {
	if cfg == nil {
		return nil
	}
	return NewByteCodeCache(CreateFor(cfg.Parent()))
}

// Parent returns the next cache in the chain, or nil.
func (c *ByteCodeCache) Parent() *ByteCodeCache { return c.parent }

// Get returns the entry for key from this cache or its nearest ancestor.
func (c *ByteCodeCache) Get(key Key) (*ByteCode, bool) {
	for cc := c; cc != nil; cc = cc.parent {
		cc.mu.RLock()
		bc, ok := cc.entries[key]
		cc.mu.RUnlock()
		if ok {
			return bc, true
		}
	}
	return nil, false
}

// Put stores an entry in this cache. An existing entry is kept.
func (c *ByteCodeCache) Put(key Key, bc *ByteCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.entries[key] = bc
	}
}

// Len counts entries held by this cache, not its ancestors.
func (c *ByteCodeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Entries returns this cache's own entries sorted by sandboxed name.
func (c *ByteCodeCache) Entries() []*ByteCode {
	c.mu.RLock()
	all := make([]*ByteCode, 0, len(c.entries))
	for _, bc := range c.entries {
		all = append(all, bc)
	}
	c.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}
