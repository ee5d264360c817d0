package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs returns predetermined ids in order, then numbered ids
// ("<prefix>-0001", ...) once the fixed list is used up.
//
// Thread-safety: SequenceIDs is safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	ids    []string
	idx    int
	n      int
}

// NewSequenceIDs creates a generator that yields ids first and then
// prefix-numbered ids.
//
// Example:
//
//	gen := NewSequenceIDs("run", "run-a", "run-b")
//	gen.Generate() // "run-a"
//	gen.Generate() // "run-b"
//	gen.Generate() // "run-0001"
func NewSequenceIDs(prefix string, ids ...string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix, ids: ids}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx < len(g.ids) {
		id := g.ids[g.idx]
		g.idx++
		return id
	}
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
