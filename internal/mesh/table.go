package mesh

import (
	"sort"
	"sync"
)

// Table maps remote peers to their negotiation entries. It is written only by
// the session's dispatch goroutine; reads are safe from any goroutine.
type Table struct {
	mu      sync.RWMutex
	entries map[PeerID]*Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[PeerID]*Entry)}
}

// Get returns the entry for id.
func (t *Table) Get(id PeerID) (*Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// Put stores e. A live entry for the same peer is never replaced; a terminal
// one is.
func (t *Table) Put(e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[e.Peer]; ok && old != e && !old.State().IsTerminal() {
		return ErrEntryExists
	}
	t.entries[e.Peer] = e
	return nil
}

// Remove deletes and returns the entry for id.
func (t *Table) Remove(id PeerID) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return e, ok
}

// All returns a snapshot of every entry, sorted by peer id.
func (t *Table) All() []*Entry {
	t.mu.RLock()
	out := make([]*Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// current reports whether e is still the table's entry for its peer.
func (t *Table) current(e *Entry) bool {
	got, ok := t.Get(e.Peer)
	return ok && got == e
}
