package models

import "sync"

// SequentialIDGenerator generates record ids. Ids start at 1.
type SequentialIDGenerator struct {
	mutex       sync.Mutex
	currentID   uint64
	reusableIDs []uint64
}

// New returns a sequential id. Reusable ids are returned first, the most
// recently released one first.
func (g *SequentialIDGenerator) New() uint64 {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if n := len(g.reusableIDs); n != 0 {
		id := g.reusableIDs[n-1]
		g.reusableIDs = g.reusableIDs[:n-1]
		return id
	}

	g.currentID++
	return g.currentID
}

// Reuse marks the given id as reusable. Ids that were never generated are
// ignored.
func (g *SequentialIDGenerator) Reuse(id uint64) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if id == 0 || id > g.currentID {
		return
	}
	g.reusableIDs = append(g.reusableIDs, id)
}

// Count returns the number of ids in use.
func (g *SequentialIDGenerator) Count() int {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return int(g.currentID) - len(g.reusableIDs)
}
