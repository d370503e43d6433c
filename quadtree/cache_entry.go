package quadtree

import "time"

// CacheEntry holds the cache metadata of a node: validity and access
// statistics used to rank subtrees for eviction.
type CacheEntry struct {
	node *Node

	hits       uint64
	created    time.Time
	lastAccess time.Time

	// oldestChildAccess is the minimum last access time over the subtree.
	// It is computed lazily and dropped whenever a descendant is hit or the
	// subtree structure changes.
	oldestChildAccess time.Time
	hasOldest         bool

	valid bool
}

// Hit records an access to the node.
func (e *CacheEntry) Hit(now time.Time) {
	previous := e.lastAccess
	e.hits++
	e.lastAccess = now
	e.hasOldest = false

	for p := e.node.parent; p != nil; p = p.parent {
		if p.entry.hasOldest && p.entry.oldestChildAccess.Equal(previous) {
			p.entry.hasOldest = false
		}
	}
}

// Hits returns the number of recorded accesses.
func (e *CacheEntry) Hits() uint64 {
	return e.hits
}

// CreationTime returns when the node was created.
func (e *CacheEntry) CreationTime() time.Time {
	return e.created
}

// LastAccessTime returns the time of the last hit, or the creation time
// when the node was never hit.
func (e *CacheEntry) LastAccessTime() time.Time {
	return e.lastAccess
}

// OldestChildAccess returns the oldest access time in the subtree rooted at
// the node: its own last access for a leaf, the minimum over its children
// otherwise.
func (e *CacheEntry) OldestChildAccess() time.Time {
	if e.hasOldest {
		return e.oldestChildAccess
	}

	oldest := e.lastAccess
	for i, c := range e.node.children {
		access := c.entry.OldestChildAccess()
		if i == 0 || access.Before(oldest) {
			oldest = access
		}
	}

	e.oldestChildAccess = oldest
	e.hasOldest = true
	return oldest
}

// IsValid reports whether the node area is fully cached.
func (e *CacheEntry) IsValid() bool {
	return e.valid
}

// SetValid marks the node area as fully cached. Attached records are kept.
func (e *CacheEntry) SetValid() {
	e.valid = true
}

// Invalidate marks the node area as not cached and drops the records
// attached to the node.
func (e *CacheEntry) Invalidate() {
	e.valid = false
	e.node.clearRecords()
}

func (e *CacheEntry) dropAggregate() {
	for n := e.node; n != nil; n = n.parent {
		n.entry.hasOldest = false
	}
}
