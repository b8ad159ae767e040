package coredb

import "sync/atomic"

// refCounter is an explicit shared-ownership primitive: the caller that
// opened a Database holds one strong reference, and subsystems may
// retain additional references (spec.md §3's "reference count > 0
// throughout observable lifetime; reaches 0 only via an explicit free
// after preconditions pass"). Grounded on the teacher's
// atomic-int32-plus-atomic.Bool refcounting in column_family.go
// (columnFamilyData.refs / dropped).
type refCounter struct {
	n atomic.Int32
}

// newRefCounter returns a counter initialized to 1, matching "refcount=1"
// immediately after Open (spec.md §4.3).
func newRefCounter() *refCounter {
	rc := &refCounter{}
	rc.n.Store(1)
	return rc
}

// Retain increments the count and returns the new value.
func (rc *refCounter) Retain() int32 {
	return rc.n.Add(1)
}

// Release decrements the count and returns the new value.
func (rc *refCounter) Release() int32 {
	return rc.n.Add(-1)
}

// Load returns the current count without modifying it.
func (rc *refCounter) Load() int32 {
	return rc.n.Load()
}
