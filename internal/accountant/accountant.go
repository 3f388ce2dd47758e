// Package accountant tracks the single global byte budget every node header
// and file payload in the ramdisk is charged against.
package accountant

import "fmt"

// Accountant is a process-wide (really: per-filesystem) byte counter. It is
// not safe for concurrent use on its own; callers serialize access to it the
// same way they serialize access to the node tree (see ramfs.FS).
type Accountant struct {
	free int64
}

// New returns an Accountant initialized with capacity bytes of free space.
func New(capacity int64) *Accountant {
	if capacity < 0 {
		panic(fmt.Sprintf("negative capacity: %d", capacity))
	}

	return &Accountant{free: capacity}
}

// Free returns the number of bytes not currently reserved.
func (a *Accountant) Free() int64 {
	return a.free
}

// Reserve debits n bytes from the free balance if available, reporting
// whether it succeeded. A failed reservation does not mutate the balance.
//
// REQUIRES: n >= 0
func (a *Accountant) Reserve(n int64) bool {
	if n < 0 {
		panic(fmt.Sprintf("negative reservation: %d", n))
	}

	if n > a.free {
		return false
	}

	a.free -= n
	return true
}

// Release credits n bytes back to the free balance. Callers must only
// release amounts previously reserved (directly, or via dropping an owned
// node or payload); over-releasing would hide an accounting bug rather than
// reveal it, so it is not defended against here.
//
// REQUIRES: n >= 0
func (a *Accountant) Release(n int64) {
	if n < 0 {
		panic(fmt.Sprintf("negative release: %d", n))
	}

	a.free += n
}
