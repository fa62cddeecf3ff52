// Package keylock provides striped mutexes keyed by string. It serializes
// check-then-act sequences against the same key without tracking a lock per
// live key.
package keylock

import (
	"hash/fnv"
	"sync"
)

const stripes = 64

// Map is a fixed set of mutex stripes. Keys hash onto stripes, so two
// distinct keys may share a stripe; that only costs contention, never
// correctness. The zero value is ready to use.
type Map struct {
	locks [stripes]sync.Mutex
}

// Lock acquires the stripe for key and returns the unlock function.
//
//	unlock := locks.Lock(key)
//	defer unlock()
func (m *Map) Lock(key string) func() {
	mu := &m.locks[stripeFor(key)]
	mu.Lock()
	return mu.Unlock
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % stripes
}
