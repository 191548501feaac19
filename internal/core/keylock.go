package core

import (
	"hash/fnv"
	"sync"
)

// keyLocks serializes read-modify-write cycles on the same aggregate key
// while letting distinct keys proceed in parallel. Striped: two distinct
// keys may occasionally share a stripe, which over-serializes but never
// under-serializes.
type keyLocks struct {
	stripes [64]sync.Mutex
}

func (k *keyLocks) lock(key string) func() {
	h := fnv.New32a()
	h.Write([]byte(key))
	mu := &k.stripes[h.Sum32()%uint32(len(k.stripes))]
	mu.Lock()
	return mu.Unlock
}
