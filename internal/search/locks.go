package search

import (
	"hash/fnv"
	"sync"
)

// noteLockCount is the number of lock shards. Writes to distinct notes
// rarely collide at this width; writes to the same note always serialize.
const noteLockCount = 128

// noteLocks serializes index writes per note. The engine-wide RWMutex keeps
// queries consistent with writers; this arena keeps the keyword and vector
// updates for one note atomic with respect to other writers of that note.
type noteLocks struct {
	shards [noteLockCount]sync.Mutex
}

// Lock acquires the shard lock for noteID.
func (l *noteLocks) Lock(noteID string) {
	l.shards[shardFor(noteID)].Lock()
}

// Unlock releases the shard lock for noteID.
func (l *noteLocks) Unlock(noteID string) {
	l.shards[shardFor(noteID)].Unlock()
}

func shardFor(noteID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(noteID))
	return int(h.Sum32() % noteLockCount)
}
