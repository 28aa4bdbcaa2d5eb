package bucketing

import (
	"hash"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Manager assigns stable partition buckets so that user rows spread evenly
// across Scylla partitions. The same key always maps to the same bucket.
type Manager struct {
	userBuckets int
	hasherPool  sync.Pool
}

const defaultUserBuckets = 64

func NewManager(userBuckets int) *Manager {
	if userBuckets <= 0 {
		userBuckets = defaultUserBuckets
	}
	m := &Manager{userBuckets: userBuckets}

	// Pool of hash functions to avoid allocation overhead on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// UserBucket returns the consistent bucket for a user id (0..userBuckets-1).
func (m *Manager) UserBucket(userID string) int {
	return int(m.hashKey(userID) % uint64(m.userBuckets))
}

// UserBuckets returns the configured bucket count.
func (m *Manager) UserBuckets() int {
	return m.userBuckets
}

func (m *Manager) hashKey(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
