package bucketing

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserBucketIsStable(t *testing.T) {
	m := NewManager(64)

	first := m.UserBucket("user-abc")
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, m.UserBucket("user-abc"))
	}
}

func TestUserBucketWithinRange(t *testing.T) {
	m := NewManager(16)

	for i := 0; i < 1000; i++ {
		bucket := m.UserBucket(fmt.Sprintf("user-%d", i))
		assert.GreaterOrEqual(t, bucket, 0)
		assert.Less(t, bucket, 16)
	}
}

func TestUserBucketSpreadsKeys(t *testing.T) {
	m := NewManager(16)

	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		seen[m.UserBucket(fmt.Sprintf("user-%d", i))] = true
	}
	// Murmur3 should touch every bucket over a thousand keys
	assert.Len(t, seen, 16)
}

func TestZeroBucketsFallsBackToDefault(t *testing.T) {
	m := NewManager(0)
	assert.Equal(t, defaultUserBuckets, m.UserBuckets())
}
