package messages

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCache_PutStoresBothKeys(t *testing.T) {
	c := NewCache(8, time.Minute)
	m := &MessageRecord{ID: uuid.New(), FileID: uuid.New(), MessageNumWithinFile: 4}
	c.put(m)

	got, ok := c.get(idKey(m.FileID, m.ID))
	assert.True(t, ok)
	assert.Same(t, m, got)

	got, ok = c.get(indexKey(m.FileID, 4))
	assert.True(t, ok)
	assert.Same(t, m, got)
}

func TestCache_KeysAreScopedToFile(t *testing.T) {
	c := NewCache(8, time.Minute)
	m := &MessageRecord{ID: uuid.New(), FileID: uuid.New()}
	c.put(m)

	other := uuid.New()
	_, ok := c.get(idKey(other, m.ID))
	assert.False(t, ok)
	_, ok = c.get(indexKey(other, 0))
	assert.False(t, ok)
}

func TestCache_Evicts(t *testing.T) {
	c := NewCache(2, time.Minute)
	fileID := uuid.New()
	for i := 0; i < 3; i++ {
		c.put(&MessageRecord{ID: uuid.New(), FileID: fileID, MessageNumWithinFile: i})
	}
	assert.Equal(t, 2, c.Len())
	_, ok := c.get(indexKey(fileID, 2))
	assert.True(t, ok, "most recent entry should survive")
}

func TestCache_Expires(t *testing.T) {
	c := NewCache(8, 20*time.Millisecond)
	m := &MessageRecord{ID: uuid.New(), FileID: uuid.New()}
	c.put(m)

	assert.Eventually(t, func() bool {
		_, ok := c.lru.Peek(idKey(m.FileID, m.ID))
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestCache_CountsHitsAndMisses(t *testing.T) {
	c := NewCache(8, time.Minute)
	m := &MessageRecord{ID: uuid.New(), FileID: uuid.New()}
	hits := testutil.ToFloat64(lookupCacheHits)
	misses := testutil.ToFloat64(lookupCacheMisses)

	c.get(idKey(m.FileID, m.ID))
	c.put(m)
	c.get(idKey(m.FileID, m.ID))

	assert.Equal(t, hits+1, testutil.ToFloat64(lookupCacheHits))
	assert.Equal(t, misses+1, testutil.ToFloat64(lookupCacheMisses))
}
