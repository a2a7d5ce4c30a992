package messages

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is an LRU of message records with a TTL. Records are immutable, so
// entries never need invalidation; the TTL only bounds memory held by cold
// entries.
type Cache struct {
	lru *expirable.LRU[string, *MessageRecord]
}

func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{lru: expirable.NewLRU[string, *MessageRecord](size, nil, ttl)}
}

func idKey(fileID, id uuid.UUID) string {
	return fileID.String() + "/id/" + id.String()
}

func indexKey(fileID uuid.UUID, n int) string {
	return fileID.String() + "/n/" + strconv.Itoa(n)
}

func (c *Cache) get(key string) (*MessageRecord, bool) {
	m, ok := c.lru.Get(key)
	if ok {
		lookupCacheHits.Inc()
		return m, true
	}
	lookupCacheMisses.Inc()
	return nil, false
}

// put stores m under both of its addresses so the other lookup mode hits too.
func (c *Cache) put(m *MessageRecord) {
	c.lru.Add(idKey(m.FileID, m.ID), m)
	c.lru.Add(indexKey(m.FileID, m.MessageNumWithinFile), m)
}

// Len reports the number of cached keys.
func (c *Cache) Len() int {
	return c.lru.Len()
}
