package client

import (
	"sync"
	"time"

	"github.com/luma/dgramfs/internal/metrics"
	"github.com/luma/dgramfs/protocol"
	"github.com/luma/dgramfs/storage"
)

type cacheKey struct {
	Name   string
	Op     protocol.OpCode
	Offset int
	Length int
}

func readKey(name string, offset, length int) cacheKey {
	return cacheKey{Name: name, Op: protocol.OpRead, Offset: offset, Length: length}
}

func infoKey(name string) cacheKey {
	return cacheKey{Name: name, Op: protocol.OpGetInfo}
}

type cacheEntry struct {
	value   string
	fetched time.Time
}

// Cache holds the results of idempotent calls. An entry is served only while
// it is younger than the freshness interval. Mutating calls never touch it,
// only updates pushed by the server do.
type Cache struct {
	freshness time.Duration
	now       func() time.Time

	entries sync.Map
}

func NewCache(freshness time.Duration, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}

	return &Cache{freshness: freshness, now: now}
}

func (c *Cache) get(key cacheKey) (string, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		metrics.RecordCacheLookup(false)
		return "", false
	}

	entry := v.(cacheEntry)
	if c.now().Sub(entry.fetched) >= c.freshness {
		metrics.RecordCacheLookup(false)
		return "", false
	}

	metrics.RecordCacheLookup(true)
	return entry.value, true
}

func (c *Cache) put(key cacheKey, value string) {
	c.entries.Store(key, cacheEntry{value: value, fetched: c.now()})
}

// Refresh rewrites every entry for the record's file from its new content, so
// cached reads reflect the update without another round trip. The full
// content read is always cached. It returns the number of entries written.
func (c *Cache) Refresh(record *protocol.FileRecord) int {
	refreshed := 0

	c.entries.Range(func(k, _ interface{}) bool {
		key := k.(cacheKey)
		if key.Name != record.Name {
			return true
		}

		switch key.Op {
		case protocol.OpGetInfo:
			c.put(key, protocol.FormatFileInfo(record))
			refreshed++

		case protocol.OpRead:
			content, err := storage.GetContent(record, key.Offset, key.Length)
			if err != nil {
				// The file shrank below this offset
				c.entries.Delete(key)
				return true
			}

			c.put(key, content)
			refreshed++
		}

		return true
	})

	full := readKey(record.Name, 0, record.Size())
	if _, ok := c.entries.Load(full); !ok {
		c.put(full, record.Content)
		refreshed++
	}

	return refreshed
}

// Len counts entries, fresh or not.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ interface{}) bool {
		n++
		return true
	})

	return n
}
