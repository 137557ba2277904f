// Package cache keeps recent upstream responses for the retry controller.
//
// Only successful GET responses are cached, each for the configured TTL, so
// repeated reads of the same resource inside that window cost no quota and
// no outbound request. Two backends exist:
//   - Single mode (Ristretto): bounded in-memory cache with TTL expiry
//   - Disabled mode (Noop): stores nothing, every lookup misses
//
// All implementations are safe for concurrent use.
//
// Basic usage:
//
//	c, err := cache.New(&cache.Config{Mode: cache.ModeSingle, TTLSeconds: 30})
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//
//	key := cache.Key("coindesk", http.MethodGet, url)
//	if entry, err := c.Get(ctx, key); err == nil {
//		return entry.Body, nil
//	}
package cache

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Entry is one cached upstream response.
type Entry struct {
	Header   http.Header
	StoredAt time.Time
	Body     []byte
	Status   int
}

// cost approximates the memory held by the entry in bytes.
func (e Entry) cost() int64 {
	n := len(e.Body)
	for name, values := range e.Header {
		n += len(name)
		for _, v := range values {
			n += len(v)
		}
	}
	return int64(n)
}

// clone returns a deep copy so callers cannot mutate cached state.
func (e Entry) clone() Entry {
	e.Header = e.Header.Clone()
	e.Body = append([]byte(nil), e.Body...)
	return e
}

// Key builds the cache key of a request. The API name is part of the key so
// two APIs sharing a host never see each other's responses.
func Key(api, method, url string) string {
	return strings.Join([]string{api, strings.ToUpper(method), url}, " ")
}

// Cache stores responses by key.
type Cache interface {
	// Get returns the entry stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Entry, error)

	// Put stores entry under key for the configured TTL.
	Put(ctx context.Context, key string, entry Entry) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases resources. Later calls return ErrClosed. Close is idempotent.
	Close() error
}

// Stats provides cache statistics for observability.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	KeyCount  uint64 `json:"key_count"`
	BytesUsed uint64 `json:"bytes_used"`
	Evictions uint64 `json:"evictions"`
}

// StatsProvider is implemented by caches that track statistics.
type StatsProvider interface {
	Stats() Stats
}
