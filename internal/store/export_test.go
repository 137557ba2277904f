package store

import (
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// Exported for testing in the external test package (store_test).

// NewRedisStoreForTest wraps an existing client, typically one pointed at miniredis.
func NewRedisStoreForTest(client *redis.Client, cfg RedisConfig, ttl TTLPolicy, now func() time.Time) Store {
	nop := zerolog.Nop()
	o := buildOptions([]Option{WithClock(now), WithLogger(&nop)})
	return newRedisStoreWithClient(client, &cfg, ttl, time.Second, o)
}

// SweepForTest runs one janitor pass on a memory store and returns the eviction count.
func SweepForTest(s Store) int {
	return s.(*memoryStore).sweep()
}

// SplitBindAddrForTest exports splitBindAddr.
var SplitBindAddrForTest = splitBindAddr

// EncodeJSONForTest and DecodeJSONForTest expose the document codec.
func EncodeJSONForTest(created time.Time, b bucket.Bucket) (string, error) {
	return encodeJSON(record{CreatedAt: created, Bucket: b})
}

// DecodeJSONForTest returns the bucket and creation time stored in doc.
func DecodeJSONForTest(doc string) (bucket.Bucket, time.Time, error) {
	r, err := decodeJSON(doc)
	return r.Bucket, r.CreatedAt, err
}
