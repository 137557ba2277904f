// Package store persists token bucket state for quota-relay.
//
// The store package abstracts over three backends:
//   - Local mode (memory): in-process map guarded by a mutex
//   - Shared mode, redis driver: buckets in Redis hashes, optimistic WATCH/MULTI transactions
//   - Shared mode, olric driver: buckets in an Olric DMap, distributed lock per key
//
// All implementations are safe for concurrent use. Shared backends report
// connectivity problems as *BackendUnavailableError so the limiter facade can
// fall back to a local store.
//
// Basic usage:
//
//	cfg := store.Config{Backend: store.BackendLocal}
//	s, err := store.New(ctx, &cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//
//	key := store.Key{API: "taapi", Endpoint: "rsi"}
//	b, err := s.Update(ctx, key, store.Limits{MaxTokens: 15, RefillRate: 1},
//		func(current bucket.Bucket) (bucket.Bucket, error) {
//			next, _, err := bucket.Evaluate(current, time.Now(), 1)
//			return next, err
//		})
package store

import (
	"context"
	"strings"

	"github.com/omarluq/quota-relay/internal/bucket"
)

// DefaultEndpoint is used when a key is built without an endpoint.
const DefaultEndpoint = "default"

// Key identifies one bucket.
type Key struct {
	API      string `json:"api"`
	Endpoint string `json:"endpoint"`
}

// String returns the canonical "api:endpoint" form used by every backend.
func (k Key) String() string {
	endpoint := k.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return k.API + ":" + endpoint
}

// ParseKey is the inverse of Key.String. The API name ends at the first colon;
// the endpoint may contain further colons.
func ParseKey(s string) (Key, bool) {
	api, endpoint, ok := strings.Cut(s, ":")
	if !ok || api == "" {
		return Key{}, false
	}
	return Key{API: api, Endpoint: endpoint}, true
}

// Limits are the capacity and refill rate a bucket must be created with.
// A stored bucket whose limits differ is adjusted to these on the next update.
type Limits struct {
	MaxTokens  int
	RefillRate float64
}

// Validate checks that the limits describe a usable bucket.
func (l Limits) Validate() error {
	return bucket.ValidateLimits(l.MaxTokens, l.RefillRate)
}

// apply brings a stored bucket in line with the requested limits.
func (l Limits) apply(b bucket.Bucket) bucket.Bucket {
	b.MaxTokens = l.MaxTokens
	b.RefillRate = l.RefillRate
	if b.Tokens > float64(l.MaxTokens) {
		b.Tokens = float64(l.MaxTokens)
	}
	if b.Tokens < 0 {
		b.Tokens = 0
	}
	return b
}

// UpdateFunc receives the current bucket (freshly created and full when the key
// was missing or expired) and returns the bucket to persist. Backends that use
// optimistic transactions may call it more than once; it must be side-effect free
// apart from capturing its latest result.
type UpdateFunc func(current bucket.Bucket) (bucket.Bucket, error)

// Store defines the bucket persistence contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// GetOrCreate returns the bucket for key, creating a full one if missing.
	GetOrCreate(ctx context.Context, key Key, limits Limits) (bucket.Bucket, error)

	// Save stores b under key, resetting its expiry according to the TTL mode.
	Save(ctx context.Context, key Key, b bucket.Bucket) error

	// Update runs read, fn, write as one atomic unit for key.
	// Errors returned by fn are passed through unchanged.
	Update(ctx context.Context, key Key, limits Limits, fn UpdateFunc) (bucket.Bucket, error)

	// Snapshot returns all live buckets for api, or for every api when api is empty.
	Snapshot(ctx context.Context, api string) (map[Key]bucket.Bucket, error)

	// Delete removes a bucket. Deleting a missing key is not an error.
	Delete(ctx context.Context, key Key) error

	// Close releases resources. After Close every operation returns ErrClosed.
	// Close is idempotent.
	Close() error
}

// Pinger is an optional interface for stores with a remote dependency.
//
//	if p, ok := s.(store.Pinger); ok {
//		if err := p.Ping(ctx); err != nil {
//			// shared backend unreachable
//		}
//	}
type Pinger interface {
	Ping(ctx context.Context) error
}

// Namer reports the backend name used in logs and status output.
type Namer interface {
	Name() string
}

// identity keeps the bucket as read; used to implement GetOrCreate via Update.
func identity(b bucket.Bucket) (bucket.Bucket, error) {
	return b, nil
}

// replaceWith ignores the stored bucket; used to implement Save via Update.
func replaceWith(b bucket.Bucket) UpdateFunc {
	return func(bucket.Bucket) (bucket.Bucket, error) {
		return b, nil
	}
}

// limitsOf extracts the limits carried by a bucket.
func limitsOf(b bucket.Bucket) Limits {
	return Limits{MaxTokens: b.MaxTokens, RefillRate: b.RefillRate}
}

// callbackError marks an error produced by an UpdateFunc so backends can pass
// it through instead of reporting it as a backend failure.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }
