package store

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olric-data/olric"
	olricconfig "github.com/olric-data/olric/config"
	"github.com/rs/zerolog"

	"github.com/omarluq/quota-relay/internal/bucket"
)

const (
	olricDataPrefix = "bucket:"
	olricLockPrefix = "lock:"
	olricPingKey    = "__quota_relay_ping__"
)

// olricStore implements Store on an Olric DMap.
//
// Bucket documents live under "bucket:api:endpoint" as JSON. Updates hold the
// DMap lock on "lock:api:endpoint" across read, evaluate and write, which
// serializes writers across every member of the cluster.
type olricStore struct {
	now     func() time.Time
	db      *olric.Olric // embedded node, nil in client mode
	client  olric.Client
	dmap    olric.DMap
	log     zerolog.Logger
	name    string
	ttl     TTLPolicy
	timeout time.Duration
	lease   time.Duration
	mu      sync.RWMutex
	closed  atomic.Bool
}

// Ensure olricStore implements the required interfaces.
var (
	_ Store  = (*olricStore)(nil)
	_ Pinger = (*olricStore)(nil)
	_ Namer  = (*olricStore)(nil)
)

// splitBindAddr splits "host:port" or a bare host. The port is 0 when absent
// or unparsable.
func splitBindAddr(addr string) (host string, port int) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return h, 0
	}
	return h, n
}

// newOlricStore starts an embedded node or connects to a cluster.
func newOlricStore(ctx context.Context, cfg *OlricConfig, ttl TTLPolicy, timeout time.Duration, o options) (*olricStore, error) {
	lg := o.logger.With().Str("backend", "olric").Logger()

	name := cfg.DMapName
	if name == "" {
		name = DefaultDMapName
	}
	lease := time.Duration(cfg.LockLeaseMS) * time.Millisecond
	if lease <= 0 {
		lease = time.Duration(DefaultLockLeaseMS) * time.Millisecond
	}

	s := &olricStore{
		now:     o.clock,
		log:     lg,
		name:    name,
		ttl:     ttl,
		timeout: timeout,
		lease:   lease,
	}

	var err error
	if cfg.Embedded {
		err = s.startEmbedded(ctx, cfg)
	} else {
		err = s.connectCluster(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *olricStore) startEmbedded(ctx context.Context, cfg *OlricConfig) error {
	c := olricconfig.New("local")
	host, port := splitBindAddr(cfg.BindAddr)
	c.BindAddr = host
	if port > 0 {
		c.BindPort = port
	}
	if len(cfg.Peers) > 0 {
		c.Peers = cfg.Peers
	}
	c.LogOutput = io.Discard
	c.Logger = log.New(io.Discard, "", 0)

	// Started must be set before olric.New.
	ready := make(chan struct{})
	c.Started = func() { close(ready) }

	db, err := olric.New(c)
	if err != nil {
		s.log.Error().Err(err).Msg("olric: failed to create embedded node")
		return err
	}

	startErr := make(chan error, 1)
	go func() {
		if err := db.Start(); err != nil {
			startErr <- err
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	select {
	case <-ready:
	case err := <-startErr:
		s.log.Error().Err(err).Msg("olric: embedded node failed to start")
		return err
	case <-startCtx.Done():
		s.log.Warn().Msg("olric: embedded node not ready before startup deadline")
	}

	client := db.NewEmbeddedClient()
	dm, err := client.NewDMap(s.name)
	if err != nil {
		s.log.Error().Err(err).Str("dmap", s.name).Msg("olric: failed to open dmap")
		if shutdownErr := db.Shutdown(context.Background()); shutdownErr != nil {
			s.log.Error().Err(shutdownErr).Msg("olric: shutdown after dmap error")
		}
		return err
	}

	s.db, s.client, s.dmap = db, client, dm
	s.log.Info().
		Str("bind_addr", host).
		Int("bind_port", port).
		Str("dmap", s.name).
		Int("peers", len(cfg.Peers)).
		Msg("olric embedded store started")
	return nil
}

func (s *olricStore) connectCluster(ctx context.Context, cfg *OlricConfig) error {
	if len(cfg.Addresses) == 0 {
		return errors.New("store: olric addresses required for client mode")
	}

	client, err := olric.NewClusterClient(cfg.Addresses)
	if err != nil {
		s.log.Error().Err(err).Strs("addresses", cfg.Addresses).Msg("olric: failed to connect")
		return unavailable("olric", "connect", err)
	}

	dm, err := client.NewDMap(s.name)
	if err != nil {
		s.log.Error().Err(err).Str("dmap", s.name).Msg("olric: failed to open dmap")
		if closeErr := client.Close(ctx); closeErr != nil {
			s.log.Debug().Err(closeErr).Msg("olric: close after dmap error")
		}
		return unavailable("olric", "connect", err)
	}

	s.client, s.dmap = client, dm
	s.log.Info().
		Strs("addresses", cfg.Addresses).
		Str("dmap", s.name).
		Msg("olric cluster store connected")
	return nil
}

// Name returns the backend name.
func (s *olricStore) Name() string { return "olric" }

// GetOrCreate returns the bucket for key, creating a full one if missing.
func (s *olricStore) GetOrCreate(ctx context.Context, key Key, limits Limits) (bucket.Bucket, error) {
	return s.Update(ctx, key, limits, identity)
}

// Save stores b under key.
func (s *olricStore) Save(ctx context.Context, key Key, b bucket.Bucket) error {
	_, err := s.Update(ctx, key, limitsOf(b), replaceWith(b))
	return err
}

// Update runs read, fn, write while holding the distributed lock for key.
func (s *olricStore) Update(ctx context.Context, key Key, limits Limits, fn UpdateFunc) (bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return bucket.Bucket{}, err
	}
	if err := limits.Validate(); err != nil {
		return bucket.Bucket{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return bucket.Bucket{}, ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	lock, err := s.dmap.LockWithTimeout(opCtx, olricLockPrefix+key.String(), s.lease, s.timeout)
	if err != nil {
		return bucket.Bucket{}, s.failure(ctx, "lock", err)
	}
	defer func() {
		// Unlock gets its own deadline so an expired opCtx still releases the lock.
		unlockCtx, unlockCancel := context.WithTimeout(context.Background(), s.timeout)
		defer unlockCancel()
		if err := lock.Unlock(unlockCtx); err != nil && !errors.Is(err, olric.ErrNoSuchLock) {
			s.log.Debug().Err(err).Str("key", key.String()).Msg("olric: unlock failed")
		}
	}()

	dataKey := olricDataPrefix + key.String()
	now := s.now()

	rec, found, err := s.read(opCtx, dataKey)
	if err != nil {
		return bucket.Bucket{}, s.failure(ctx, "read", err)
	}
	if !found {
		rec = record{CreatedAt: now, Bucket: bucket.New(limits.MaxTokens, limits.RefillRate, now)}
	} else {
		rec.Bucket = limits.apply(rec.Bucket)
	}

	next, err := fn(rec.Bucket)
	if err != nil {
		return rec.Bucket, err
	}

	doc, err := encodeJSON(record{CreatedAt: rec.CreatedAt, Bucket: next})
	if err != nil {
		return bucket.Bucket{}, err
	}

	var putOpts []olric.PutOption
	if s.ttl.Enabled() {
		putOpts = append(putOpts, olric.EX(s.ttl.Remaining(rec.CreatedAt, now)))
	}
	if err := s.dmap.Put(opCtx, dataKey, doc, putOpts...); err != nil {
		return bucket.Bucket{}, s.failure(ctx, "write", err)
	}
	return next, nil
}

// read loads a bucket document. A missing key or an unreadable document
// reports found=false.
func (s *olricStore) read(ctx context.Context, dataKey string) (record, bool, error) {
	resp, err := s.dmap.Get(ctx, dataKey)
	if errors.Is(err, olric.ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}

	doc, err := resp.String()
	if err != nil {
		s.log.Warn().Err(err).Str("key", dataKey).Msg("olric: unreadable bucket replaced")
		return record{}, false, nil
	}
	rec, err := decodeJSON(doc)
	if err != nil {
		s.log.Warn().Err(err).Str("key", dataKey).Msg("olric: unreadable bucket replaced")
		return record{}, false, nil
	}
	return rec, true, nil
}

// Snapshot scans the DMap for bucket documents of api, or all documents when
// api is empty.
func (s *olricStore) Snapshot(ctx context.Context, api string) (map[Key]bucket.Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return nil, ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pattern := "^" + regexp.QuoteMeta(olricDataPrefix)
	if api != "" {
		pattern += regexp.QuoteMeta(api + ":")
	}

	iter, err := s.dmap.Scan(opCtx, olric.Match(pattern))
	if err != nil {
		return nil, s.failure(ctx, "snapshot", err)
	}
	defer iter.Close()

	var dataKeys []string
	for iter.Next() {
		dataKeys = append(dataKeys, iter.Key())
	}

	out := make(map[Key]bucket.Bucket, len(dataKeys))
	for _, dataKey := range dataKeys {
		key, ok := ParseKey(strings.TrimPrefix(dataKey, olricDataPrefix))
		if !ok {
			continue
		}
		rec, found, err := s.read(opCtx, dataKey)
		if err != nil {
			return nil, s.failure(ctx, "snapshot", err)
		}
		if found {
			out[key] = rec.Bucket
		}
	}
	return out, nil
}

// Delete removes a bucket.
func (s *olricStore) Delete(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.dmap.Delete(opCtx, olricDataPrefix+key.String())
	if err != nil && !errors.Is(err, olric.ErrKeyNotFound) {
		return s.failure(ctx, "delete", err)
	}
	return nil
}

// Ping verifies the DMap answers. A key-not-found reply counts as healthy.
func (s *olricStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed.Load() {
		return ErrClosed
	}

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.dmap.Get(opCtx, olricPingKey)
	if err == nil || errors.Is(err, olric.ErrKeyNotFound) {
		return nil
	}
	return s.failure(ctx, "ping", err)
}

// Close shuts the embedded node down or disconnects the cluster client.
// Close is idempotent.
func (s *olricStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Swap(true) {
		return nil
	}

	ctx := context.Background()
	if s.dmap != nil {
		if err := s.dmap.Close(ctx); err != nil {
			s.log.Debug().Err(err).Msg("olric: dmap close error")
		}
	}

	if s.db != nil {
		if err := s.db.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("olric: embedded node shutdown error")
			return err
		}
		s.log.Info().Msg("olric embedded store closed")
		return nil
	}

	if s.client != nil {
		if err := s.client.Close(ctx); err != nil {
			s.log.Error().Err(err).Msg("olric: client close error")
			return err
		}
		s.log.Info().Msg("olric cluster store closed")
	}
	return nil
}

func (s *olricStore) failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	s.log.Debug().Err(err).Str("op", op).Msg("olric: backend error")
	return unavailable("olric", op, err)
}
