package cache

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"cachemesh.app/pkg/utils"
)

// RemoteMirror is C7: the L2 mirror. It never mediates liveness or
// coherence — the backplane does that — it only makes warm restarts and
// cold L1s cheap by keeping a remote copy of the envelope bytes C2
// produces.
//
// Keyspace: "{applicationCachePrefix}:{cacheKey}" (spec §6). When more
// than one Redis endpoint is configured, keys are distributed across
// them with the teacher's consistent-hash ring so a single hot prefix
// doesn't pin all L2 traffic to one node.
type RemoteMirror struct {
	prefix string
	ring   *utils.HashRing
	nodes  map[string]*redis.Client
}

// NewRemoteMirror dials every address in addrs. A single address is the
// common case; more than one activates ring-based sharding.
func NewRemoteMirror(prefix string, addrs []string) (*RemoteMirror, error) {
	if len(addrs) == 0 {
		return nil, errors.New("cache: remote mirror requires at least one address")
	}
	ring := utils.NewHashRing(0)
	nodes := make(map[string]*redis.Client, len(addrs))
	for _, addr := range addrs {
		nodes[addr] = redis.NewClient(&redis.Options{Addr: addr})
		if err := ring.AddNode(addr, 1); err != nil {
			return nil, err
		}
	}
	return &RemoteMirror{prefix: prefix, ring: ring, nodes: nodes}, nil
}

func (m *RemoteMirror) remoteKey(cacheKey string) string {
	return m.prefix + ":" + cacheKey
}

func (m *RemoteMirror) clientFor(cacheKey string) *redis.Client {
	addr := m.ring.GetNode(cacheKey)
	return m.nodes[addr]
}

// MirrorOnWrite SETs the remote key to envelope with a TTL equal to
// absoluteExpireAtMs-now. Failures are logged, never surfaced (spec
// §4.7, §7 RemoteStoreUnavailable).
func (m *RemoteMirror) MirrorOnWrite(ctx context.Context, cacheKey string, envelope []byte, absoluteExpireAtMs int64) {
	ttl := time.Until(time.UnixMilli(absoluteExpireAtMs))
	if ttl <= 0 {
		return
	}
	client := m.clientFor(cacheKey)
	if err := client.Set(ctx, m.remoteKey(cacheKey), envelope, ttl).Err(); err != nil {
		log.Printf("cache: L2 mirror-on-write failed for key %q: %v", cacheKey, err)
	}
}

// MirrorOnDelete deletes the single remote key corresponding to cacheKey.
func (m *RemoteMirror) MirrorOnDelete(ctx context.Context, cacheKey string) {
	client := m.clientFor(cacheKey)
	if err := client.Del(ctx, m.remoteKey(cacheKey)).Err(); err != nil {
		log.Printf("cache: L2 mirror-on-delete failed for key %q: %v", cacheKey, err)
	}
}

// MirrorOnPatternDelete executes a server-side SCAN+UNLINK against the
// prefixed pattern on every configured node, bounding round-trips to one
// scan cursor loop per node rather than one round trip per key (spec
// §4.7, "Mirror-on-delete").
func (m *RemoteMirror) MirrorOnPatternDelete(ctx context.Context, pattern string) {
	remotePattern := m.remoteKey(redisGlob(pattern))
	for addr, client := range m.nodes {
		if err := scanAndUnlink(ctx, client, remotePattern); err != nil {
			log.Printf("cache: L2 pattern mirror-delete failed on %q: %v", addr, err)
		}
	}
}

func scanAndUnlink(ctx context.Context, client *redis.Client, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Unlink(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// redisGlob adapts the cache engine's `*`-only grammar to Redis SCAN's
// glob, which is already `*`-compatible — kept as a named seam in case a
// future pattern feature (e.g. `?`) needs translating before it reaches
// Redis.
func redisGlob(pattern string) string { return pattern }

// ReadThrough GETs the remote key and, if present, parses it into an
// Entry via FromRemoteBytes and installs it into store without notifying
// listeners (spec §4.7, "Read-through on miss"). Returns (value, true)
// on a hit.
func (m *RemoteMirror) ReadThrough(ctx context.Context, store *Store, cacheKey string, dst any) (any, bool) {
	client := m.clientFor(cacheKey)
	data, err := client.Get(ctx, m.remoteKey(cacheKey)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("cache: L2 read-through failed for key %q: %v", cacheKey, err)
		}
		return nil, false
	}

	entry, err := FromRemoteBytes(cacheKey, data, dst)
	if err != nil {
		log.Printf("cache: L2 envelope corrupt for key %q: %v", cacheKey, err)
		return nil, false
	}
	if entry.IsExpired() {
		return nil, false
	}
	store.installRehydrated(entry)
	return entry.Value(), true
}

// BatchReadThrough performs a single MGET over the prefixed keys (per
// node, when sharded). Hits are rehydrated into store; misses are
// returned so the caller can fall through to its batch factory.
func (m *RemoteMirror) BatchReadThrough(ctx context.Context, store *Store, cacheKeys []string, newDst func() any) (hits map[string]any, misses []string) {
	hits = make(map[string]any, len(cacheKeys))

	byNode := make(map[string][]string)
	for _, k := range cacheKeys {
		addr := m.ring.GetNode(k)
		byNode[addr] = append(byNode[addr], k)
	}

	for addr, keys := range byNode {
		client := m.nodes[addr]
		remoteKeys := make([]string, len(keys))
		for i, k := range keys {
			remoteKeys[i] = m.remoteKey(k)
		}
		values, err := client.MGet(ctx, remoteKeys...).Result()
		if err != nil {
			log.Printf("cache: L2 batch read-through failed on %q: %v", addr, err)
			misses = append(misses, keys...)
			continue
		}
		for i, v := range values {
			if v == nil {
				misses = append(misses, keys[i])
				continue
			}
			str, ok := v.(string)
			if !ok {
				misses = append(misses, keys[i])
				continue
			}
			dst := newDst()
			entry, err := FromRemoteBytes(keys[i], []byte(str), dst)
			if err != nil || entry.IsExpired() {
				misses = append(misses, keys[i])
				continue
			}
			store.installRehydrated(entry)
			hits[keys[i]] = entry.Value()
		}
	}
	return hits, misses
}

// Close releases every underlying Redis client.
func (m *RemoteMirror) Close() error {
	var firstErr error
	for _, client := range m.nodes {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
