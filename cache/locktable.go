package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// keyLock is the single-permit exclusion primitive held by exactly one
// GetOrSet caller at a time, for the duration of a factory call.
type keyLock struct {
	ch       chan struct{} // capacity 1; holding the token means holding the lock
	lastUsed int64         // unix ms, updated on every acquire; read by the reaper
}

func newKeyLock() *keyLock {
	l := &keyLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

func (l *keyLock) tryAcquire(ctx context.Context, timeout time.Duration) bool {
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		timeoutCh = timer.C
		defer timer.Stop()
	}
	select {
	case <-l.ch:
		return true
	case <-ctx.Done():
		return false
	case <-timeoutCh:
		return false
	}
}

func (l *keyLock) release() {
	select {
	case l.ch <- struct{}{}:
	default:
		// a held-but-already-full token means release was called twice;
		// releasing a lock that isn't held is defined as a no-op.
	}
}

// lockShard guards one slice of the keyed map, so a contended waiter for
// one key never blocks lookups of unrelated keys hashed to a different
// shard (spec §4.3).
type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// LockTable is C3: a fixed-size pool of shard guards plus a keyed map
// from cache key to a single-permit exclusion primitive, with bounded
// acquire timeouts, cancellation, and reclamation of locks idle longer
// than idleTTL.
type LockTable struct {
	shards  []*lockShard
	n       uint64
	idleTTL time.Duration

	stopCh chan struct{}
	once   sync.Once
}

// NewLockTable builds a table with n shards (defaulting to 7872, the
// value named in spec §4.3, when n<=0) and starts a background reaper
// that reclaims locks unused for longer than idleTTL.
func NewLockTable(n int, idleTTL time.Duration) *LockTable {
	if n <= 0 {
		n = 7872
	}
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	t := &LockTable{
		shards:  make([]*lockShard, n),
		n:       uint64(n),
		idleTTL: idleTTL,
		stopCh:  make(chan struct{}),
	}
	for i := range t.shards {
		t.shards[i] = &lockShard{locks: make(map[string]*keyLock)}
	}
	go t.reapLoop()
	return t
}

func (t *LockTable) shardFor(key string) *lockShard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return t.shards[h.Sum64()%t.n]
}

// Acquire blocks until the per-key lock is held, the timeout elapses, or
// ctx is canceled, whichever comes first. It returns a release function
// that must be called exactly once by the winner.
func (t *LockTable) Acquire(ctx context.Context, key string, timeout time.Duration) (release func(), ok bool) {
	shard := t.shardFor(key)

	shard.mu.Lock()
	lk, exists := shard.locks[key]
	if !exists {
		lk = newKeyLock()
		shard.locks[key] = lk
	}
	shard.mu.Unlock()

	if !lk.tryAcquire(ctx, timeout) {
		return nil, false
	}
	lk.lastUsed = time.Now().UnixMilli()
	return func() { lk.release() }, true
}

// reapLoop periodically scans every shard and drops locks that have sat
// idle (token present, i.e. unheld) for longer than idleTTL. A shard's
// own mutex serializes the check against concurrent Acquire calls on
// that shard, so a lock can never be deleted out from under a winner.
func (t *LockTable) reapLoop() {
	ticker := time.NewTicker(t.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.reapOnce()
		}
	}
}

func (t *LockTable) reapOnce() {
	cutoff := time.Now().Add(-t.idleTTL).UnixMilli()
	for _, shard := range t.shards {
		shard.mu.Lock()
		for key, lk := range shard.locks {
			select {
			case <-lk.ch:
				// token was free: it's genuinely unheld right now.
				if lk.lastUsed < cutoff {
					delete(shard.locks, key)
					// don't put the token back; this keyLock is retired.
					continue
				}
				lk.ch <- struct{}{}
			default:
				// currently held; never reclaim a held lock.
			}
		}
		shard.mu.Unlock()
	}
}

// Stop halts the background reaper. Idempotent.
func (t *LockTable) Stop() {
	t.once.Do(func() { close(t.stopCh) })
}

// Size reports the number of live per-key locks across all shards,
// mainly for tests and Statistics.
func (t *LockTable) Size() int {
	total := 0
	for _, shard := range t.shards {
		shard.mu.Lock()
		total += len(shard.locks)
		shard.mu.Unlock()
	}
	return total
}
