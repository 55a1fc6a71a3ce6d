package cache

import (
	"context"
	"sync"
	"time"
)

// Store is C4: a concurrent map from key to Entry with set/get/remove/
// remove-by-pattern/clear/sweep, an LRU-or-FIFO eviction policy, and a
// change-listener hook. It also hosts C5 (GetOrSet/GetOrSetBatch), which
// the spec defines as "the GetOrSet path of C4 using C3" rather than a
// separate component.
//
// Capacity is not bounded here — unlike the teacher's original L1Cache,
// nothing in the spec calls for a capacity-triggered eviction; liveness
// is purely TTL-driven (LRU refreshes the deadline on read, FIFO never
// does), so there is no need for the teacher's container/list ordering
// structure.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	cfg      Config
	pipeline *Pipeline
	locks    *LockTable

	sweepMu  sync.Mutex // try-enter guard; concurrent sweeps are coalesced
	sweeping bool

	onChange func(ChangeEvent)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewStore constructs C4 wired to its own C2 pipeline and C3 lock table.
// onChange, if non-nil, is invoked for every terminal Entry transition
// (AddOrUpdate/Remove/Expire) — this is the seam C6 (outbound backplane
// publish) and the monitoring companion attach to.
func NewStore(cfg Config, onChange func(ChangeEvent)) *Store {
	s := &Store{
		entries:  make(map[string]*Entry),
		cfg:      cfg,
		pipeline: NewPipeline(time.Duration(cfg.FlushIntervalMs)*time.Millisecond, cfg.BatchSize),
		locks:    NewLockTable(cfg.LockPoolSize, cfg.LockIdleTTL),
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

func (s *Store) notify(evt ChangeEvent) {
	evt.TimestampMs = time.Now().UnixMilli()
	if s.onChange != nil {
		s.onChange(evt)
	}
	if s.cfg.ValueChangeListener != nil {
		s.cfg.ValueChangeListener(evt)
	}
}

// Set atomically installs a new Entry, overwriting any previous one, and
// engages C2 per cfg.NotificationType.
func (s *Store) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	entry := newEntry(key, value, ttl)

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	switch s.cfg.NotificationType {
	case NotificationNone:
		// No serialization, no fingerprint, no notification: the entry
		// is L1-only and invisible to C2/C6/ValueChangeListener.
	case NotificationSync:
		entry.UpdateFingerprint(s.cfg.CompressionThreshold, func(e *Entry, envelope []byte, err error) {
			s.notify(ChangeEvent{Kind: ChangeAddOrUpdate, Key: key, Fingerprint: e.Fingerprint()})
		})
	default: // NotificationAsync
		s.pipeline.Enqueue(pipelineJob{
			entry:                entry,
			compressionThreshold: s.cfg.CompressionThreshold,
			onComplete: func(e *Entry, envelope []byte, err error) {
				s.notify(ChangeEvent{Kind: ChangeAddOrUpdate, Key: key, Fingerprint: e.Fingerprint()})
			},
		})
		// The caller-visible contract is that Set never blocks on L2 or
		// the pipeline regardless of how Async happens to be wired
		// underneath (spec §9, third open question) — enqueueing above
		// is non-blocking by construction.
	}
}

// installRehydrated installs an Entry reconstructed by L2 read-through
// without running it back through C2 (it isn't a new value) and without
// notifying listeners.
func (s *Store) installRehydrated(entry *Entry) {
	s.mu.Lock()
	s.entries[entry.Key()] = entry
	s.mu.Unlock()
}

// Get returns the current value if a live Entry exists, else (nil,
// false). Under LRU, a hit extends both deadlines by ttlMs.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || entry.IsExpired() {
		return nil, false
	}
	if s.cfg.EvictionPolicy == PolicyLRU {
		entry.Refresh()
	}
	return entry.Value(), true
}

// entryForGuard is used internally by the backplane to compare the
// message fingerprint against the live local Entry without going
// through the public Get path (which would extend the TTL under LRU, a
// side effect a mere existence check must not cause).
func (s *Store) entryForGuard(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.IsExpired() {
		return nil, false
	}
	return e, true
}

// Remove looks up key; if guard is non-nil and guard(fingerprint)
// returns true the remove is skipped — this is the fingerprint-based
// conflict-avoidance mechanism the backplane's inbound path uses (spec
// §4.6, §9 open question: skip-if-equal is the adopted reading).
// Returns whether a live entry was actually removed.
func (s *Store) Remove(key string, notify bool, guard func(fingerprint string) bool) bool {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if guard != nil && guard(entry.Fingerprint()) {
		s.mu.Unlock()
		return false
	}
	wasLive := !entry.IsExpired()
	delete(s.entries, key)
	s.mu.Unlock()

	if notify {
		s.notify(ChangeEvent{Kind: ChangeRemove, Key: key, Fingerprint: entry.Fingerprint()})
	}
	return wasLive
}

// RemoveByPattern matches the current key set against pattern (the
// minimal `*`-glob grammar in pattern.go) and removes every match
// without individual notification, then publishes a single aggregated
// Remove event tagged isPattern=true.
func (s *Store) RemoveByPattern(pattern string, notify bool) int {
	s.mu.Lock()
	var toDelete []string
	for key := range s.entries {
		if matchPattern(key, pattern) {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if notify {
		s.notify(ChangeEvent{Kind: ChangeRemove, Key: pattern, IsPattern: true})
	}
	return len(toDelete)
}

// Clear atomically drains the map and publishes one aggregated Remove
// event with key "*" and isPattern=true.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.mu.Unlock()

	s.notify(ChangeEvent{Kind: ChangeRemove, Key: "*", IsPattern: true})
}

// EvictExpired scans the map and removes expired Entries, tagging each
// removal Expire. Concurrent sweeps are coalesced via a non-blocking
// try-enter lock: an overlapping scheduled sweep simply no-ops.
func (s *Store) EvictExpired() int {
	s.sweepMu.Lock()
	if s.sweeping {
		s.sweepMu.Unlock()
		return 0
	}
	s.sweeping = true
	s.sweepMu.Unlock()
	defer func() {
		s.sweepMu.Lock()
		s.sweeping = false
		s.sweepMu.Unlock()
	}()

	s.mu.Lock()
	var expired []string
	for key, entry := range s.entries {
		if entry.IsExpired() {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	for _, key := range expired {
		s.notify(ChangeEvent{Kind: ChangeExpire, Key: key})
	}
	return len(expired)
}

func (s *Store) sweepLoop() {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.CleanupJobIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.EvictExpired()
		}
	}
}

// Factory produces a value for key when neither L1 nor L2 holds one.
type Factory func(ctx context.Context, key string) (any, error)

// GetOrSet is C5: returns the cached value if live, otherwise acquires
// the per-key lock (C3) with the given timeout, re-checks the map (a
// racing winner may have just filled it), and on a still-miss runs
// factory once, installs the result, and releases the lock.
//
// At most one factory executes per key at any instant; callers that
// arrive while another is in flight either observe the value it
// installs (if within their own wait budget) or receive
// ErrFactoryLockTimeout. A factory error is returned to the caller
// wrapped in *FactoryError and no Entry is installed.
func (s *Store) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, maxFactoryWait time.Duration) (any, error) {
	if v, ok := s.Get(key); ok {
		return v, nil
	}

	if maxFactoryWait <= 0 {
		maxFactoryWait = time.Duration(s.cfg.MaxFactoryWaitMs) * time.Millisecond
	}

	release, ok := s.locks.Acquire(ctx, key, maxFactoryWait)
	if !ok {
		return nil, ErrFactoryLockTimeout
	}
	defer release()

	if v, ok := s.Get(key); ok {
		return v, nil
	}

	v, err := factory(ctx, key)
	if err != nil {
		return nil, &FactoryError{Key: key, Err: err}
	}

	s.Set(key, v, ttl)
	return v, nil
}

// BatchFactory produces values for every key in misses, in the same
// order, returning one entry (nil for "no value") per requested key.
type BatchFactory func(ctx context.Context, misses []string) ([]any, error)

// GetOrSetBatch partitions keys into hits and misses, invokes factory
// once with the miss list, installs whatever it returns, and returns
// results aligned to the input order. No per-key locking is used here
// (spec §4.4/§9): two concurrent overlapping batches may invoke the
// factory twice for the same key. That duplication is accepted in
// exchange for not serializing unrelated batch callers behind C3.
func (s *Store) GetOrSetBatch(ctx context.Context, keys []string, factory BatchFactory, ttl time.Duration) ([]any, error) {
	results := make([]any, len(keys))
	var misses []string
	missIdx := make([]int, 0, len(keys))

	for i, key := range keys {
		if v, ok := s.Get(key); ok {
			results[i] = v
		} else {
			misses = append(misses, key)
			missIdx = append(missIdx, i)
		}
	}

	if len(misses) == 0 {
		return results, nil
	}

	values, err := factory(ctx, misses)
	if err != nil {
		return nil, &FactoryError{Key: joinKeys(misses), Err: err}
	}

	for i, key := range misses {
		if i >= len(values) || values[i] == nil {
			continue
		}
		s.Set(key, values[i], ttl)
		results[missIdx[i]] = values[i]
	}
	return results, nil
}

func joinKeys(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	out := keys[0]
	for _, k := range keys[1:] {
		out += "," + k
	}
	return out
}

// Statistics is the count and total serialized size of the entries in
// the map, including expired entries the sweeper has not yet reclaimed.
type Statistics struct {
	Count     int
	SizeBytes int64
}

func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Statistics{Count: len(s.entries)}
	for _, e := range s.entries {
		stats.SizeBytes += e.SizeBytes()
	}
	return stats
}

// Stop halts the sweeper, the pipeline, and the lock table's reaper.
func (s *Store) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.pipeline.Stop()
	s.locks.Stop()
}
