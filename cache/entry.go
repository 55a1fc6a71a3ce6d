package cache

import (
	"sync/atomic"
	"time"
)

// Entry is the unit stored in L1: a value, its TTL metadata, a content
// fingerprint, the serialized envelope form, and its size. Exactly one
// Entry is current for any key present in the store; replacement is
// atomic (see Store.Set).
//
// The value is held as an opaque `any` rather than reified generic bytes
// — this is an in-process store, so there is no encoding cost on the hot
// path, and a type mismatch at Get is simply treated as absent rather
// than failing the call (spec §9, "typed value in a polymorphic store").
// The envelope form (produced by UpdateFingerprint) is what crosses the
// process boundary, either to L2 or over the backplane.
type Entry struct {
	key   string
	value any

	createdAtMs int64 // immutable

	// absoluteExpireAtMs and monotonicKillTick agree on liveness; they
	// are read/written with sync/atomic because LRU refresh mutates them
	// on a Get hit outside the store's lock.
	absoluteExpireAtMs int64
	monotonicKillTick  int64
	ttlMs              int64

	// fingerprint and serialized are set once, asynchronously, by
	// UpdateFingerprint. They start empty and stay empty forever if
	// NotificationType is None.
	fingerprint atomic.Value // string
	serialized  atomic.Value // []byte (msgpack envelope)
	sizeBytes   atomic.Int64
}

// monotonicBase anchors monotonicNowMs: time.Since reads the monotonic
// clock reading carried by monotonicBase, so the kill tick is immune to
// wall-clock jumps.
var monotonicBase = time.Now()

func monotonicNowMs() int64 {
	return int64(time.Since(monotonicBase) / time.Millisecond)
}

// newEntry constructs an Entry with deadlines computed immediately, so
// IsExpired is correct even before serialization completes. Matches the
// constructor contract in spec §4.1.
func newEntry(key string, value any, ttl time.Duration) *Entry {
	now := time.Now()
	e := &Entry{
		key:         key,
		value:       value,
		createdAtMs: now.UnixMilli(),
		ttlMs:       ttl.Milliseconds(),
	}
	e.armDeadlines(now)
	return e
}

func (e *Entry) armDeadlines(now time.Time) {
	atomic.StoreInt64(&e.absoluteExpireAtMs, now.Add(time.Duration(e.ttlMs)*time.Millisecond).UnixMilli())
	atomic.StoreInt64(&e.monotonicKillTick, monotonicNowMs()+e.ttlMs)
}

// Refresh slides both deadlines forward by ttlMs from now. Called on an
// LRU read hit; never called under FIFO.
func (e *Entry) Refresh() {
	e.armDeadlines(time.Now())
}

// IsExpired is the authoritative liveness check; it compares against the
// monotonic tick so it stays correct across wall-clock jumps.
func (e *Entry) IsExpired() bool {
	return monotonicNowMs() > atomic.LoadInt64(&e.monotonicKillTick)
}

// Fingerprint returns the content digest once UpdateFingerprint has run,
// or "" during the brief pending window before it does.
func (e *Entry) Fingerprint() string {
	if v := e.fingerprint.Load(); v != nil {
		return v.(string)
	}
	return ""
}

// Serialized returns the envelope bytes produced by UpdateFingerprint, or
// nil before it has run or when NotificationType is None.
func (e *Entry) Serialized() []byte {
	if v := e.serialized.Load(); v != nil {
		return v.([]byte)
	}
	return nil
}

func (e *Entry) SizeBytes() int64 { return e.sizeBytes.Load() }

func (e *Entry) Key() string { return e.key }

func (e *Entry) Value() any { return e.value }

func (e *Entry) TTL() time.Duration { return time.Duration(e.ttlMs) * time.Millisecond }

func (e *Entry) CreatedAtMs() int64 { return e.createdAtMs }

func (e *Entry) AbsoluteExpireAtMs() int64 { return atomic.LoadInt64(&e.absoluteExpireAtMs) }

// UpdateFingerprint serializes value via the envelope codec, records
// sizeBytes, computes the fingerprint digest, compresses when the
// serialized size is at or above compressionThreshold, and invokes
// onComplete with the finished envelope bytes. It never mutates the
// Entry's liveness — failures here leave the Entry valid and servable
// from L1, just without an L2 mirror or a fingerprint guard until the
// next successful write (spec §4.2).
func (e *Entry) UpdateFingerprint(compressionThreshold int, onComplete func(entry *Entry, envelope []byte, err error)) {
	env := envelopeMeta{
		Key:                e.key,
		TTLMs:              e.ttlMs,
		CreatedAtMs:        e.createdAtMs,
		AbsoluteExpireAtMs: e.AbsoluteExpireAtMs(),
		MonotonicKillTick:  atomic.LoadInt64(&e.monotonicKillTick),
	}

	payload, err := encodePayload(e.value)
	if err != nil {
		onComplete(e, nil, err)
		return
	}

	fp := fingerprintOf(payload)
	e.fingerprint.Store(fp)
	env.Fingerprint = fp

	if len(payload) >= compressionThreshold && compressionThreshold > 0 {
		compressed, cerr := gzipCompress(payload)
		if cerr == nil {
			payload = compressed
			env.Compressed = true
		}
	}
	env.Payload = payload

	envelopeBytes, err := encodeEnvelope(env)
	if err != nil {
		onComplete(e, nil, err)
		return
	}

	e.serialized.Store(envelopeBytes)
	e.sizeBytes.Store(int64(len(envelopeBytes)))
	onComplete(e, envelopeBytes, nil)
}

// FromRemoteBytes parses an envelope previously produced by
// UpdateFingerprint (or by a peer process), decompresses if flagged,
// decodes the payload into dst, and reconstructs an Entry whose
// deadlines come from the envelope rather than being recomputed — a
// rehydrated Entry must not silently extend its own life relative to
// what the writer intended.
func FromRemoteBytes(key string, data []byte, dst any) (*Entry, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return nil, ErrCorruptEnvelope
	}

	payload := env.Payload
	if env.Compressed {
		payload, err = gzipDecompress(payload)
		if err != nil {
			return nil, ErrCorruptEnvelope
		}
	}

	if err := decodePayload(payload, dst); err != nil {
		return nil, ErrCorruptEnvelope
	}

	e := &Entry{
		key:         key,
		value:       dst,
		createdAtMs: env.CreatedAtMs,
		ttlMs:       env.TTLMs,
	}
	atomic.StoreInt64(&e.absoluteExpireAtMs, env.AbsoluteExpireAtMs)
	// monotonicKillTick is never comparable across processes (each has
	// its own monotonic base), so it is re-derived from the envelope's
	// wall-clock deadline rather than copied — the wall-clock deadline
	// itself still comes straight from the envelope, unrecomputed.
	remainingMs := env.AbsoluteExpireAtMs - time.Now().UnixMilli()
	atomic.StoreInt64(&e.monotonicKillTick, monotonicNowMs()+remainingMs)
	e.fingerprint.Store(env.Fingerprint)
	e.serialized.Store(data)
	e.sizeBytes.Store(int64(len(data)))
	return e, nil
}
