package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EvictionPolicy selects how absoluteExpireAtMs/monotonicKillTick behave
// on a read hit.
type EvictionPolicy int

const (
	// PolicyLRU refreshes both deadlines forward by TTLMs on every Get hit.
	PolicyLRU EvictionPolicy = iota
	// PolicyFIFO never refreshes; an entry dies at its original deadline
	// regardless of how often it is read.
	PolicyFIFO
)

func (p EvictionPolicy) String() string {
	if p == PolicyFIFO {
		return "fifo"
	}
	return "lru"
}

// NotificationType controls how C2 (the serialization pipeline) is
// engaged on Set.
type NotificationType int

const (
	// NotificationAsync enqueues the entry onto the serialization
	// pipeline and returns immediately; fingerprint/envelope/mirror
	// become available after a short, unsynchronized delay.
	NotificationAsync NotificationType = iota
	// NotificationSync runs UpdateFingerprint inline before Set returns.
	NotificationSync
	// NotificationNone never serializes or notifies; the entry is
	// L1-only, never mirrored to L2, never guarded by fingerprint.
	NotificationNone
)

// Config is the value object that parameterizes a Service. Construct via
// DefaultConfig and override fields, or build one directly; Validate is
// always called at construction.
type Config struct {
	// ApplicationCachePrefix scopes the backplane channel and the L2
	// keyspace. Required.
	ApplicationCachePrefix string

	// InstanceID identifies this process's cache for loopback
	// suppression. Defaults to a fresh UUID if empty.
	InstanceID string

	// CleanupJobIntervalMs is the period of the expiration sweeper.
	CleanupJobIntervalMs int64

	// DefaultTTL is used when a caller omits one on Set.
	DefaultTTL time.Duration

	// EvictionPolicy selects LRU or FIFO deadline behavior.
	EvictionPolicy EvictionPolicy

	// NotificationType selects how C2 is engaged on Set.
	NotificationType NotificationType

	// CompressionThreshold is the serialized size (bytes) at/above which
	// the envelope payload is gzip-compressed.
	CompressionThreshold int

	// UseRemoteAsSecondLevel activates C7.
	UseRemoteAsSecondLevel bool

	// RemoteAddrs lists the Redis endpoints backing C7. When more than
	// one is given, keys are sharded across them with the consistent
	// hash ring in pkg/utils.
	RemoteAddrs []string

	// ValueChangeListener, if set, is invoked on every observable Entry
	// state transition (AddOrUpdate, Remove, Expire).
	ValueChangeListener func(ChangeEvent)

	// LockPoolSize is the shard count of C3's lock pool.
	LockPoolSize int

	// FlushIntervalMs and BatchSize bound the C2 batch buffer.
	FlushIntervalMs int64
	BatchSize       int

	// MaxFactoryWaitMs is the default GetOrSet lock-acquire timeout when
	// the caller does not supply one.
	MaxFactoryWaitMs int64

	// LockIdleTTL is how long an unused per-key lock survives before C3
	// reclaims it.
	LockIdleTTL time.Duration
}

// DefaultConfig returns a Config with the defaults named in spec §3.
func DefaultConfig(applicationCachePrefix string) Config {
	return Config{
		ApplicationCachePrefix: applicationCachePrefix,
		InstanceID:             uuid.NewString(),
		CleanupJobIntervalMs:   1000,
		DefaultTTL:             5 * time.Minute,
		EvictionPolicy:         PolicyLRU,
		NotificationType:       NotificationAsync,
		CompressionThreshold:   4096,
		UseRemoteAsSecondLevel: false,
		LockPoolSize:           7872,
		FlushIntervalMs:        35,
		BatchSize:              100,
		MaxFactoryWaitMs:       10000,
		LockIdleTTL:            5 * time.Minute,
	}
}

// Validate fails fast with ErrConfigurationError for anything that makes
// the service unusable at construction time.
func (c *Config) Validate() error {
	if c.ApplicationCachePrefix == "" {
		return fmt.Errorf("%w: applicationCachePrefix is required", ErrConfigurationError)
	}
	if c.UseRemoteAsSecondLevel && len(c.RemoteAddrs) == 0 {
		return fmt.Errorf("%w: remoteAddrs required when useRemoteAsSecondLevel is set", ErrConfigurationError)
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	if c.LockPoolSize <= 0 {
		c.LockPoolSize = 7872
	}
	if c.CleanupJobIntervalMs <= 0 {
		c.CleanupJobIntervalMs = 1000
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = 35
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxFactoryWaitMs <= 0 {
		c.MaxFactoryWaitMs = 10000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.LockIdleTTL <= 0 {
		c.LockIdleTTL = 5 * time.Minute
	}
	return nil
}

// ChangeKind enumerates the terminal transitions of an Entry's state
// machine (spec §4.4) that the change listener is told about.
type ChangeKind int

const (
	ChangeAddOrUpdate ChangeKind = iota
	ChangeRemove
	ChangeExpire
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAddOrUpdate:
		return "add_or_update"
	case ChangeRemove:
		return "remove"
	case ChangeExpire:
		return "expire"
	default:
		return "unknown"
	}
}

// ChangeEvent is delivered to Config.ValueChangeListener and is also the
// shape C6 reads to build an outbound Invalidation Message.
type ChangeEvent struct {
	Kind        ChangeKind
	Key         string
	IsPattern   bool
	Fingerprint string
	TimestampMs int64
}
