// Package cache implements the multi-tier cache engine: a process-local
// L1 store kept coherent across a fleet of processes via a publish/
// subscribe backplane, with an optional shared remote store (L2) backing
// cold starts and L1 misses.
//
// Design choices carried from the teacher codebase this was built atop:
//   - sync.RWMutex-protected map for L1, not sync.Map, for the same
//     reason the teacher chose it: predictable eviction/TTL control.
//   - Request coalescing prevents thundering herd on factory calls
//     (GetOrSet), implemented here directly atop the per-key lock table
//     rather than a generic singleflight.Group, because the spec
//     requires a bounded, cancellable acquire that a plain singleflight
//     call can't express.
//   - Pub/sub coordination (encore.dev/pubsub) for cross-instance
//     coherence, exactly as the teacher wires invalidation today.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"encore.dev/pubsub"

	"cachemesh.app/monitoring"
)

// Service is the Encore service wrapping the C1–C7 engine behind a
// functional HTTP surface.
//
//encore:service
type Service struct {
	cfg       Config
	store     *Store
	backplane *Backplane
	remote    *RemoteMirror
	admin     *adminServer
}

var (
	svc     *Service
	svcOnce sync.Once
	svcErr  error
)

// initService is invoked by Encore at startup. It builds the service
// from DefaultConfig("cachemesh") unchanged: no environment or other
// external configuration is read, so L2 stays disabled, mirroring the
// teacher's own unit-test-friendly default.
func initService() (*Service, error) {
	svcOnce.Do(func() {
		cfg := DefaultConfig("cachemesh")
		svc, svcErr = NewService(cfg)
	})
	return svc, svcErr
}

// NewService validates cfg, wires C4's change-listener hook to C6, and
// optionally stands up C7. Exported so tests and the warming/invalidation
// companions can construct an isolated instance.
func NewService(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg}
	s.store = NewStore(cfg, func(evt ChangeEvent) {
		s.backplane.OnChange(evt)
		if s.remote != nil && evt.Kind != ChangeExpire {
			s.mirrorChange(evt)
		}
	})
	s.backplane = NewBackplane(cfg, s.store)

	if cfg.UseRemoteAsSecondLevel {
		mirror, err := NewRemoteMirror(cfg.ApplicationCachePrefix, cfg.RemoteAddrs)
		if err != nil {
			return nil, err
		}
		s.remote = mirror
	}

	s.admin = newAdminServer(s)
	return s, nil
}

func (s *Service) mirrorChange(evt ChangeEvent) {
	ctx := context.Background()
	switch evt.Kind {
	case ChangeAddOrUpdate:
		e, ok := s.store.entryForGuard(evt.Key)
		if !ok {
			return
		}
		envelope := e.Serialized()
		if envelope == nil {
			return
		}
		s.remote.MirrorOnWrite(ctx, evt.Key, envelope, e.AbsoluteExpireAtMs())
	case ChangeRemove:
		if evt.IsPattern {
			s.remote.MirrorOnPatternDelete(ctx, evt.Key)
		} else {
			s.remote.MirrorOnDelete(ctx, evt.Key)
		}
	}
}

// subscription wires C6's inbound path; Encore subscriptions must be
// package-level values, so it is declared here rather than inside
// NewService. Every process subscribes to the one shared topic and
// filters by prefix/instanceId inside HandleInbound.
var _ = pubsub.NewSubscription(
	CacheInvalidateTopic,
	"cache-engine-invalidate",
	pubsub.SubscriptionConfig[*InvalidationMessage]{
		Handler: dispatchInbound,
	},
)

func dispatchInbound(ctx context.Context, msg *InvalidationMessage) error {
	if svc == nil || svc.backplane == nil {
		return nil
	}
	return svc.backplane.HandleInbound(ctx, msg)
}

// ErrServiceUnavailable marks calls made before initService has run.
var ErrServiceUnavailable = errors.New("cache: service not initialized")

// --- Public functional surface (spec §6) ---

type GetResponse struct {
	Value any  `json:"value,omitempty"`
	Hit   bool `json:"hit"`
}

//encore:api public method=GET path=/cache/:key
func Get(ctx context.Context, key string) (*GetResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	start := time.Now()
	v, ok := svc.store.Get(key)
	if !ok && svc.remote != nil {
		var dst any
		if rv, rok := svc.remote.ReadThrough(ctx, svc.store, key, &dst); rok {
			v, ok = rv, true
		}
	}
	publishCacheMetric("get", key, ok, time.Since(start))
	return &GetResponse{Value: v, Hit: ok}, nil
}

// publishCacheMetric fires a monitoring.CacheMetricEvent so the
// observability companion's aggregator/alerting path has real traffic to
// summarize (spec's ambient observability, not part of the engine's own
// coherence contract). Fire-and-forget: a slow or failed publish must
// never add latency or failure to the calling cache operation.
func publishCacheMetric(operation, key string, hit bool, latency time.Duration) {
	if svc == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = monitoring.CacheMetricsTopic.Publish(ctx, &monitoring.CacheMetricEvent{
			Operation: operation,
			Key:       key,
			Hit:       hit,
			Latency:   float64(latency.Microseconds()) / 1000.0,
			Timestamp: time.Now(),
			Instance:  svc.cfg.InstanceID,
		})
	}()
}

type SetRequest struct {
	Value  any `json:"value"`
	TTLSec int `json:"ttlSec,omitempty"`
}

type SetResponse struct {
	Success bool `json:"success"`
}

//encore:api public method=PUT path=/cache/:key
func Set(ctx context.Context, key string, req *SetRequest) (*SetResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	ttl := time.Duration(0)
	if req.TTLSec > 0 {
		ttl = time.Duration(req.TTLSec) * time.Second
	}
	svc.store.Set(key, req.Value, ttl)
	publishCacheMetric("set", key, true, 0)
	return &SetResponse{Success: true}, nil
}

type RemoveResponse struct {
	Removed bool `json:"removed"`
}

//encore:api public method=DELETE path=/cache/:key
func Remove(ctx context.Context, key string) (*RemoveResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	removed := svc.store.Remove(key, true, nil)
	if svc.remote != nil {
		svc.remote.MirrorOnDelete(ctx, key)
	}
	publishCacheMetric("delete", key, removed, 0)
	return &RemoveResponse{Removed: removed}, nil
}

type RemoveByPatternRequest struct {
	Pattern string `json:"pattern"`
}

type RemoveByPatternResponse struct {
	Removed int `json:"removed"`
}

//encore:api public method=POST path=/cache/remove-by-pattern
func RemoveByPattern(ctx context.Context, req *RemoveByPatternRequest) (*RemoveByPatternResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	n := svc.store.RemoveByPattern(req.Pattern, true)
	if svc.remote != nil {
		svc.remote.MirrorOnPatternDelete(ctx, req.Pattern)
	}
	return &RemoveByPatternResponse{Removed: n}, nil
}

//encore:api public method=POST path=/cache/clear
func Clear(ctx context.Context) error {
	if svc == nil {
		return ErrServiceUnavailable
	}
	svc.store.Clear()
	if svc.remote != nil {
		svc.remote.MirrorOnPatternDelete(ctx, "*")
	}
	return nil
}

//encore:api public method=POST path=/cache/evict-expired
func EvictExpired(ctx context.Context) (*RemoveByPatternResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	return &RemoveByPatternResponse{Removed: svc.store.EvictExpired()}, nil
}

type StatisticsResponse struct {
	Count     int   `json:"count"`
	SizeBytes int64 `json:"sizeBytes"`
}

//encore:api public method=GET path=/cache/stats
func GetStatistics(ctx context.Context) (*StatisticsResponse, error) {
	if svc == nil {
		return nil, ErrServiceUnavailable
	}
	stats := svc.store.Statistics()
	return &StatisticsResponse{Count: stats.Count, SizeBytes: stats.SizeBytes}, nil
}

// Shutdown stops the store's background workers and closes the L2
// client. Not exposed as an API endpoint; used by tests and graceful
// process shutdown hooks.
func (s *Service) Shutdown() {
	s.store.Stop()
	if s.remote != nil {
		_ = s.remote.Close()
	}
	if s.admin != nil {
		s.admin.Stop()
	}
}

// GetOrSet and GetOrSetBatch are deliberately not exposed as Encore
// endpoints — a factory function can't cross an HTTP boundary. They are
// the Go-native surface that in-process callers (the warming companion,
// other Go services importing this package) use directly.

func (s *Service) GetOrSet(ctx context.Context, key string, factory Factory, ttl time.Duration, maxFactoryWait time.Duration) (any, error) {
	if s.remote != nil {
		if _, ok := s.store.Get(key); !ok {
			var dst any
			if v, ok := s.remote.ReadThrough(ctx, s.store, key, &dst); ok {
				return v, nil
			}
		}
	}
	return s.store.GetOrSet(ctx, key, factory, ttl, maxFactoryWait)
}

func (s *Service) GetOrSetBatch(ctx context.Context, keys []string, factory BatchFactory, ttl time.Duration) ([]any, error) {
	return s.store.GetOrSetBatch(ctx, keys, factory, ttl)
}

func (s *Service) Store() *Store { return s.store }

func (s *Service) Config() Config { return s.cfg }
