package cache

import (
	"context"
	"log"
	"time"

	"encore.dev/pubsub"
)

// InvalidationMessage is the wire record exchanged on the backplane
// (spec §3/§6). It is immutable once sent and carries everything a peer
// needs to decide whether to drop it (prefix mismatch, loopback) and how
// to apply it (pattern vs single key, fingerprint guard).
type InvalidationMessage struct {
	ApplicationCachePrefix string `json:"applicationCachePrefix"`
	InstanceID             string `json:"instanceId"`
	Key                     string `json:"key"`
	IsPattern               bool   `json:"isPattern,omitempty"`
	Fingerprint             string `json:"fingerprint,omitempty"`
	TimestampMs             int64  `json:"timestamp,omitempty"`
}

// CacheInvalidateTopic is the single process-wide backplane channel.
// Multiple differently-prefixed Service instances may share this one
// Encore topic; InvalidationMessage.ApplicationCachePrefix is what scopes
// them, not the transport channel name (spec §4.6 step 1: "decode; if
// prefix mismatches, drop").
var CacheInvalidateTopic = pubsub.NewTopic[*InvalidationMessage](
	"cache-invalidate",
	pubsub.TopicConfig{
		DeliveryGuarantee: pubsub.AtLeastOnce,
	},
)

// Backplane is C6: it publishes an InvalidationMessage whenever the
// local Store's change listener fires for a mutation, and applies
// inbound peer messages back onto the Store with loopback and
// fingerprint guards.
type Backplane struct {
	cfg   Config
	store *Store
}

// NewBackplane wires C6 to the Store it will both publish from and
// apply inbound messages to. Peer messages reach HandleInbound through
// the package-level subscription in service.go — Encore subscriptions
// must be package-level values.
func NewBackplane(cfg Config, store *Store) *Backplane {
	return &Backplane{cfg: cfg, store: store}
}

// OnChange is the Store.onChange callback: build a message and publish
// it fire-and-forget. A publish failure must never fail the local
// mutation that triggered it (spec §4.6, "Outbound").
func (b *Backplane) OnChange(evt ChangeEvent) {
	msg := &InvalidationMessage{
		ApplicationCachePrefix: b.cfg.ApplicationCachePrefix,
		InstanceID:             b.cfg.InstanceID,
		Key:                     evt.Key,
		IsPattern:               evt.IsPattern,
		Fingerprint:             evt.Fingerprint,
		TimestampMs:             evt.TimestampMs,
	}

	// Expired entries aren't interesting to peers — only AddOrUpdate and
	// explicit/pattern Remove are worth the round trip; a sweep-driven
	// Expire is purely local bookkeeping other instances will discover
	// on their own TTL.
	if evt.Kind == ChangeExpire {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := CacheInvalidateTopic.Publish(ctx, msg); err != nil {
			log.Printf("cache: backplane publish failed for key %q: %v", msg.Key, err)
		}
	}()
}

// HandleInbound implements spec §4.6's "Inbound" algorithm:
//  1. prefix mismatch -> drop
//  2. instanceId == self -> drop (loopback suppression)
//  3. isPattern -> RemoveByPattern(notify=false)
//  4. else -> Remove(notify=false, guard=fp->fp==message.fingerprint),
//     which *skips* the removal when fingerprints already agree (spec
//     §9 open question, interpretation (i), adopted here).
func (b *Backplane) HandleInbound(ctx context.Context, msg *InvalidationMessage) error {
	if msg.ApplicationCachePrefix != b.cfg.ApplicationCachePrefix {
		return nil
	}
	if msg.InstanceID == b.cfg.InstanceID {
		return nil
	}

	if msg.IsPattern {
		b.store.RemoveByPattern(msg.Key, false)
		return nil
	}

	guard := func(fingerprint string) bool {
		return msg.Fingerprint != "" && fingerprint == msg.Fingerprint
	}
	b.store.Remove(msg.Key, false, guard)
	return nil
}
