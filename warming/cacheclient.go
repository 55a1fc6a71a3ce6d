package warming

import (
	"context"
	"time"

	"cachemesh.app/cache"
)

// engineCacheClient adapts the cache engine's public Set endpoint to the
// CacheClient interface this package depends on, so warming never needs
// to know about Store/Backplane/RemoteMirror directly — only the
// functional surface any other Encore service would call.
type engineCacheClient struct{}

func (engineCacheClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := cache.Set(ctx, key, &cache.SetRequest{
		Value:  value,
		TTLSec: int(ttl / time.Second),
	})
	return err
}
