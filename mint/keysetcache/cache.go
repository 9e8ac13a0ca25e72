// Package keysetcache memoises keyset info read from the store.
//
// Entries expire after a fixed TTL and can be dropped explicitly, either
// directly or by watching keyset events, so a keyset deactivated in the
// store stops being served as active.
package keysetcache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/nutsnode/mintcore/cashu"
	"github.com/nutsnode/mintcore/mint/pubsub"
	"github.com/nutsnode/mintcore/mint/storage"
	"github.com/rs/zerolog"
)

const (
	DefaultSize = 256
	DefaultTTL  = 5 * time.Minute
)

type Cache struct {
	entries *expirable.LRU[cashu.KeysetId, storage.DBKeyset]
	log     zerolog.Logger

	// generation is bumped by every invalidation. A store read that
	// started before an invalidation is returned but not cached.
	mu         sync.Mutex
	generation uint64
}

func New(size int, ttl time.Duration, log zerolog.Logger) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: expirable.NewLRU[cashu.KeysetId, storage.DBKeyset](size, nil, ttl),
		log:     log.With().Str("component", "keysetcache").Logger(),
	}
}

// GetKeysetInfo returns the keyset info for id, reading it through q on
// a miss. Lookup errors are returned as-is and never cached.
func (c *Cache) GetKeysetInfo(ctx context.Context, q storage.KeysetReader, id cashu.KeysetId) (storage.DBKeyset, error) {
	if info, ok := c.entries.Get(id); ok {
		cacheLookups.WithLabelValues("hit").Inc()
		return info, nil
	}
	cacheLookups.WithLabelValues("miss").Inc()

	c.mu.Lock()
	generation := c.generation
	c.mu.Unlock()

	info, err := q.GetKeysetInfo(ctx, id)
	if err != nil {
		return storage.DBKeyset{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation == generation {
		c.entries.Add(id, info)
	}
	return info, nil
}

func (c *Cache) Invalidate(id cashu.KeysetId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	if c.entries.Remove(id) {
		c.log.Debug().Str("keyset_id", id.String()).Msg("invalidated keyset")
	}
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries.Purge()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Watch invalidates the keysets named by events on sub until ctx is done
// or the subscriber is closed.
func (c *Cache) Watch(ctx context.Context, sub *pubsub.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.GetMessages():
			if !ok {
				return
			}
			event, err := pubsub.DecodeKeysetEvent(msg)
			if err != nil {
				// unknown payload, drop everything rather than serve stale info
				c.log.Warn().Err(err).Msg("undecodable keyset event")
				c.Purge()
				continue
			}
			c.Invalidate(event.Id)
		}
	}
}
