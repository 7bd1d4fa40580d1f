// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package balance

import (
	"context"
	"sync"
	"time"

	"github.com/aplane-algo/apbridge/internal/chain"
)

type cacheEntry struct {
	asset   chain.Asset
	expires time.Time
}

// CachedLookup memoizes asset params. Lookup failures are not cached.
type CachedLookup struct {
	inner AssetLookup
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[uint64]cacheEntry
}

// NewCachedLookup wraps inner. A zero ttl caches forever.
func NewCachedLookup(inner AssetLookup, ttl time.Duration) *CachedLookup {
	return &CachedLookup{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uint64]cacheEntry),
	}
}

// LookupAsset returns cached params or fetches them.
func (c *CachedLookup) LookupAsset(ctx context.Context, id uint64) (chain.Asset, error) {
	c.mu.Lock()
	entry, ok := c.entries[id]
	c.mu.Unlock()
	if ok && (c.ttl == 0 || c.now().Before(entry.expires)) {
		return entry.asset, nil
	}

	asset, err := c.inner.LookupAsset(ctx, id)
	if err != nil {
		return chain.Asset{}, err
	}

	c.mu.Lock()
	c.entries[id] = cacheEntry{asset: asset, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return asset, nil
}

var _ AssetLookup = (*CachedLookup)(nil)
