package tokens

import (
	"context"
	"time"

	u "clientdash/internal/utils"
)

// Loader is the source of token snapshots.
type Loader interface {
	LoadTokens(ctx context.Context) (map[string]Entry, error)
}

// Reloader keeps a Cache in sync with a Loader.
type Reloader struct {
	loader   Loader
	cache    *Cache
	interval time.Duration
}

func NewReloader(loader Loader, cache *Cache, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reloader{loader: loader, cache: cache, interval: interval}
}

// LoadOnce refreshes the cache. On error the previous snapshot is kept.
func (r *Reloader) LoadOnce(ctx context.Context) error {
	m, err := r.loader.LoadTokens(ctx)
	if err != nil {
		return err
	}
	r.cache.Replace(m)
	return nil
}

// Start reloads the cache every interval until ctx is done.
func (r *Reloader) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.LoadOnce(ctx); err != nil {
					u.Error("Failed to reload API tokens", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
