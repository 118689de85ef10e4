// Package registry holds an in-memory snapshot of feed configuration with
// explicit, idempotent reloads. Callers ask the registry; there are no hidden
// "already loaded" globals.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"feedhub/internal/model"
	"feedhub/internal/storage"
)

// Registry caches feed state between polling cycles.
type Registry struct {
	store  storage.Storage
	maxAge time.Duration
	log    *slog.Logger

	mu       sync.RWMutex
	loadedAt time.Time
	byDest   map[string]map[string]string // dest key -> feed name -> url
}

// New creates a Registry whose snapshot goes stale after maxAge.
func New(store storage.Storage, maxAge time.Duration, log *slog.Logger) *Registry {
	return &Registry{
		store:  store,
		maxAge: maxAge,
		log:    log,
		byDest: make(map[string]map[string]string),
	}
}

// Reload refreshes the snapshot when it is stale or was never loaded.
// Returns whether a reload actually occurred. Safe for concurrent use.
func (r *Registry) Reload(ctx context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loadedAt.IsZero() && time.Since(r.loadedAt) < r.maxAge {
		return false, nil
	}
	if err := r.reloadLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ForceReload refreshes the snapshot regardless of age.
func (r *Registry) ForceReload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked(ctx)
}

func (r *Registry) reloadLocked(ctx context.Context) error {
	feeds, err := r.store.GetFeeds(ctx, "", false)
	if err != nil {
		return fmt.Errorf("load feeds: %w", err)
	}

	byDest := make(map[string]map[string]string)
	total := 0
	for _, f := range feeds {
		m, ok := byDest[f.DestKey]
		if !ok {
			m = make(map[string]string)
			byDest[f.DestKey] = m
		}
		m[f.Name] = f.URL
		total++
	}
	r.byDest = byDest
	r.loadedAt = time.Now()

	r.log.Info("registry reloaded", "destinations", len(byDest), "feeds", total)
	return nil
}

// FeedsFor returns the {feed name -> url} mapping for a destination key.
func (r *Registry) FeedsFor(destKey string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.byDest[destKey]))
	for name, url := range r.byDest[destKey] {
		out[name] = url
	}
	return out
}

// DestKeys returns every destination key with at least one feed.
func (r *Registry) DestKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.byDest))
	for k := range r.byDest {
		keys = append(keys, k)
	}
	return keys
}

// MigrateLegacyKeys rewrites plain destination keys to composite form using
// the configured mapping, then forces a snapshot refresh. Applied once at
// startup; a second run is a no-op because no feed carries a plain key
// anymore.
func (r *Registry) MigrateLegacyKeys(ctx context.Context, mapping map[string]string) error {
	if len(mapping) == 0 {
		return nil
	}
	for old, composite := range mapping {
		if !model.IsCompositeKey(composite) {
			return fmt.Errorf("legacy key target %q is not composite", composite)
		}
		r.log.Info("migrating destination key", "from", old, "to", composite)
	}
	if err := r.store.MigrateDestKeys(ctx, mapping); err != nil {
		return fmt.Errorf("migrate destination keys: %w", err)
	}
	return r.ForceReload(ctx)
}
