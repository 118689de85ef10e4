// Package gate is the at-most-once dedup and persistence gate. It decides
// "new" versus "already posted" and records history; the (feed_id, link)
// uniqueness constraint in the store is the sole correctness mechanism, so
// concurrent callers need no external locking.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"feedhub/internal/extract"
	"feedhub/internal/linkcache"
	"feedhub/internal/model"
	"feedhub/internal/storage"
)

// Outcome tags the gate's decision for one entry.
type Outcome int

// Gate outcomes.
const (
	// OutcomeNew means the entry was recorded and should be dispatched.
	OutcomeNew Outcome = iota
	// AlreadyPosted means the entry was seen before; nothing to do.
	AlreadyPosted
	// Backlog means the entry predates process start: recorded, not dispatched.
	Backlog
	// NoEntry means the feed produced nothing usable (empty link).
	NoEntry
)

// Gate filters duplicates and records dispatch history.
type Gate struct {
	store     storage.Storage
	cache     *linkcache.Cache
	startTime time.Time
	log       *slog.Logger
}

// New creates a Gate. startTime is the process start; entries published
// before it are swallowed into history instead of flooding channels after a
// restart.
func New(store storage.Storage, cache *linkcache.Cache, startTime time.Time, log *slog.Logger) *Gate {
	return &Gate{store: store, cache: cache, startTime: startTime, log: log}
}

// Check decides the fate of one extracted entry. On New the history row is
// already inserted and analytics merged by the time it returns; the caller's
// only job is dispatch.
func (g *Gate) Check(ctx context.Context, feed model.Feed, entry *extract.Entry) (Outcome, error) {
	if entry == nil || entry.Link == "" {
		return NoEntry, nil
	}

	// Cheap pre-check; the insert below remains authoritative.
	if g.cache.Contains(feed.DestKey, entry.Link) {
		return AlreadyPosted, nil
	}

	backlog := entry.Published != nil && entry.Published.Before(g.startTime)

	inserted, err := g.store.AddHistory(ctx, &model.HistoryEntry{
		FeedID:    feed.ID,
		Title:     entry.Title,
		Link:      entry.Link,
		Published: entry.Published,
		DestKey:   feed.DestKey,
		Platform:  feed.Platform,
	})
	if err != nil {
		return AlreadyPosted, fmt.Errorf("record history: %w", err)
	}
	if !inserted {
		return AlreadyPosted, nil
	}

	g.cache.Add(feed.DestKey, entry.Link)

	if backlog {
		g.log.Debug("backlog entry recorded without dispatch",
			"feed_id", feed.ID, "link", entry.Link)
		return Backlog, nil
	}

	date := time.Now().UTC().Format("2006-01-02")
	if err := g.store.MergeAnalytics(ctx, feed.ID, date, 1, 0); err != nil {
		g.log.Error("merge analytics", "feed_id", feed.ID, "error", err)
	}
	return OutcomeNew, nil
}
