package gate

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"feedhub/internal/extract"
	"feedhub/internal/linkcache"
	"feedhub/internal/model"
	"feedhub/internal/storage"
)

func newTestGate(t *testing.T, startTime time.Time) (*Gate, *storage.SQLite, *linkcache.Cache) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cache := linkcache.New(linkcache.DefaultCap)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, cache, startTime, log), store, cache
}

func seedFeed(t *testing.T, store *storage.SQLite) model.Feed {
	t.Helper()
	feed := model.Feed{Name: "a", URL: "https://a.example.com/rss", DestKey: "net1|#chan", Platform: model.PlatformIRC, Active: true}
	if err := store.CreateFeed(context.Background(), &feed); err != nil {
		t.Fatalf("create feed: %v", err)
	}
	return feed
}

func TestCheckNewThenAlreadyPosted(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newTestGate(t, time.Unix(0, 0).UTC())
	feed := seedFeed(t, store)

	pub := time.Now().UTC()
	entry := &extract.Entry{Title: "Hello", Link: "http://x/1", Published: &pub}

	outcome, err := g.Check(ctx, feed, entry)
	if err != nil {
		t.Fatalf("first check: %v", err)
	}
	if outcome != OutcomeNew {
		t.Fatalf("first outcome = %v, want New", outcome)
	}

	outcome, err = g.Check(ctx, feed, entry)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if outcome != AlreadyPosted {
		t.Fatalf("second outcome = %v, want AlreadyPosted", outcome)
	}

	posted, err := store.IsPosted(ctx, feed.ID, "http://x/1")
	if err != nil {
		t.Fatalf("is posted: %v", err)
	}
	if !posted {
		t.Error("expected exactly one history row for the link")
	}

	rows, err := store.Analytics(ctx, feed.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(rows) != 1 || rows[0].PostsCount != 1 {
		t.Errorf("expected one post counted once, got %+v", rows)
	}
}

func TestCheckBacklog(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	g, store, _ := newTestGate(t, start)
	feed := seedFeed(t, store)

	old := start.Add(-24 * time.Hour)
	entry := &extract.Entry{Title: "Old news", Link: "http://x/old", Published: &old}

	outcome, err := g.Check(ctx, feed, entry)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if outcome != Backlog {
		t.Fatalf("outcome = %v, want Backlog", outcome)
	}

	// Recorded so it never resurfaces, but not counted as a post.
	posted, err := store.IsPosted(ctx, feed.ID, "http://x/old")
	if err != nil {
		t.Fatalf("is posted: %v", err)
	}
	if !posted {
		t.Error("backlog entry was not recorded")
	}
	rows, err := store.Analytics(ctx, feed.ID)
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("backlog entry counted in analytics: %+v", rows)
	}

	// A second sighting is a plain duplicate.
	outcome, err = g.Check(ctx, feed, entry)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if outcome != AlreadyPosted {
		t.Errorf("second outcome = %v, want AlreadyPosted", outcome)
	}
}

func TestCheckUndatedEntryIsNew(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newTestGate(t, time.Now().UTC())
	feed := seedFeed(t, store)

	outcome, err := g.Check(ctx, feed, &extract.Entry{Title: "T", Link: "http://x/undated"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if outcome != OutcomeNew {
		t.Errorf("outcome = %v, want New for undated entry", outcome)
	}
}

func TestCheckNoEntry(t *testing.T) {
	ctx := context.Background()
	g, store, _ := newTestGate(t, time.Unix(0, 0).UTC())
	feed := seedFeed(t, store)

	for _, entry := range []*extract.Entry{nil, {Title: "T", Link: ""}} {
		outcome, err := g.Check(ctx, feed, entry)
		if err != nil {
			t.Fatalf("check: %v", err)
		}
		if outcome != NoEntry {
			t.Errorf("outcome = %v, want NoEntry", outcome)
		}
	}
}

func TestCheckCachePreempt(t *testing.T) {
	ctx := context.Background()
	g, store, cache := newTestGate(t, time.Unix(0, 0).UTC())
	feed := seedFeed(t, store)

	// Link known only to the legacy cache, as after a snapshot restore.
	cache.Add(feed.DestKey, "http://x/cached")

	outcome, err := g.Check(ctx, feed, &extract.Entry{Title: "T", Link: "http://x/cached"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if outcome != AlreadyPosted {
		t.Errorf("outcome = %v, want AlreadyPosted from cache pre-check", outcome)
	}
}
