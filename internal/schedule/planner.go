// Package schedule computes which feeds are due for a check.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"feedhub/internal/model"
	"feedhub/internal/storage"
)

// Planner selects and orders the due set for a polling cycle.
type Planner struct {
	store storage.Storage
	log   *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(store storage.Storage, log *slog.Logger) *Planner {
	return &Planner{store: store, log: log}
}

// DueFeeds returns the feeds eligible for a check at the given instant,
// ordered by priority descending with feed id as the stable tie-breaker.
// A feed is excluded when its schedule is disabled, the instant falls inside
// its quiet hours, or its interval has not yet elapsed since the last check.
// A feed that was never checked is always due. Ordering affects selection
// only, not completion order of concurrent fetches.
func (p *Planner) DueFeeds(ctx context.Context, now time.Time) ([]model.Feed, error) {
	feeds, err := p.store.GetFeeds(ctx, "", true)
	if err != nil {
		return nil, fmt.Errorf("get active feeds: %w", err)
	}

	type candidate struct {
		feed     model.Feed
		priority int
	}
	var due []candidate

	for _, feed := range feeds {
		sched, err := p.store.GetSchedule(ctx, feed.ID)
		if err != nil {
			p.log.Error("get schedule", "feed_id", feed.ID, "error", err)
			continue
		}
		if !sched.Enabled {
			continue
		}
		if InQuietHours(sched, now) {
			p.log.Debug("skipping feed in quiet hours", "feed_id", feed.ID, "name", feed.Name)
			continue
		}
		if feed.LastChecked != nil {
			if now.Sub(*feed.LastChecked) < time.Duration(sched.IntervalSeconds)*time.Second {
				continue
			}
		}
		due = append(due, candidate{feed: feed, priority: sched.Priority})
	}

	sort.SliceStable(due, func(i, j int) bool {
		if due[i].priority != due[j].priority {
			return due[i].priority > due[j].priority
		}
		return due[i].feed.ID < due[j].feed.ID
	})

	out := make([]model.Feed, len(due))
	for i, c := range due {
		out[i] = c.feed
	}
	return out, nil
}

// InQuietHours reports whether the instant falls inside the schedule's quiet
// window. A window whose start is later than its end wraps midnight: the
// instant is inside when it is at or after the start OR at or before the end.
func InQuietHours(sched *model.Schedule, now time.Time) bool {
	if sched.QuietStart == "" || sched.QuietEnd == "" {
		return false
	}
	start, err := parseClock(sched.QuietStart)
	if err != nil {
		return false
	}
	end, err := parseClock(sched.QuietEnd)
	if err != nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	return minute >= start || minute <= end
}

// parseClock converts "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
