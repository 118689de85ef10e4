// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"feedhub/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	CreateFeed(ctx context.Context, feed *model.Feed) error
	GetFeed(ctx context.Context, id int64) (*model.Feed, error)
	GetFeeds(ctx context.Context, destKey string, activeOnly bool) ([]model.Feed, error)
	RemoveFeed(ctx context.Context, name, destKey string) (bool, error)
	UpdateCheckResult(ctx context.Context, feedID int64, errMsg string) error

	GetSchedule(ctx context.Context, feedID int64) (*model.Schedule, error)
	SetSchedule(ctx context.Context, sched *model.Schedule) error

	IsPosted(ctx context.Context, feedID int64, link string) (bool, error)
	AddHistory(ctx context.Context, entry *model.HistoryEntry) (bool, error)

	MergeAnalytics(ctx context.Context, feedID int64, date string, posts, errors int) error
	Analytics(ctx context.Context, feedID int64) ([]model.AnalyticsRow, error)
	FeedStats(ctx context.Context, days int) ([]model.FeedStats, error)
	BrokenFeeds(ctx context.Context, errorThreshold int) ([]model.Feed, error)
	StaleFeeds(ctx context.Context, staleFor time.Duration) ([]model.Feed, error)

	AddSubscription(ctx context.Context, sub *model.Subscription) error
	RemoveSubscription(ctx context.Context, username, name string) (bool, error)
	ListSubscriptions(ctx context.Context, username string) ([]model.Subscription, error)
	SubscribersFor(ctx context.Context, url string) ([]model.Subscription, error)

	MigrateDestKeys(ctx context.Context, mapping map[string]string) error

	Close() error
}
