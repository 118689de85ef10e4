package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"feedhub/internal/model"
	"feedhub/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=OFF"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("disable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const feedColumns = `id, name, url, dest_key, platform, active, error_count,
	last_error, last_checked, last_post_time, created_at`

// CreateFeed inserts a new feed and populates its ID and CreatedAt.
func (s *SQLite) CreateFeed(ctx context.Context, feed *model.Feed) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO feeds (name, url, dest_key, platform, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		feed.Name, feed.URL, feed.DestKey, string(feed.Platform), boolToInt(feed.Active), now,
	)
	if err != nil {
		return fmt.Errorf("insert feed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	feed.ID = id
	feed.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetFeed returns a single feed by its ID.
func (s *SQLite) GetFeed(ctx context.Context, id int64) (*model.Feed, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id,
	)
	return scanFeed(row)
}

// GetFeeds returns feeds, optionally filtered by destination key and active flag.
// An empty destKey matches all destinations.
func (s *SQLite) GetFeeds(ctx context.Context, destKey string, activeOnly bool) ([]model.Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds WHERE 1=1`
	var args []any
	if destKey != "" {
		query += ` AND dest_key = ?`
		args = append(args, destKey)
	}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// RemoveFeed deletes a feed by its (name, destination key) identity along with
// its schedule. History and analytics rows are kept. Returns whether a feed
// was removed.
func (s *SQLite) RemoveFeed(ctx context.Context, name, destKey string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM feeds WHERE name = ? AND dest_key = ?`, name, destKey,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find feed: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_schedules WHERE feed_id = ?`, id); err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feeds WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete feed: %w", err)
	}
	return true, tx.Commit()
}

// UpdateCheckResult stamps last_checked and records the outcome of a fetch.
// An empty errMsg resets error_count and clears last_error; otherwise
// error_count is incremented and last_error recorded.
func (s *SQLite) UpdateCheckResult(ctx context.Context, feedID int64, errMsg string) error {
	now := time.Now().UTC().Format(timeLayout)
	var err error
	if errMsg == "" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE feeds SET last_checked = ?, error_count = 0, last_error = NULL WHERE id = ?`,
			now, feedID,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE feeds SET last_checked = ?, error_count = error_count + 1, last_error = ? WHERE id = ?`,
			now, errMsg, feedID,
		)
	}
	if err != nil {
		return fmt.Errorf("update check result: %w", err)
	}
	return nil
}

// GetSchedule returns the schedule for a feed, creating one with defaults if
// the feed has none yet.
func (s *SQLite) GetSchedule(ctx context.Context, feedID int64) (*model.Schedule, error) {
	sched, err := s.getSchedule(ctx, feedID)
	if err != sql.ErrNoRows {
		return sched, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feed_schedules (feed_id, interval_seconds, priority, enabled)
		 VALUES (?, ?, ?, 1)`,
		feedID, model.DefaultIntervalSeconds, model.DefaultPriority,
	)
	if err != nil {
		return nil, fmt.Errorf("insert default schedule: %w", err)
	}
	return s.getSchedule(ctx, feedID)
}

func (s *SQLite) getSchedule(ctx context.Context, feedID int64) (*model.Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT feed_id, interval_seconds, priority, quiet_hours_start, quiet_hours_end, enabled
		 FROM feed_schedules WHERE feed_id = ?`, feedID,
	)
	var sched model.Schedule
	var quietStart, quietEnd sql.NullString
	var enabled int
	err := row.Scan(&sched.FeedID, &sched.IntervalSeconds, &sched.Priority, &quietStart, &quietEnd, &enabled)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	sched.QuietStart = quietStart.String
	sched.QuietEnd = quietEnd.String
	sched.Enabled = enabled == 1
	return &sched, nil
}

// SetSchedule upserts scheduling parameters for a feed.
func (s *SQLite) SetSchedule(ctx context.Context, sched *model.Schedule) error {
	var quietStart, quietEnd any
	if sched.QuietStart != "" {
		quietStart = sched.QuietStart
	}
	if sched.QuietEnd != "" {
		quietEnd = sched.QuietEnd
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_schedules (feed_id, interval_seconds, priority, quiet_hours_start, quiet_hours_end, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(feed_id) DO UPDATE SET
		     interval_seconds = excluded.interval_seconds,
		     priority = excluded.priority,
		     quiet_hours_start = excluded.quiet_hours_start,
		     quiet_hours_end = excluded.quiet_hours_end,
		     enabled = excluded.enabled`,
		sched.FeedID, sched.IntervalSeconds, sched.Priority, quietStart, quietEnd, boolToInt(sched.Enabled),
	)
	if err != nil {
		return fmt.Errorf("set schedule: %w", err)
	}
	return nil
}

// IsPosted checks whether a link has already been recorded for a feed.
func (s *SQLite) IsPosted(ctx context.Context, feedID int64, link string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM feed_history WHERE feed_id = ? AND link = ?`, feedID, link,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check posted: %w", err)
	}
	return true, nil
}

// AddHistory records a posted item. Returns false without error when the
// (feed_id, link) pair already exists; the uniqueness constraint is the sole
// arbiter of "already posted". On insert the feed's last_post_time is stamped.
func (s *SQLite) AddHistory(ctx context.Context, entry *model.HistoryEntry) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	var published any
	if entry.Published != nil {
		published = entry.Published.UTC().Format(timeLayout)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO feed_history (feed_id, title, link, published_date, posted_at, dest_key, platform)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.FeedID, entry.Title, entry.Link, published, now, entry.DestKey, string(entry.Platform),
	)
	if err != nil {
		return false, fmt.Errorf("insert history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE feeds SET last_post_time = ? WHERE id = ?`, now, entry.FeedID,
	); err != nil {
		return true, fmt.Errorf("stamp last post time: %w", err)
	}
	entry.PostedAt, _ = time.Parse(timeLayout, now)
	return true, nil
}

// MergeAnalytics folds post/error counts into the daily rollup for a feed.
// Existing rows are merged into, never overwritten.
func (s *SQLite) MergeAnalytics(ctx context.Context, feedID int64, date string, posts, errors int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_analytics (feed_id, date, posts_count, errors_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(feed_id, date) DO UPDATE SET
		     posts_count = posts_count + excluded.posts_count,
		     errors_count = errors_count + excluded.errors_count`,
		feedID, date, posts, errors,
	)
	if err != nil {
		return fmt.Errorf("merge analytics: %w", err)
	}
	return nil
}

// Analytics returns the daily rollup rows for a feed, oldest first.
func (s *SQLite) Analytics(ctx context.Context, feedID int64) ([]model.AnalyticsRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT feed_id, date, posts_count, errors_count
		 FROM feed_analytics WHERE feed_id = ? ORDER BY date`,
		feedID,
	)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AnalyticsRow
	for rows.Next() {
		var row model.AnalyticsRow
		if err := rows.Scan(&row.FeedID, &row.Date, &row.PostsCount, &row.ErrorsCount); err != nil {
			return nil, fmt.Errorf("scan analytics: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FeedStats returns per-feed post counts over the last N days for active feeds.
func (s *SQLite) FeedStats(ctx context.Context, days int) ([]model.FeedStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT f.id, f.name, f.dest_key, f.platform, COUNT(h.id), f.error_count,
		        COALESCE(f.last_error, ''), MAX(h.posted_at)
		 FROM feeds f
		 LEFT JOIN feed_history h ON f.id = h.feed_id AND h.posted_at >= ?
		 WHERE f.active = 1
		 GROUP BY f.id
		 ORDER BY COUNT(h.id) DESC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("query feed stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var stats []model.FeedStats
	for rows.Next() {
		var st model.FeedStats
		var platform string
		var lastPost sql.NullString
		if err := rows.Scan(&st.FeedID, &st.Name, &st.DestKey, &platform,
			&st.PostsCount, &st.ErrorCount, &st.LastError, &lastPost); err != nil {
			return nil, fmt.Errorf("scan feed stats: %w", err)
		}
		st.Platform = model.Platform(platform)
		if lastPost.Valid {
			t, _ := time.Parse(timeLayout, lastPost.String)
			st.LastPost = &t
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// BrokenFeeds returns active feeds whose error_count has reached the threshold.
func (s *SQLite) BrokenFeeds(ctx context.Context, errorThreshold int) ([]model.Feed, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds
		 WHERE error_count >= ? AND active = 1
		 ORDER BY error_count DESC`,
		errorThreshold,
	)
	if err != nil {
		return nil, fmt.Errorf("query broken feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// StaleFeeds returns active feeds not checked within the given duration.
func (s *SQLite) StaleFeeds(ctx context.Context, staleFor time.Duration) ([]model.Feed, error) {
	cutoff := time.Now().UTC().Add(-staleFor).Format(timeLayout)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+feedColumns+` FROM feeds
		 WHERE active = 1 AND (last_checked IS NULL OR last_checked < ?)
		 ORDER BY last_checked`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query stale feeds: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanFeeds(rows)
}

// AddSubscription inserts a private per-user subscription.
func (s *SQLite) AddSubscription(ctx context.Context, sub *model.Subscription) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (username, name, url, created_at) VALUES (?, ?, ?, ?)`,
		sub.Username, sub.Name, sub.URL, now,
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	sub.ID = id
	return nil
}

// RemoveSubscription deletes one of a user's subscriptions by name.
func (s *SQLite) RemoveSubscription(ctx context.Context, username, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE username = ? AND name = ?`, username, name,
	)
	if err != nil {
		return false, fmt.Errorf("delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListSubscriptions returns all subscriptions for a user.
func (s *SQLite) ListSubscriptions(ctx context.Context, username string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, name, url FROM subscriptions WHERE username = ? ORDER BY name`,
		username,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// SubscribersFor returns every subscription whose stored URL matches the
// given feed URL, regardless of which destination owns the feed.
func (s *SQLite) SubscribersFor(ctx context.Context, url string) ([]model.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, name, url FROM subscriptions WHERE url = ? ORDER BY username`,
		url,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanSubscriptions(rows)
}

// MigrateDestKeys rewrites legacy plain destination keys to their composite
// form. Feeds colliding with an existing (name, new key) row are merged into
// it: their history is re-pointed (dedup by the (feed_id, link) constraint),
// analytics counts folded in, and the legacy row dropped.
func (s *SQLite) MigrateDestKeys(ctx context.Context, mapping map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for oldKey, newKey := range mapping {
		// Non-colliding feeds move wholesale.
		if _, err := tx.ExecContext(ctx,
			`UPDATE OR IGNORE feeds SET dest_key = ? WHERE dest_key = ?`, newKey, oldKey,
		); err != nil {
			return fmt.Errorf("move feeds %s: %w", oldKey, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE feed_history SET dest_key = ? WHERE dest_key = ?`, newKey, oldKey,
		); err != nil {
			return fmt.Errorf("move history %s: %w", oldKey, err)
		}

		// Anything still on the old key duplicates a feed already present
		// under the composite key. Merge it into the survivor.
		rows, err := tx.QueryContext(ctx,
			`SELECT id, name FROM feeds WHERE dest_key = ?`, oldKey,
		)
		if err != nil {
			return fmt.Errorf("find leftovers %s: %w", oldKey, err)
		}
		type leftover struct {
			id   int64
			name string
		}
		var leftovers []leftover
		for rows.Next() {
			var l leftover
			if err := rows.Scan(&l.id, &l.name); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan leftover: %w", err)
			}
			leftovers = append(leftovers, l)
		}
		_ = rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate leftovers: %w", err)
		}

		for _, l := range leftovers {
			var survivor int64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM feeds WHERE name = ? AND dest_key = ?`, l.name, newKey,
			).Scan(&survivor)
			if err != nil {
				return fmt.Errorf("find survivor for %s: %w", l.name, err)
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE OR IGNORE feed_history SET feed_id = ? WHERE feed_id = ?`, survivor, l.id,
			); err != nil {
				return fmt.Errorf("merge history: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM feed_history WHERE feed_id = ?`, l.id,
			); err != nil {
				return fmt.Errorf("drop duplicate history: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				`INSERT INTO feed_analytics (feed_id, date, posts_count, errors_count)
				 SELECT ?, date, posts_count, errors_count FROM feed_analytics WHERE feed_id = ?
				 ON CONFLICT(feed_id, date) DO UPDATE SET
				     posts_count = posts_count + excluded.posts_count,
				     errors_count = errors_count + excluded.errors_count`,
				survivor, l.id,
			); err != nil {
				return fmt.Errorf("merge analytics: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM feed_analytics WHERE feed_id = ?`, l.id,
			); err != nil {
				return fmt.Errorf("drop duplicate analytics: %w", err)
			}

			if _, err := tx.ExecContext(ctx,
				`DELETE FROM feed_schedules WHERE feed_id = ?`, l.id,
			); err != nil {
				return fmt.Errorf("drop duplicate schedule: %w", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM feeds WHERE id = ?`, l.id,
			); err != nil {
				return fmt.Errorf("drop duplicate feed: %w", err)
			}
		}
	}

	return tx.Commit()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanFeed(row scannable) (*model.Feed, error) {
	var f model.Feed
	var platform string
	var active int
	var lastError, lastChecked, lastPost, created sql.NullString
	err := row.Scan(&f.ID, &f.Name, &f.URL, &f.DestKey, &platform, &active,
		&f.ErrorCount, &lastError, &lastChecked, &lastPost, &created)
	if err != nil {
		return nil, fmt.Errorf("scan feed: %w", err)
	}
	f.Platform = model.Platform(platform)
	f.Active = active == 1
	f.LastError = lastError.String
	if lastChecked.Valid {
		t, _ := time.Parse(timeLayout, lastChecked.String)
		f.LastChecked = &t
	}
	if lastPost.Valid {
		t, _ := time.Parse(timeLayout, lastPost.String)
		f.LastPostTime = &t
	}
	if created.Valid {
		f.CreatedAt, _ = time.Parse(timeLayout, created.String)
	}
	return &f, nil
}

func scanFeeds(rows *sql.Rows) ([]model.Feed, error) {
	var feeds []model.Feed
	for rows.Next() {
		f, err := scanFeed(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *f)
	}
	return feeds, rows.Err()
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		var sub model.Subscription
		if err := rows.Scan(&sub.ID, &sub.Username, &sub.Name, &sub.URL); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
