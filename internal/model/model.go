// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
	"unicode"
)

// Platform identifies the messaging backend a destination key belongs to.
type Platform string

// Supported platforms.
const (
	PlatformIRC      Platform = "irc"
	PlatformMatrix   Platform = "matrix"
	PlatformDiscord  Platform = "discord"
	PlatformTelegram Platform = "telegram"
)

// Feed represents a single polled feed bound to a destination.
type Feed struct {
	ID           int64
	Name         string
	URL          string
	DestKey      string
	Platform     Platform
	Active       bool
	ErrorCount   int
	LastError    string
	LastChecked  *time.Time
	LastPostTime *time.Time
	CreatedAt    time.Time
}

// Schedule holds per-feed polling parameters. Every feed has exactly one,
// created lazily with defaults when first requested.
type Schedule struct {
	FeedID          int64
	IntervalSeconds int
	Priority        int
	QuietStart      string // "HH:MM", empty means no quiet hours
	QuietEnd        string
	Enabled         bool
}

// Default schedule values applied when a feed has no stored schedule.
const (
	DefaultIntervalSeconds = 900
	DefaultPriority        = 0
)

// HistoryEntry is one posted item. The (FeedID, Link) pair is unique and is
// the sole source of truth for "already posted".
type HistoryEntry struct {
	ID        int64
	FeedID    int64
	Title     string
	Link      string
	Published *time.Time
	PostedAt  time.Time
	DestKey   string
	Platform  Platform
}

// AnalyticsRow is the per-feed, per-day rollup. Rows are merged into, never
// overwritten.
type AnalyticsRow struct {
	FeedID      int64
	Date        string // "2006-01-02"
	PostsCount  int
	ErrorsCount int
}

// Subscription is a private per-user feed, independent of any destination key.
type Subscription struct {
	ID       int64
	Username string
	Name     string
	URL      string
}

// FeedStats is an aggregate reporting row for a feed over a window.
type FeedStats struct {
	FeedID     int64
	Name       string
	DestKey    string
	Platform   Platform
	PostsCount int
	ErrorCount int
	LastError  string
	LastPost   *time.Time
}

// CycleStats summarizes one polling cycle.
type CycleStats struct {
	Total   int
	New     int
	Errors  int
	Skipped int
	Elapsed time.Duration
}

// MakeDestKey builds a composite destination key for a multi-network IRC
// channel. Other platforms use their raw room/chat id as the key.
func MakeDestKey(network, channel string) string {
	return network + "|" + channel
}

// SplitDestKey splits a composite key into network and channel. For a plain
// key the network is empty and the channel is the key itself.
func SplitDestKey(key string) (network, channel string) {
	if i := strings.IndexByte(key, '|'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "", key
}

// IsCompositeKey reports whether a destination key carries a network part.
func IsCompositeKey(key string) bool {
	return strings.IndexByte(key, '|') >= 0
}

// InferPlatform guesses the platform from the shape of a raw destination key:
// Matrix room ids start with '!', Discord channel ids are all digits,
// everything else is treated as an IRC channel.
func InferPlatform(key string) Platform {
	_, channel := SplitDestKey(key)
	if strings.HasPrefix(channel, "!") {
		return PlatformMatrix
	}
	if channel != "" && isAllDigits(channel) {
		return PlatformDiscord
	}
	return PlatformIRC
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
