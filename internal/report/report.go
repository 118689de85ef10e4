// Package report publishes a daily operational summary of broken and stale
// feeds to an admin destination.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"feedhub/internal/dispatch"
	"feedhub/internal/storage"
)

const (
	dailySpec      = "0 8 * * *" // 08:00 UTC
	errorThreshold = 5
	staleAfter     = 48 * time.Hour
	statsWindow    = 30 // days
	buildTimeout   = time.Minute
)

// Reporter assembles and sends the daily feed health report.
type Reporter struct {
	store      storage.Storage
	dispatcher *dispatch.Dispatcher
	destKey    string
	cron       *cron.Cron
	log        *slog.Logger
}

// New creates a Reporter targeting the given admin destination key.
func New(store storage.Storage, dispatcher *dispatch.Dispatcher, destKey string, log *slog.Logger) *Reporter {
	return &Reporter{
		store:      store,
		dispatcher: dispatcher,
		destKey:    destKey,
		cron:       cron.New(cron.WithLocation(time.UTC)),
		log:        log,
	}
}

// Start schedules the daily report. No-op when no destination is configured.
func (r *Reporter) Start() error {
	if r.destKey == "" {
		r.log.Info("daily report disabled, no admin destination configured")
		return nil
	}
	if _, err := r.cron.AddFunc(dailySpec, r.send); err != nil {
		return fmt.Errorf("schedule daily report: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the schedule.
func (r *Reporter) Stop() {
	r.cron.Stop()
}

func (r *Reporter) send() {
	ctx, cancel := context.WithTimeout(context.Background(), buildTimeout)
	defer cancel()

	text, err := r.Build(ctx)
	if err != nil {
		r.log.Error("build daily report", "error", err)
		return
	}
	if err := r.dispatcher.Announce(r.destKey, text); err != nil {
		r.log.Error("send daily report", "dest_key", r.destKey, "error", err)
	}
}

// Build assembles the report text.
func (r *Reporter) Build(ctx context.Context) (string, error) {
	var b strings.Builder
	b.WriteString("Feed health report\n")

	broken, err := r.store.BrokenFeeds(ctx, errorThreshold)
	if err != nil {
		return "", fmt.Errorf("broken feeds: %w", err)
	}
	if len(broken) == 0 {
		b.WriteString("Broken feeds: none\n")
	} else {
		fmt.Fprintf(&b, "Broken feeds (%d):\n", len(broken))
		for _, f := range broken {
			fmt.Fprintf(&b, "  %s @ %s: %d errors, last: %s\n",
				f.Name, f.DestKey, f.ErrorCount, f.LastError)
		}
	}

	stale, err := r.store.StaleFeeds(ctx, staleAfter)
	if err != nil {
		return "", fmt.Errorf("stale feeds: %w", err)
	}
	if len(stale) > 0 {
		fmt.Fprintf(&b, "Stale feeds (%d not checked in %s):\n", len(stale), staleAfter)
		for _, f := range stale {
			fmt.Fprintf(&b, "  %s @ %s\n", f.Name, f.DestKey)
		}
	}

	stats, err := r.store.FeedStats(ctx, statsWindow)
	if err != nil {
		return "", fmt.Errorf("feed stats: %w", err)
	}
	fmt.Fprintf(&b, "Posts in last %d days:\n", statsWindow)
	for i, st := range stats {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "  %s @ %s: %d\n", st.Name, st.DestKey, st.PostsCount)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}
