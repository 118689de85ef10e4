// Package poller drives the polling loop: plan the due set, fetch, gate,
// dispatch, sleep, repeat forever.
package poller

import (
	"context"
	"log/slog"
	"time"

	"feedhub/internal/dispatch"
	"feedhub/internal/fetcher"
	"feedhub/internal/gate"
	"feedhub/internal/model"
	"feedhub/internal/registry"
	"feedhub/internal/schedule"
)

// Poller runs polling cycles at a fixed interval.
type Poller struct {
	reg        *registry.Registry
	planner    *schedule.Planner
	executor   *fetcher.Executor
	gate       *gate.Gate
	dispatcher *dispatch.Dispatcher
	interval   time.Duration
	log        *slog.Logger

	// Sequential forces the non-concurrent fetch path with identical
	// dedup/dispatch semantics.
	Sequential bool
}

// New creates a Poller.
func New(reg *registry.Registry, planner *schedule.Planner, executor *fetcher.Executor,
	g *gate.Gate, dispatcher *dispatch.Dispatcher, interval time.Duration, log *slog.Logger) *Poller {
	return &Poller{
		reg:        reg,
		planner:    planner,
		executor:   executor,
		gate:       g,
		dispatcher: dispatcher,
		interval:   interval,
		log:        log,
	}
}

// Run blocks, executing cycles until ctx is cancelled. Any cycle-level panic
// or error is logged and the loop continues on the next iteration; the
// process never terminates because of a transient polling failure.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("polling loop started", "interval", p.interval)
	for {
		p.runCycleSafe(ctx)

		select {
		case <-ctx.Done():
			p.log.Info("polling loop stopped")
			return
		case <-time.After(p.interval):
		}
	}
}

func (p *Poller) runCycleSafe(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("cycle panic recovered", "panic", r)
		}
	}()

	stats, err := p.RunCycle(ctx)
	if err != nil {
		p.log.Error("cycle failed", "error", err)
		return
	}
	if stats.Total > 0 {
		p.log.Info("cycle complete",
			"total", stats.Total,
			"new", stats.New,
			"errors", stats.Errors,
			"skipped", stats.Skipped,
			"elapsed", stats.Elapsed.Round(time.Millisecond))
	}
}

// RunCycle executes one full cycle and returns its stats.
func (p *Poller) RunCycle(ctx context.Context) (model.CycleStats, error) {
	start := time.Now()
	var stats model.CycleStats

	if reloaded, err := p.reg.Reload(ctx); err != nil {
		p.log.Error("registry reload", "error", err)
	} else if reloaded {
		p.log.Debug("registry snapshot refreshed")
	}

	due, err := p.planner.DueFeeds(ctx, time.Now())
	if err != nil {
		return stats, err
	}
	if len(due) == 0 {
		p.log.Debug("no feeds due")
		return stats, nil
	}

	p.log.Info("checking feeds", "count", len(due))

	var results []fetcher.Result
	if p.Sequential {
		results = p.executor.FetchSequential(ctx, due)
	} else {
		results = p.executor.FetchAll(ctx, due)
	}

	stats.Total = len(results)
	for _, res := range results {
		if res.Err != nil {
			stats.Errors++
			continue
		}

		outcome, err := p.gate.Check(ctx, res.Feed, res.Entry)
		if err != nil {
			// Persistence failure on a single record: skip it, keep the batch.
			p.log.Error("gate check", "feed_id", res.Feed.ID, "error", err)
			stats.Skipped++
			continue
		}

		switch outcome {
		case gate.OutcomeNew:
			p.dispatcher.Dispatch(ctx, res.Feed, res.Entry)
			stats.New++
		default:
			stats.Skipped++
		}
	}

	stats.Elapsed = time.Since(start)
	return stats, nil
}
