// Package fetcher performs bounded-concurrency feed fetching with
// proxy/direct routing and per-fetch timeouts.
package fetcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/semaphore"

	"feedhub/internal/extract"
	"feedhub/internal/model"
	"feedhub/internal/routing"
	"feedhub/internal/storage"
)

const maxBodyBytes = 5 * 1024 * 1024

// Result is the outcome of fetching one feed. Exactly one of Entry and Err
// is set on completion; failures are values, never raised to the caller.
type Result struct {
	Feed  model.Feed
	Entry *extract.Entry
	Err   *FetchError
}

// Executor fetches many feeds concurrently under a global in-flight limit.
type Executor struct {
	policy  *routing.Policy
	store   storage.Storage
	sem     *semaphore.Weighted
	timeout time.Duration
	log     *slog.Logger
}

// New creates an Executor with the given concurrency limit and per-fetch timeout.
func New(policy *routing.Policy, store storage.Storage, maxConcurrent int, timeout time.Duration, log *slog.Logger) *Executor {
	return &Executor{
		policy:  policy,
		store:   store,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		log:     log,
	}
}

// FetchOne fetches a single feed through the given client. Every outcome,
// success or failure, is recorded via the store's check-result update; fetch
// failures additionally count against the feed's daily analytics.
func (e *Executor) FetchOne(ctx context.Context, client *http.Client, feed model.Feed) Result {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.failed(ctx, feed, transportErr(err))
	}
	defer e.sem.Release(1)

	fetchCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return e.failed(ctx, feed, transportErr(err))
	}
	req.Header.Set("User-Agent", "feedhub/1.0")

	resp, err := client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return e.failed(ctx, feed, timeoutErr())
		}
		return e.failed(ctx, feed, transportErr(err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return e.failed(ctx, feed, statusErr(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return e.failed(ctx, feed, timeoutErr())
		}
		return e.failed(ctx, feed, transportErr(err))
	}

	parsed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return e.failed(ctx, feed, transportErr(err))
	}

	entry := extract.Latest(parsed)
	if entry == nil {
		res := Result{Feed: feed, Err: noEntriesErr()}
		e.recordCheck(ctx, feed, res.Err.Error())
		return res
	}

	e.recordCheck(ctx, feed, "")
	return Result{Feed: feed, Entry: entry}
}

// FetchAll fetches the due set. Feeds are partitioned by the routing policy
// into proxy-routed and direct groups; both groups run concurrently under the
// shared in-flight limit. Individual failures never abort the batch.
func (e *Executor) FetchAll(ctx context.Context, feeds []model.Feed) []Result {
	var proxied, direct []model.Feed
	for _, f := range feeds {
		if e.policy.Proxied(f.URL) {
			proxied = append(proxied, f)
		} else {
			direct = append(direct, f)
		}
	}

	results := make([]Result, 0, len(feeds))
	resCh := make(chan Result, len(feeds))

	var wg sync.WaitGroup
	for _, group := range []struct {
		feeds  []model.Feed
		client *http.Client
	}{
		{proxied, e.policy.Client(true)},
		{direct, e.policy.Client(false)},
	} {
		for _, f := range group.feeds {
			wg.Add(1)
			go func(feed model.Feed, client *http.Client) {
				defer wg.Done()
				resCh <- e.FetchOne(ctx, client, feed)
			}(f, group.client)
		}
	}

	go func() {
		wg.Wait()
		close(resCh)
	}()

	for res := range resCh {
		results = append(results, res)
	}
	return results
}

// FetchSequential fetches the due set one feed at a time. Routing, timeout,
// and recording semantics are identical to FetchAll; only the concurrency
// differs. Fallback path for environments that cannot run the concurrent
// executor.
func (e *Executor) FetchSequential(ctx context.Context, feeds []model.Feed) []Result {
	results := make([]Result, 0, len(feeds))
	for _, f := range feeds {
		proxied := e.policy.Proxied(f.URL)
		results = append(results, e.FetchOne(ctx, e.policy.Client(proxied), f))
	}
	return results
}

func (e *Executor) failed(ctx context.Context, feed model.Feed, ferr *FetchError) Result {
	e.log.Warn("fetch failed", "feed_id", feed.ID, "name", feed.Name, "error", ferr.Error())
	e.recordCheck(ctx, feed, ferr.Error())
	date := time.Now().UTC().Format("2006-01-02")
	if err := e.store.MergeAnalytics(ctx, feed.ID, date, 0, 1); err != nil {
		e.log.Error("merge analytics", "feed_id", feed.ID, "error", err)
	}
	return Result{Feed: feed, Err: ferr}
}

func (e *Executor) recordCheck(ctx context.Context, feed model.Feed, errMsg string) {
	if err := e.store.UpdateCheckResult(ctx, feed.ID, errMsg); err != nil {
		e.log.Error("update check result", "feed_id", feed.ID, "error", err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
