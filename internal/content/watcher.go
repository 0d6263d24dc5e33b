package content

import (
	"context"
	"fmt"
	"time"

	"github.com/keithlinneman/pagesite/internal/cryptoutil"
	"github.com/keithlinneman/pagesite/internal/log"
)

const (
	DefaultPollInterval = 30 * time.Second

	maxBackoff = 5 * time.Minute
)

type pollResult int

const (
	pollNoChange pollResult = iota
	pollSwapped
	pollFetchError // SSM unreachable, back off
	pollLoadError
	pollInvalid
)

// BundleFetcher is what the Watcher needs from a Loader.
type BundleFetcher interface {
	FetchCurrentBundleHash(ctx context.Context) (string, error)
	LoadHash(ctx context.Context, hash string) (*Snapshot, error)
}

// WatcherMetrics is implemented by internal/metrics.
type WatcherMetrics interface {
	IncWatcherPolls()
	IncWatcherSwaps()
	IncWatcherError(kind string)
	ObserveBundleLoadDuration(seconds float64)
	SetWatcherLastSuccess(unixSeconds float64)
	SetWatcherStale(stale bool)
}

type WatcherOptions struct {
	Logger       log.Logger
	Loader       BundleFetcher
	Manager      *Manager
	PollInterval time.Duration
	Validation   ValidationOptions

	// OnSwap runs on the poll goroutine after each swap
	OnSwap func(snap *Snapshot)

	Metrics WatcherMetrics

	// StaleThreshold is how long SSM may be unreachable before an error is
	// logged, default 30m
	StaleThreshold time.Duration
}

type Watcher struct {
	opts   WatcherOptions
	logger log.Logger

	currentHash string
	errStreak   int

	lastSuccess time.Time
	stale       bool

	polls int64
	swaps int64
}

func NewWatcher(opts WatcherOptions) *Watcher {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 30 * time.Minute
	}
	if opts.Metrics == nil {
		opts.Metrics = nopWatcherMetrics{}
	}

	w := &Watcher{
		opts:        opts,
		logger:      opts.Logger.With("component", "content_watcher"),
		lastSuccess: time.Now(),
	}
	// whatever was loaded at startup is not downloaded again
	if snap, ok := opts.Manager.Get(); ok {
		w.currentHash = snap.Meta.Hash
	}
	return w
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info(ctx, "content watcher starting",
		"poll_interval", w.opts.PollInterval.String(),
		"current_hash", truncHash(w.currentHash),
	)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "content watcher stopping", "polls", w.polls, "swaps", w.swaps)
			return ctx.Err()
		case <-ticker.C:
			res := w.poll(ctx)
			if next, changed := w.nextInterval(ctx, res); changed {
				ticker.Reset(next)
			}
			w.trackStaleness(ctx, res)
		}
	}
}

// nextInterval applies backoff while SSM keeps failing.
func (w *Watcher) nextInterval(ctx context.Context, res pollResult) (time.Duration, bool) {
	if res == pollFetchError {
		w.errStreak++
		d := w.backoff()
		w.logger.Warn(ctx, "content watcher backing off",
			"consecutive_errors", w.errStreak,
			"next_poll_in", d.String(),
		)
		return d, true
	}
	if w.errStreak > 0 {
		w.logger.Info(ctx, "content watcher recovered", "after_errors", w.errStreak)
		w.errStreak = 0
		return w.opts.PollInterval, true
	}
	return 0, false
}

func (w *Watcher) trackStaleness(ctx context.Context, res pollResult) {
	if res != pollFetchError {
		if w.stale {
			w.stale = false
			w.opts.Metrics.SetWatcherStale(false)
			w.logger.Info(ctx, "content freshness restored")
		}
		return
	}
	since := time.Since(w.lastSuccess)
	if since > w.opts.StaleThreshold && !w.stale {
		w.stale = true
		w.opts.Metrics.SetWatcherStale(true)
		w.logger.Error(ctx, fmt.Errorf("no successful SSM poll for %s", since.Truncate(time.Second)),
			"content may be stale")
	}
}

func (w *Watcher) poll(ctx context.Context) pollResult {
	w.polls++
	w.opts.Metrics.IncWatcherPolls()

	hash, err := w.opts.Loader.FetchCurrentBundleHash(ctx)
	if err != nil {
		w.logger.Error(ctx, err, "content watcher poll failed")
		w.opts.Metrics.IncWatcherError("ssm")
		return pollFetchError
	}
	now := time.Now()
	w.lastSuccess = now
	w.opts.Metrics.SetWatcherLastSuccess(float64(now.Unix()))

	if cryptoutil.HashEqual(hash, w.currentHash) {
		return pollNoChange
	}

	w.logger.Info(ctx, "new content bundle",
		"old_hash", truncHash(w.currentHash),
		"new_hash", truncHash(hash),
	)

	start := time.Now()
	snap, err := w.opts.Loader.LoadHash(ctx, hash)
	w.opts.Metrics.ObserveBundleLoadDuration(time.Since(start).Seconds())
	if err != nil {
		w.logger.Error(ctx, err, "content bundle load failed", "hash", truncHash(hash))
		w.opts.Metrics.IncWatcherError("load")
		return pollLoadError
	}

	if err := ValidateSnapshot(snap, w.opts.Validation); err != nil {
		w.logger.Error(ctx, err, "content bundle rejected, keeping current content",
			"rejected_hash", truncHash(hash),
			"current_hash", truncHash(w.currentHash),
		)
		w.opts.Metrics.IncWatcherError("validation")
		return pollInvalid
	}

	w.opts.Manager.Set(*snap)
	w.currentHash = hash
	w.swaps++
	w.opts.Metrics.IncWatcherSwaps()
	w.logger.Info(ctx, "content bundle swapped", "hash", truncHash(hash), "swaps", w.swaps)

	if w.opts.OnSwap != nil {
		w.notify(ctx, snap)
	}
	return pollSwapped
}

func (w *Watcher) notify(ctx context.Context, snap *Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error(ctx, fmt.Errorf("OnSwap panic: %v", r), "content swap callback panicked")
		}
	}()
	w.opts.OnSwap(snap)
}

// backoff doubles the interval per consecutive failure, capped at maxBackoff.
func (w *Watcher) backoff() time.Duration {
	d := w.opts.PollInterval
	for i := 0; i < w.errStreak && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}

type nopWatcherMetrics struct{}

func (nopWatcherMetrics) IncWatcherPolls()                  {}
func (nopWatcherMetrics) IncWatcherSwaps()                  {}
func (nopWatcherMetrics) IncWatcherError(string)            {}
func (nopWatcherMetrics) ObserveBundleLoadDuration(float64) {}
func (nopWatcherMetrics) SetWatcherLastSuccess(float64)     {}
func (nopWatcherMetrics) SetWatcherStale(bool)              {}

func truncHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
