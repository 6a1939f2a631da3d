// Package flusher periodically persists the state accumulated in the cache:
// group rollups into group timelines, contributor sets and the alert snapshot.
package flusher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/darshan-rambhia/beacon/internal/cache"
	"github.com/darshan-rambhia/beacon/internal/metrics"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/internal/store"
	"github.com/darshan-rambhia/beacon/internal/timeline"
)

// AlertsKey holds the persisted snapshot of every host's active alerts.
const AlertsKey = "alerts/current"

const lockKey = "flusher"

// ContributorsKey returns the key of the contributor set for one resolution
// and date label.
func ContributorsKey(sys model.Resolution, date int64) string {
	return fmt.Sprintf("contributors/%s/%s", sys.ID, sys.Label(date))
}

// Flusher drains the cache on a fixed interval.
type Flusher struct {
	cache      *cache.Cache
	store      store.Storage
	timelines  *timeline.Aggregator
	systems    []model.Resolution
	interval   time.Duration
	expiration time.Duration
	now        func() time.Time
}

// New creates a flusher. A non-positive interval defaults to one minute.
func New(c *cache.Cache, s store.Storage, systems []model.Resolution, interval, expiration time.Duration) *Flusher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Flusher{
		cache:      c,
		store:      s,
		timelines:  timeline.New(s, expiration),
		systems:    systems,
		interval:   interval,
		expiration: expiration,
		now:        time.Now,
	}
}

// Run starts the flush loop. It blocks until the context is cancelled and
// flushes once more on the way out.
func (f *Flusher) Run(ctx context.Context) error {
	slog.Info("flusher started", "interval", f.interval)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := f.Flush(context.WithoutCancel(ctx)); err != nil {
				slog.Error("final flush failed", "error", err)
			}
			slog.Info("flusher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := f.Flush(ctx); err != nil {
				slog.Error("flush failed", "error", err)
			}
		}
	}
}

// Flush persists and resets everything accumulated since the last flush.
// Failures in one part do not stop the others; all errors are returned.
func (f *Flusher) Flush(ctx context.Context) error {
	now := f.now()
	drained := f.cache.Drain(now)
	if drained.Empty() {
		return nil
	}

	if err := f.store.Lock(ctx, lockKey); err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("locking flusher: %w", err)
	}
	defer func() {
		if err := f.store.Unlock(ctx, lockKey); err != nil {
			slog.Error("unlocking flusher", "error", err)
		}
	}()

	date := now.Unix()
	err := errors.Join(
		f.flushGroups(ctx, drained.Groups, date),
		f.flushContributors(ctx, drained.Contributors, date),
		f.flushAlerts(ctx, drained.Alerts),
	)
	if err != nil {
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		return err
	}

	metrics.FlushesTotal.WithLabelValues("success").Inc()
	slog.Debug("cache flushed",
		"groups", len(drained.Groups), "hosts", len(drained.Alerts), "systems", len(drained.Contributors))
	return nil
}

// flushGroups merges each group's rollup into its group timeline. Group
// lists always merge within a bucket, even for single_only resolutions.
func (f *Flusher) flushGroups(ctx context.Context, groups map[string]model.Rollup, date int64) error {
	var errs []error
	for _, sys := range f.systems {
		merged := sys
		merged.SingleOnly = false
		for group, r := range groups {
			entry := timeline.Entry{Date: date, Values: r.Totals, Count: r.Count}
			if err := f.timelines.Apply(ctx, merged, timeline.GroupKey(sys, group, date), entry); err != nil {
				errs = append(errs, fmt.Errorf("group %s timeline %s: %w", group, sys.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Flusher) flushContributors(ctx context.Context, contributors map[string]map[string]bool, date int64) error {
	var errs []error
	for _, sys := range f.systems {
		hosts := contributors[sys.ID]
		if len(hosts) == 0 {
			continue
		}
		key := ContributorsKey(sys, date)

		set := map[string]bool{}
		created := false
		switch err := store.GetJSON(ctx, f.store, key, &set); {
		case errors.Is(err, store.ErrNotFound):
			created = true
		case err != nil:
			errs = append(errs, fmt.Errorf("reading %s: %w", key, err))
			continue
		}
		maps.Copy(set, hosts)

		if err := store.PutJSON(ctx, f.store, key, set); err != nil {
			errs = append(errs, fmt.Errorf("writing %s: %w", key, err))
			continue
		}
		if created && f.expiration > 0 {
			if err := f.store.Expire(ctx, key, f.now().Add(f.expiration)); err != nil {
				errs = append(errs, fmt.Errorf("expiring %s: %w", key, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (f *Flusher) flushAlerts(ctx context.Context, alerts map[string]map[string]model.ActiveAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	current, err := CurrentAlerts(ctx, f.store)
	if err != nil {
		return err
	}
	maps.Copy(current, alerts)
	if err := store.PutJSON(ctx, f.store, AlertsKey, current); err != nil {
		return fmt.Errorf("writing %s: %w", AlertsKey, err)
	}
	return nil
}

// CurrentAlerts returns the last persisted alert snapshot, keyed by host.
func CurrentAlerts(ctx context.Context, s store.Storage) (map[string]map[string]model.ActiveAlert, error) {
	current := map[string]map[string]model.ActiveAlert{}
	err := store.GetJSON(ctx, s, AlertsKey, &current)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("reading %s: %w", AlertsKey, err)
	}
	return current, nil
}
