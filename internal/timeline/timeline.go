// Package timeline maintains the time-bucketed history lists for hosts and
// groups, one list per resolution and date label.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/internal/store"
)

var (
	// ErrOutOfOrder is returned when a submission maps to an earlier bucket
	// than the last one stored in the list.
	ErrOutOfOrder = errors.New("timeline out of order")
	// ErrDoubleSubmission is returned when a single_only resolution receives a
	// second submission for the same bucket.
	ErrDoubleSubmission = errors.New("double submission in same bucket")
)

// Entry is the data folded into one bucket.
type Entry struct {
	Date      int64
	Values    model.Values
	Count     int64
	NewAlerts map[string]bool
}

// Aggregator merges or appends entries into timeline lists.
type Aggregator struct {
	store      store.Storage
	expiration time.Duration
	now        func() time.Time
}

// New creates an Aggregator. A positive expiration is applied to every list
// when its first bucket is written.
func New(s store.Storage, expiration time.Duration) *Aggregator {
	return &Aggregator{store: s, expiration: expiration, now: time.Now}
}

// HostKey returns the list key for a submission in one resolution.
func HostKey(sys model.Resolution, sub *model.Submission) string {
	return fmt.Sprintf("timeline/%s/%s/%s", sys.ID, sub.HostKey(), sys.Label(sub.Date))
}

// GroupKey returns the list key for a group rollup in one resolution.
func GroupKey(sys model.Resolution, group string, date int64) string {
	return fmt.Sprintf("groups/timeline/%s/%s/%s", sys.ID, group, sys.Label(date))
}

// Apply folds e into the list at key. A new bucket is appended when the list
// is empty or e falls in a later bucket than the last one; a bucket with the
// same index is merged unless sys is single_only. Errors leave the list
// unmodified.
func (a *Aggregator) Apply(ctx context.Context, sys model.Resolution, key string, e Entry) error {
	idx := sys.Index(e.Date)

	last, err := store.ListGetJSON[model.Bucket](ctx, a.store, key, -1, 1)
	if err != nil {
		return fmt.Errorf("reading last bucket of %s: %w", key, err)
	}

	if len(last) == 1 {
		b := last[0]
		switch {
		case b.EpochDiv > idx:
			return fmt.Errorf("%w: cannot submit %d after %d into %s", ErrOutOfOrder, idx, b.EpochDiv, key)
		case b.EpochDiv == idx:
			if sys.SingleOnly {
				return fmt.Errorf("%w: %s", ErrDoubleSubmission, key)
			}
			Merge(&b, e)
			if err := store.ListSpliceJSON(ctx, a.store, key, -1, 1, b); err != nil {
				return fmt.Errorf("merging bucket into %s: %w", key, err)
			}
			return nil
		}
	}

	n, err := store.ListPushJSON(ctx, a.store, key, NewBucket(sys, e))
	if err != nil {
		return fmt.Errorf("appending bucket to %s: %w", key, err)
	}
	if n == 1 && a.expiration > 0 {
		if err := a.store.Expire(ctx, key, a.now().Add(a.expiration)); err != nil {
			return fmt.Errorf("setting expiration on %s: %w", key, err)
		}
	}
	return nil
}

// Buckets returns every bucket in the list at key.
func (a *Aggregator) Buckets(ctx context.Context, key string) ([]model.Bucket, error) {
	return store.ListGetJSON[model.Bucket](ctx, a.store, key, 0, -1)
}

// NewBucket starts a bucket from e.
func NewBucket(sys model.Resolution, e Entry) model.Bucket {
	idx := sys.Index(e.Date)
	b := model.Bucket{
		Date:     idx * max(sys.EpochDiv, 1),
		EpochDiv: idx,
		Totals:   e.Values.Clone(),
		Count:    max(e.Count, 1),
	}
	if len(e.NewAlerts) > 0 {
		b.Alerts = maps.Clone(e.NewAlerts)
	}
	return b
}

// Merge folds e into b: numeric totals sum, anything else is overwritten,
// counts add and new alert ids are unioned.
func Merge(b *model.Bucket, e Entry) {
	if b.Totals == nil {
		b.Totals = model.Values{}
	}
	b.Totals.MergeFrom(e.Values)
	b.Count += max(e.Count, 1)
	if len(e.NewAlerts) > 0 {
		if b.Alerts == nil {
			b.Alerts = make(map[string]bool, len(e.NewAlerts))
		}
		maps.Copy(b.Alerts, e.NewAlerts)
	}
}
