// Package cache holds Beacon's process-scoped state: group rollups, the
// alert snapshot, per-resolution contributor sets and the snooze window.
// Everything here is lost on restart until the next flush persists it.
package cache

import (
	"maps"
	"sync"
	"time"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// Cache is a thread-safe in-memory store of state accumulated between flushes.
type Cache struct {
	mu sync.RWMutex

	Groups       map[string]*model.Rollup
	Alerts       map[string]map[string]model.ActiveAlert
	Contributors map[string]map[string]bool
	LastFlush    time.Time

	snoozeUntil time.Time
}

// CacheSnapshot is a read-only deep copy of the cache state.
type CacheSnapshot struct {
	Groups       map[string]model.Rollup
	Alerts       map[string]map[string]model.ActiveAlert
	Contributors map[string]map[string]bool
	LastFlush    time.Time
	SnoozeUntil  time.Time
}

// Flush is the state handed to the flusher by Drain.
type Flush struct {
	Groups       map[string]model.Rollup
	Alerts       map[string]map[string]model.ActiveAlert
	Contributors map[string]map[string]bool
}

// Empty reports whether there is nothing to persist.
func (f Flush) Empty() bool {
	return len(f.Groups) == 0 && len(f.Alerts) == 0 && len(f.Contributors) == 0
}

// New returns an initialized Cache.
func New() *Cache {
	return &Cache{
		Groups:       make(map[string]*model.Rollup),
		Alerts:       make(map[string]map[string]model.ActiveAlert),
		Contributors: make(map[string]map[string]bool),
	}
}

// Snapshot returns a deep copy of the cache contents.
func (c *Cache) Snapshot() CacheSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheSnapshot{
		Groups:       copyGroups(c.Groups),
		Alerts:       copyAlerts(c.Alerts),
		Contributors: copyContributors(c.Contributors),
		LastFlush:    c.LastFlush,
		SnoozeUntil:  c.snoozeUntil,
	}
}

// AddGroup folds one submission's working values into the group's rollup.
// Numbers sum, anything else is overwritten.
func (c *Cache) AddGroup(group string, values model.Values) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.Groups[group]
	if !ok {
		r = &model.Rollup{Totals: model.Values{}}
		c.Groups[group] = r
	}
	r.Totals.MergeFrom(values)
	r.Count++
}

// SetHostAlerts records the current active alert set of a host.
func (c *Cache) SetHostAlerts(hostname string, alerts map[string]model.ActiveAlert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Alerts[hostname] = maps.Clone(alerts)
	if c.Alerts[hostname] == nil {
		c.Alerts[hostname] = map[string]model.ActiveAlert{}
	}
}

// AddContributor marks hostKey as having contributed to a resolution in the
// current flush window.
func (c *Cache) AddContributor(system, hostKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.Contributors[system]
	if !ok {
		set = make(map[string]bool)
		c.Contributors[system] = set
	}
	set[hostKey] = true
}

// Snooze suppresses notifications until the given time. A zero time clears
// the window.
func (c *Cache) Snooze(until time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snoozeUntil = until
}

// SnoozedUntil returns the end of the snooze window.
func (c *Cache) SnoozedUntil() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snoozeUntil
}

// Snoozed reports whether now falls inside the snooze window.
func (c *Cache) Snoozed(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Before(c.snoozeUntil)
}

// Drain hands over everything accumulated since the last flush and resets
// the accumulators. The snooze window is untouched.
func (c *Cache) Drain(now time.Time) Flush {
	c.mu.Lock()
	defer c.mu.Unlock()

	f := Flush{
		Groups:       copyGroups(c.Groups),
		Alerts:       c.Alerts,
		Contributors: c.Contributors,
	}
	c.Groups = make(map[string]*model.Rollup)
	c.Alerts = make(map[string]map[string]model.ActiveAlert)
	c.Contributors = make(map[string]map[string]bool)
	c.LastFlush = now
	return f
}

func copyGroups(in map[string]*model.Rollup) map[string]model.Rollup {
	out := make(map[string]model.Rollup, len(in))
	for k, r := range in {
		out[k] = model.Rollup{Totals: r.Totals.Clone(), Count: r.Count}
	}
	return out
}

func copyAlerts(in map[string]map[string]model.ActiveAlert) map[string]map[string]model.ActiveAlert {
	out := make(map[string]map[string]model.ActiveAlert, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}

func copyContributors(in map[string]map[string]bool) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(in))
	for k, v := range in {
		out[k] = maps.Clone(v)
	}
	return out
}
