package submit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/beacon/internal/alerter"
	"github.com/darshan-rambhia/beacon/internal/cache"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/internal/monitor"
	"github.com/darshan-rambhia/beacon/internal/store"
	"github.com/darshan-rambhia/beacon/internal/timeline"
)

// 2024-03-05 12:00:00 UTC
const base = int64(1709640000)

var (
	minutely = model.Resolution{ID: "daily", EpochDiv: 60, DateFormat: "2006/01/02", SingleOnly: true}
	hourly   = model.Resolution{ID: "monthly", EpochDiv: 3600, DateFormat: "2006/01"}

	testMonitors = []model.MonitorDef{
		{ID: "cpu", Source: "[cpu/pct]", DataType: model.TypeFloat},
		{ID: "net_in", Source: "[net/in]", DataType: model.TypeBytes, Delta: true, DivideByDelta: true},
	}
	testAlerts = []model.AlertDef{
		{ID: "cpu_high", Title: "CPU High", Expression: "[monitors/cpu] > 90", Message: "CPU at [monitors/cpu]", Enabled: true},
	}
	testGroups = []model.GroupDef{
		{ID: "fallback", HostnameMatch: model.MustPattern(`.+`), SortOrder: 10, AlertsEnabled: true},
		{ID: "web", HostnameMatch: model.MustPattern(`^web`), SortOrder: 1, AlertsEnabled: true},
		{ID: "db", HostnameMatch: model.MustPattern(`^db`), SortOrder: 5},
	}
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.AlertEvent
}

func (n *recordingNotifier) Dispatch(ev model.AlertEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

type fixture struct {
	proc     *Processor
	store    *store.Store
	cache    *cache.Cache
	pool     *Pool
	notifier *recordingNotifier
	tl       *timeline.Aggregator
	clock    atomic.Int64
}

func newFixture(t *testing.T, systems ...model.Resolution) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	f := &fixture{store: st, cache: cache.New(), notifier: &recordingNotifier{}}
	f.clock.Store(base)
	f.pool = NewPool(ctx, 4)
	f.tl = timeline.New(st, 0)

	alerts := alerter.New(testAlerts, nil, f.notifier, f.cache)
	f.proc = New(Options{
		Store:     st,
		Cache:     f.cache,
		Pool:      f.pool,
		Monitors:  monitor.NewResolver(testMonitors, nil),
		Alerts:    alerts,
		Timelines: f.tl,
		Groups:    testGroups,
		Systems:   systems,
	})
	f.proc.now = func() time.Time { return time.Unix(f.clock.Load(), 0) }
	return f
}

func (f *fixture) submit(t *testing.T, hostname string, cpu, netIn float64) *model.Submission {
	t.Helper()
	sub, err := f.proc.prepare(model.SubmitRequest{
		Hostname: hostname,
		Data: map[string]any{
			"cpu": map[string]any{"pct": cpu},
			"net": map[string]any{"in": netIn},
		},
	}, "10.0.0.1")
	require.NoError(t, err)
	return sub
}

func (f *fixture) buckets(t *testing.T, sys model.Resolution, sub *model.Submission) []model.Bucket {
	t.Helper()
	b, err := f.tl.Buckets(context.Background(), timeline.HostKey(sys, sub))
	require.NoError(t, err)
	return b
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"web01", "web01"},
		{"WEB01.Example.COM", "web01.example.com"},
		{"/web//01/", "web01"},
		{"web 01!", "web01"},
		{"a_b-c.d", "a_b-c.d"},
		{"///", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), tt.in)
	}
}

func TestPrepare_Validation(t *testing.T) {
	f := newFixture(t, hourly)
	data := map[string]any{"x": 1}

	tests := []struct {
		name string
		req  model.SubmitRequest
		msg  string
	}{
		{"missing hostname", model.SubmitRequest{Data: data}, "hostname"},
		{"whitespace hostname", model.SubmitRequest{Hostname: "web 01", Data: data}, "hostname"},
		{"only separators", model.SubmitRequest{Hostname: "///", Data: data}, "hostname"},
		{"missing data", model.SubmitRequest{Hostname: "web01"}, "data"},
		{"unknown group", model.SubmitRequest{Hostname: "web01", Group: "Nope", Data: data}, "Unknown group: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.proc.Accept(tt.req, "10.0.0.1")
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPrepare_NoMatchingGroup(t *testing.T) {
	f := newFixture(t, hourly)
	f.proc = New(Options{Groups: testGroups[1:], Pool: f.pool})

	_, err := f.proc.prepare(model.SubmitRequest{Hostname: "mail01", Data: map[string]any{}}, "")
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "Hostname is not a member of any groups: mail01")
}

func TestPrepare_GroupResolution(t *testing.T) {
	f := newFixture(t, hourly)

	sub := f.submit(t, "Web01", 1, 1)
	assert.Equal(t, "web01", sub.Hostname)
	assert.Equal(t, "web", sub.Group, "lowest sort order wins over fallback")
	assert.False(t, sub.CustomGroup)
	assert.Equal(t, base, sub.Date)
	assert.Equal(t, "10.0.0.1", sub.IP)
	assert.NotEmpty(t, sub.ID)

	sub = f.submit(t, "mail01", 1, 1)
	assert.Equal(t, "fallback", sub.Group)

	sub, err := f.proc.prepare(model.SubmitRequest{Hostname: "web01", Group: "DB", Data: map[string]any{}}, "")
	require.NoError(t, err)
	assert.Equal(t, "db", sub.Group)
	assert.True(t, sub.CustomGroup)
	assert.Equal(t, "db/web01", sub.HostKey())
}

func TestProcess_Pipeline(t *testing.T) {
	f := newFixture(t, minutely, hourly)
	ctx := context.Background()

	first := f.submit(t, "web01", 50, 1000)
	require.NoError(t, f.proc.Process(ctx, first))

	rec, err := f.proc.Record(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, 50.0, rec.Monitors["cpu"].Float())
	assert.Equal(t, 1000.0, rec.Monitors["net_in"].Float())
	assert.Equal(t, base, rec.Date)

	f.clock.Store(base + 60)
	second := f.submit(t, "web01", 30, 1600)
	require.NoError(t, f.proc.Process(ctx, second))
	assert.Equal(t, 10.0, second.Deltas["net_in"].Float())

	rec, err = f.proc.Record(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, 1600.0, rec.Monitors["net_in"].Float(), "baseline stays absolute")

	hours := f.buckets(t, hourly, second)
	require.Len(t, hours, 1)
	assert.Equal(t, int64(2), hours[0].Count)
	assert.Equal(t, 80.0, hours[0].Totals["cpu"].Float())
	assert.Equal(t, 10.0, hours[0].Totals["net_in"].Float())

	minutes := f.buckets(t, minutely, second)
	require.Len(t, minutes, 2)
	assert.Equal(t, base, minutes[0].Date)
	assert.Equal(t, base+60, minutes[1].Date)

	snap := f.cache.Snapshot()
	require.Contains(t, snap.Groups, "web")
	assert.Equal(t, int64(2), snap.Groups["web"].Count)
	assert.Equal(t, 80.0, snap.Groups["web"].Totals["cpu"].Float())
	assert.True(t, snap.Contributors["daily"]["web01"])
	assert.True(t, snap.Contributors["monthly"]["web01"])
	assert.Contains(t, snap.Alerts, "web01")
}

func TestProcess_AlertTagsBucket(t *testing.T) {
	f := newFixture(t, hourly)
	ctx := context.Background()

	sub := f.submit(t, "web01", 95, 0)
	require.NoError(t, f.proc.Process(ctx, sub))

	assert.True(t, sub.NewAlerts["cpu_high"])
	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, model.EventAlertNew, f.notifier.events[0].Template)

	b := f.buckets(t, hourly, sub)
	require.Len(t, b, 1)
	assert.True(t, b[0].Alerts["cpu_high"])

	rec, err := f.proc.Record(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, base, rec.Alerts["cpu_high"].Date)
	assert.Equal(t, base, f.cache.Snapshot().Alerts["web01"]["cpu_high"].Date)
}

func TestProcess_DoubleSubmissionRejected(t *testing.T) {
	f := newFixture(t, minutely, hourly)
	ctx := context.Background()

	require.NoError(t, f.proc.Process(ctx, f.submit(t, "web01", 10, 100)))

	dup := f.submit(t, "web01", 20, 200)
	err := f.proc.Process(ctx, dup)
	require.ErrorIs(t, err, timeline.ErrDoubleSubmission)

	rec, err := f.proc.Record(ctx, "web01")
	require.NoError(t, err)
	assert.Equal(t, 10.0, rec.Monitors["cpu"].Float(), "record not persisted")

	hours := f.buckets(t, hourly, dup)
	require.Len(t, hours, 1)
	assert.Equal(t, int64(1), hours[0].Count, "later resolutions skipped")
}

func TestProcess_OutOfOrderRejected(t *testing.T) {
	f := newFixture(t, hourly)
	ctx := context.Background()

	f.clock.Store(base + 7200)
	require.NoError(t, f.proc.Process(ctx, f.submit(t, "web01", 10, 100)))

	f.clock.Store(base)
	late := f.submit(t, "web01", 20, 200)
	require.ErrorIs(t, f.proc.Process(ctx, late), timeline.ErrOutOfOrder)

	b := f.buckets(t, hourly, late)
	require.Len(t, b, 1)
	assert.Equal(t, 10.0, b[0].Totals["cpu"].Float())
}

func TestProcess_LockReleasedOnFailure(t *testing.T) {
	f := newFixture(t, minutely)
	ctx := context.Background()

	require.NoError(t, f.proc.Process(ctx, f.submit(t, "web01", 1, 1)))
	require.Error(t, f.proc.Process(ctx, f.submit(t, "web01", 1, 1)))

	lockCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, f.store.Lock(lockCtx, hostKey("web01")))
	require.NoError(t, f.store.Unlock(lockCtx, hostKey("web01")))
}

func TestAccept_ConcurrentSameHost(t *testing.T) {
	f := newFixture(t, hourly)
	const n = 20

	var sub *model.Submission
	for range n {
		var err error
		sub, err = f.proc.Accept(model.SubmitRequest{
			Hostname: "web01",
			Data:     map[string]any{"cpu": map[string]any{"pct": 2.5}, "net": map[string]any{"in": 10}},
		}, "10.0.0.1")
		require.NoError(t, err)
	}
	f.pool.Wait()

	b := f.buckets(t, hourly, sub)
	require.Len(t, b, 1)
	assert.Equal(t, int64(n), b[0].Count)
	assert.InDelta(t, 2.5*n, b[0].Totals["cpu"].Float(), 1e-9)
	assert.Equal(t, int64(n), f.cache.Snapshot().Groups["web"].Count)
}

func TestPool_Bounded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(ctx, 2)

	var running, peak atomic.Int32
	for i := range 10 {
		require.NoError(t, p.Enqueue(fmt.Sprintf("host%d", i), func(context.Context) {
			cur := running.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}))
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Positive(t, peak.Load())
}

func TestPool_Closed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)
	cancel()

	err := p.Enqueue("web01", func(context.Context) { t.Error("should not run") })
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_WorkOutlivesCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)

	started := make(chan struct{})
	var ctxErr error
	require.NoError(t, p.Enqueue("web01", func(ctx context.Context) {
		close(started)
		time.Sleep(10 * time.Millisecond)
		ctxErr = ctx.Err()
	}))
	<-started
	cancel()
	p.Wait()

	assert.NoError(t, ctxErr)
}

func TestPool_SameKeyRunsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewPool(ctx, 4)

	var (
		mu  sync.Mutex
		got = map[string][]int{}
	)
	for i := range 50 {
		for _, key := range []string{"a", "b", "c"} {
			require.NoError(t, p.Enqueue(key, func(context.Context) {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			}))
		}
	}
	p.Wait()

	for _, key := range []string{"a", "b", "c"} {
		require.Len(t, got[key], 50, key)
		for i, v := range got[key] {
			assert.Equal(t, i, v, key)
		}
	}
}

func TestPool_DropsQueuedOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Enqueue("web01", func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	var ran atomic.Bool
	require.NoError(t, p.Enqueue("web01", func(context.Context) { ran.Store(true) }))
	cancel()
	require.Eventually(t, func() bool {
		return errors.Is(p.Enqueue("web02", func(context.Context) {}), ErrPoolClosed)
	}, time.Second, time.Millisecond)
	close(release)
	p.Wait()

	assert.False(t, ran.Load())
}

func TestAccept_PreservesHostOrderAcrossBuckets(t *testing.T) {
	f := newFixture(t, hourly)

	const hosts = 40
	var subs []*model.Submission
	for h := range hosts {
		name := fmt.Sprintf("web%02d", h)
		for _, at := range []int64{base + 3599, base + 3600} {
			f.clock.Store(at)
			sub, err := f.proc.Accept(model.SubmitRequest{
				Hostname: name,
				Data:     map[string]any{"cpu": map[string]any{"pct": 1.0}, "net": map[string]any{"in": 1}},
			}, "10.0.0.1")
			require.NoError(t, err)
			subs = append(subs, sub)
		}
	}
	f.pool.Wait()

	for i := 1; i < len(subs); i += 2 {
		sub := subs[i]
		b := f.buckets(t, hourly, sub)
		require.Len(t, b, 2, sub.Hostname)
		assert.Equal(t, base, b[0].Date, sub.Hostname)
		assert.Equal(t, base+3600, b[1].Date, sub.Hostname)
	}
}

func TestProcess_FailedSubmissionLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t, hourly, minutely)
	ctx := context.Background()

	require.NoError(t, f.proc.Process(ctx, f.submit(t, "web01", 10, 100)))
	f.cache.Drain(time.Unix(base, 0))

	// Same minute: the hourly bucket merges, the single-only minute rejects.
	err := f.proc.Process(ctx, f.submit(t, "web01", 20, 200))
	require.ErrorIs(t, err, timeline.ErrDoubleSubmission)

	snap := f.cache.Snapshot()
	assert.Empty(t, snap.Contributors)
	assert.Empty(t, snap.Groups)
	assert.Empty(t, snap.Alerts)
}
