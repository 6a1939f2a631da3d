// Package submit accepts metric submissions and runs them through monitor
// resolution, alert evaluation, timeline aggregation and group rollup under a
// per-host lock.
package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/darshan-rambhia/beacon/internal/alerter"
	"github.com/darshan-rambhia/beacon/internal/cache"
	"github.com/darshan-rambhia/beacon/internal/metrics"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/internal/monitor"
	"github.com/darshan-rambhia/beacon/internal/store"
	"github.com/darshan-rambhia/beacon/internal/timeline"
)

// ErrValidation marks a submission rejected before any state was touched.
var ErrValidation = errors.New("invalid submission")

// Options wires the processor to its collaborators.
type Options struct {
	Store     store.Storage
	Cache     *cache.Cache
	Pool      *Pool
	Monitors  *monitor.Resolver
	Alerts    *alerter.Evaluator
	Timelines *timeline.Aggregator
	Groups    []model.GroupDef
	Systems   []model.Resolution
}

// Processor validates, queues and processes submissions.
type Processor struct {
	store     store.Storage
	cache     *cache.Cache
	pool      *Pool
	monitors  *monitor.Resolver
	alerts    *alerter.Evaluator
	timelines *timeline.Aggregator
	groups    []model.GroupDef
	groupByID map[string]model.GroupDef
	systems   []model.Resolution
	now       func() time.Time
}

// New creates a Processor.
func New(opts Options) *Processor {
	groups := slices.Clone(opts.Groups)
	slices.SortStableFunc(groups, func(a, b model.GroupDef) int {
		return a.SortOrder - b.SortOrder
	})
	byID := make(map[string]model.GroupDef, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	return &Processor{
		store:     opts.Store,
		cache:     opts.Cache,
		pool:      opts.Pool,
		monitors:  opts.Monitors,
		alerts:    opts.Alerts,
		timelines: opts.Timelines,
		groups:    groups,
		groupByID: byID,
		systems:   opts.Systems,
		now:       time.Now,
	}
}

// Accept validates req, assigns the server-side fields and queues the
// submission. It returns as soon as the submission is queued.
func (p *Processor) Accept(req model.SubmitRequest, ip string) (*model.Submission, error) {
	sub, err := p.prepare(req, ip)
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		slog.Warn("submission rejected",
			"transaction", "warning", "hostname", req.Hostname, "ip", ip, "error", err)
		return nil, err
	}

	if err := p.pool.Enqueue(hostKey(sub.Hostname), func(ctx context.Context) {
		_ = p.Process(ctx, sub)
	}); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("queueing submission: %w", err)
	}
	metrics.SubmissionsTotal.WithLabelValues("accepted").Inc()
	return sub, nil
}

func (p *Processor) prepare(req model.SubmitRequest, ip string) (*model.Submission, error) {
	if !hostnamePattern.MatchString(req.Hostname) {
		return nil, fmt.Errorf("%w: hostname is missing or malformed", ErrValidation)
	}
	if req.Data == nil {
		return nil, fmt.Errorf("%w: data is missing", ErrValidation)
	}
	hostname := Normalize(req.Hostname)
	if hostname == "" {
		return nil, fmt.Errorf("%w: hostname is missing or malformed", ErrValidation)
	}

	group, custom, err := p.resolveGroup(hostname, req.Group)
	if err != nil {
		return nil, err
	}

	return &model.Submission{
		ID:          uuid.NewString(),
		Hostname:    hostname,
		Group:       group,
		CustomGroup: custom,
		IP:          ip,
		Date:        p.now().Unix(),
		Data:        req.Data,
	}, nil
}

// resolveGroup returns the explicit group when one was supplied, otherwise
// the matching group with the lowest sort order.
func (p *Processor) resolveGroup(hostname, explicit string) (string, bool, error) {
	if explicit != "" {
		id := Normalize(explicit)
		if _, ok := p.groupByID[id]; !ok {
			return "", false, fmt.Errorf("%w: Unknown group: %s", ErrValidation, id)
		}
		return id, true, nil
	}
	for _, g := range p.groups {
		if g.HostnameMatch.MatchString(hostname) {
			return g.ID, false, nil
		}
	}
	return "", false, fmt.Errorf("%w: Hostname is not a member of any groups: %s", ErrValidation, hostname)
}

// Process runs the locked pipeline for one accepted submission. The host
// lock is always released, whatever the outcome.
func (p *Processor) Process(ctx context.Context, sub *model.Submission) error {
	start := time.Now()
	lockKey := hostKey(sub.Hostname)

	if err := p.store.Lock(ctx, lockKey); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		slog.Error("locking host", "hostname", sub.Hostname, "id", sub.ID, "error", err)
		return fmt.Errorf("locking %s: %w", lockKey, err)
	}
	defer func() {
		if err := p.store.Unlock(ctx, lockKey); err != nil {
			slog.Error("unlocking host", "hostname", sub.Hostname, "id", sub.ID, "error", err)
		}
	}()

	err := p.process(ctx, sub)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SubmissionsTotal.WithLabelValues("failed").Inc()
		slog.Error("submission failed", "hostname", sub.Hostname, "group", sub.Group, "id", sub.ID, "error", err)
		return err
	}
	metrics.SubmissionsTotal.WithLabelValues("processed").Inc()
	slog.Debug("submission processed",
		"hostname", sub.Hostname, "group", sub.Group, "id", sub.ID, "duration", time.Since(start))
	return nil
}

func (p *Processor) process(ctx context.Context, sub *model.Submission) error {
	prev, err := p.loadRecord(ctx, sub)
	if err != nil {
		return err
	}

	working := p.monitors.Resolve(sub)
	p.monitors.ApplyDeltas(sub, prev, working)

	p.alerts.Evaluate(sub, prev, p.groupByID[sub.Group])

	for _, sys := range p.systems {
		entry := timeline.Entry{
			Date:      sub.Date,
			Values:    working,
			Count:     1,
			NewAlerts: sub.NewAlerts,
		}
		if err := p.timelines.Apply(ctx, sys, timeline.HostKey(sys, sub), entry); err != nil {
			metrics.TimelineErrorsTotal.WithLabelValues(sys.ID, timelineReason(err)).Inc()
			return fmt.Errorf("timeline %s: %w", sys.ID, err)
		}
	}

	if err := store.PutJSON(ctx, p.store, hostKey(sub.Hostname), model.RecordFrom(sub)); err != nil {
		return fmt.Errorf("saving host record: %w", err)
	}

	// Cache state only reflects submissions that made it through every step.
	for _, sys := range p.systems {
		p.cache.AddContributor(sys.ID, sub.HostKey())
	}
	p.cache.AddGroup(sub.Group, working)
	p.cache.SetHostAlerts(sub.HostKey(), sub.Alerts)
	return nil
}

func (p *Processor) loadRecord(ctx context.Context, sub *model.Submission) (*model.HostRecord, error) {
	var rec model.HostRecord
	err := store.GetJSON(ctx, p.store, hostKey(sub.Hostname), &rec)
	switch {
	case errors.Is(err, store.ErrNotFound):
		slog.Info("new server",
			"transaction", "server_add", "hostname", sub.Hostname, "group", sub.Group, "ip", sub.IP)
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("loading host record: %w", err)
	}

	if rec.IP != "" && rec.IP != sub.IP {
		slog.Warn("server IP changed",
			"transaction", "warning", "hostname", sub.Hostname, "old_ip", rec.IP, "ip", sub.IP)
	}
	return &rec, nil
}

// Record returns the persisted record of a host.
func (p *Processor) Record(ctx context.Context, hostname string) (*model.HostRecord, error) {
	var rec model.HostRecord
	if err := store.GetJSON(ctx, p.store, hostKey(Normalize(hostname)), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func hostKey(hostname string) string {
	return "hosts/" + hostname + "/data"
}

func timelineReason(err error) string {
	switch {
	case errors.Is(err, timeline.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, timeline.ErrDoubleSubmission):
		return "double_submission"
	default:
		return "storage"
	}
}
