package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/darshan-rambhia/beacon/internal/expr"
	"github.com/darshan-rambhia/beacon/internal/metrics"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/templates"
)

// Options holds the global notification settings.
type Options struct {
	ClientName           string
	BaseAppURL           string
	HostnameDisplayStrip model.Pattern
	EmailTo              string
	AlertWebHook         string
	Timeout              time.Duration
}

// Dispatcher renders alert transitions and hands them to every configured
// transport. Deliveries run in the background; failures are logged and
// counted, never returned.
type Dispatcher struct {
	opts      Options
	groups    map[string]model.GroupDef
	mailer    Mailer
	providers []Provider
	now       func() time.Time
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. mailer may be nil when no SMTP relay
// is configured.
func NewDispatcher(opts Options, groups []model.GroupDef, mailer Mailer, providers []Provider) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ClientName == "" {
		opts.ClientName = "Beacon"
	}
	opts.BaseAppURL = strings.TrimRight(opts.BaseAppURL, "/")

	byID := make(map[string]model.GroupDef, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	return &Dispatcher{
		opts:      opts,
		groups:    byID,
		mailer:    mailer,
		providers: providers,
		now:       time.Now,
	}
}

// Dispatch sends ev to email, the alert web hook, the global web hook and
// every provider. It does not block on delivery.
func (d *Dispatcher) Dispatch(ev model.AlertEvent) {
	c := d.Context(ev)
	n := d.Notification(ev, c)

	if c.EmailTo != "" && d.mailer != nil {
		d.send("email", c.EmailTo, n, func(ctx context.Context) error {
			return d.mailer.Send(ctx, c.EmailTo, c)
		})
	}

	if url := d.alertWebHook(ev); url != "" {
		d.post(url, n)
	}
	if d.opts.AlertWebHook != "" {
		d.post(d.opts.AlertWebHook, n)
	}

	for _, p := range d.providers {
		d.send(p.Name(), "", n, func(ctx context.Context) error {
			return p.Send(ctx, n)
		})
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) post(url string, n model.Notification) {
	hook := NewWebhook(url, "", nil)
	d.send(hook.Name(), url, n, func(ctx context.Context) error {
		return hook.Send(ctx, n)
	})
}

func (d *Dispatcher) send(transport, target string, n model.Notification, fn func(context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.opts.Timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			slog.Error("notification failed",
				"transport", transport, "target", target, "action", n.Action,
				"alert", n.Definition.ID, "hostname", n.Hostname, "error", err)
			metrics.NotificationsTotal.WithLabelValues(transport, "error").Inc()
			return
		}
		slog.Debug("notification sent",
			"transport", transport, "target", target, "action", n.Action,
			"alert", n.Definition.ID, "hostname", n.Hostname)
		metrics.NotificationsTotal.WithLabelValues(transport, "success").Inc()
	}()
}

func (d *Dispatcher) alertWebHook(ev model.AlertEvent) string {
	if ev.Def.WebHook != "" {
		return ev.Def.WebHook
	}
	return d.groups[ev.Submission.Group].AlertWebHook
}

func (d *Dispatcher) emailTo(ev model.AlertEvent) string {
	if ev.Def.Email != "" {
		return ev.Def.Email
	}
	if g := d.groups[ev.Submission.Group]; g.AlertEmail != "" {
		return g.AlertEmail
	}
	return d.opts.EmailTo
}

// Context renders the human-readable view of ev.
func (d *Dispatcher) Context(ev model.AlertEvent) model.AlertContext {
	sub := ev.Submission
	data := sub.Data

	niceGroup := sub.Group
	if g, ok := d.groups[sub.Group]; ok && g.Title != "" {
		niceGroup = g.Title
	}

	c := model.AlertContext{
		Template:     ev.Template,
		ClientName:   d.opts.ClientName,
		Title:        ev.Def.Title,
		TitleCaps:    strings.ToUpper(ev.Def.Title),
		Hostname:     sub.Hostname,
		NiceHostname: d.niceHostname(sub.Hostname),
		Group:        sub.Group,
		NiceGroup:    niceGroup,
		Expression:   ev.Alert.Exp,
		Message:      ev.Alert.Message,
		Notes:        ev.Def.Notes,
		URL:          d.hostURL(sub.Hostname),
		DateTime:     d.now().UTC().Format("Mon Jan 2 2006 15:04:05 MST"),
		EmailTo:      d.emailTo(ev),
	}
	if c.Notes == "" {
		c.Notes = "(None)"
	}
	if ev.Elapsed > 0 {
		c.Elapsed = templates.FormatDuration(ev.Elapsed)
	}

	if v, ok := expr.GetPath(data, "load/0"); ok {
		c.LoadAvg = templates.ShortFloat(expr.ParseFloat(v))
	}
	if v, ok := expr.GetPath(data, "memory/total"); ok {
		c.MemTotal = templates.FormatBytes(expr.ParseInt(v))
	}
	if v, ok := expr.GetPath(data, "memory/available"); ok {
		c.MemAvail = templates.FormatBytes(expr.ParseInt(v))
	}
	if v, ok := expr.GetPath(data, "uptime_sec"); ok {
		c.Uptime = templates.FormatUptime(expr.ParseInt(v))
	}
	distro, _ := expr.GetPath(data, "os/distro")
	release, _ := expr.GetPath(data, "os/release")
	c.OS = strings.TrimSpace(expr.Stringify(distro) + " " + expr.Stringify(release))

	return c
}

// Notification builds the web hook payload for ev.
func (d *Dispatcher) Notification(ev model.AlertEvent, c model.AlertContext) model.Notification {
	var text string
	if ev.Template == model.EventAlertCleared {
		text = fmt.Sprintf("%s Alert Cleared: %s: %s", c.ClientName, c.NiceHostname, c.Title)
	} else {
		text = fmt.Sprintf("%s Alert: %s: %s: %s - ([View Details](%s))",
			c.ClientName, c.NiceHostname, c.Title, c.Message, c.URL)
	}
	return model.Notification{
		Action:     ev.Template,
		Definition: ev.Def,
		Alert:      ev.Alert,
		Hostname:   ev.Submission.Hostname,
		Group:      ev.Submission.Group,
		URL:        c.URL,
		Text:       text,
	}
}

func (d *Dispatcher) niceHostname(hostname string) string {
	if d.opts.HostnameDisplayStrip.IsZero() {
		return hostname
	}
	return d.opts.HostnameDisplayStrip.Regexp().ReplaceAllString(hostname, "")
}

func (d *Dispatcher) hostURL(hostname string) string {
	return d.opts.BaseAppURL + "/#Server?hostname=" + hostname
}
