// Package alerter evaluates alert rules against resolved submission values
// and detects new and cleared alerts.
package alerter

import (
	"log/slog"
	"time"

	"github.com/darshan-rambhia/beacon/internal/expr"
	"github.com/darshan-rambhia/beacon/internal/metrics"
	"github.com/darshan-rambhia/beacon/internal/model"
	"github.com/darshan-rambhia/beacon/templates"
)

// Notifier hands alert transitions to the notification transports.
type Notifier interface {
	Dispatch(ev model.AlertEvent)
}

// Snoozer reports whether notifications are currently suppressed.
type Snoozer interface {
	Snoozed(now time.Time) bool
}

// Result is the outcome of evaluating one submission.
type Result struct {
	Active  map[string]model.ActiveAlert
	New     map[string]bool
	Cleared map[string]model.ActiveAlert
}

// Evaluator evaluates alert definitions.
type Evaluator struct {
	defs     []model.AlertDef
	byID     map[string]model.AlertDef
	eval     expr.Evaluator
	notifier Notifier
	snoozer  Snoozer
	now      func() time.Time
}

// New creates an Evaluator. A nil evaluator uses the default engine; a nil
// notifier or snoozer disables dispatch or snoozing respectively.
func New(defs []model.AlertDef, eval expr.Evaluator, notifier Notifier, snoozer Snoozer) *Evaluator {
	if eval == nil {
		eval = expr.New()
	}
	byID := make(map[string]model.AlertDef, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}
	return &Evaluator{
		defs:     defs,
		byID:     byID,
		eval:     eval,
		notifier: notifier,
		snoozer:  snoozer,
		now:      time.Now,
	}
}

// Evaluate checks every applicable alert against sub, compares the active
// set with the host's previous alerts and dispatches notifications for new
// and cleared alerts. The active set and the newly triggered ids are stored
// on sub. Bookkeeping always runs; only dispatch honours the snooze window
// and the enabled flags.
func (e *Evaluator) Evaluate(sub *model.Submission, prev *model.HostRecord, group model.GroupDef) Result {
	var prevAlerts map[string]model.ActiveAlert
	if prev != nil {
		prevAlerts = prev.Alerts
	}

	active := make(map[string]model.ActiveAlert)
	for _, def := range e.defs {
		if !def.GroupMatch.Allows(sub.Group) {
			continue
		}
		exp := expr.Sub(def.Expression, sub.Data)
		slog.Debug("checking alert expression", "alert", def.ID, "hostname", sub.Hostname, "expression", exp)

		v, err := e.eval.Eval(exp, sub.Context())
		if err != nil {
			slog.Error("alert expression failed to evaluate",
				"alert", def.ID, "hostname", sub.Hostname, "expression", exp, "error", err)
			continue
		}
		if triggered, ok := v.(bool); !ok || !triggered {
			continue
		}

		alert := model.ActiveAlert{
			Date:    sub.Date,
			Exp:     exp,
			Message: expr.SubFormatted(def.Message, sub.Data, templates.MessageFormatters()),
		}
		if old, ok := prevAlerts[def.ID]; ok {
			alert.Date = old.Date
		}
		active[def.ID] = alert
	}

	now := e.now()
	notify := e.snoozer == nil || !e.snoozer.Snoozed(now)
	res := Result{Active: active, New: map[string]bool{}, Cleared: map[string]model.ActiveAlert{}}

	for id, alert := range active {
		if _, ok := prevAlerts[id]; ok {
			continue
		}
		def := e.byID[id]
		res.New[id] = true
		metrics.AlertTransitionsTotal.WithLabelValues("new").Inc()
		slog.Warn("alert new",
			"transaction", model.EventAlertNew,
			"alert", id,
			"title", def.Title,
			"hostname", sub.Hostname,
			"message", alert.Message,
		)
		if notify && def.Enabled && group.AlertsEnabled {
			e.dispatch(model.AlertEvent{Template: model.EventAlertNew, Def: def, Submission: sub, Alert: alert})
		}
	}

	for id, old := range prevAlerts {
		if _, ok := active[id]; ok {
			continue
		}
		def, known := e.byID[id]
		if !known {
			// Definition was removed from config; drop the alert quietly.
			continue
		}
		res.Cleared[id] = old
		elapsed := now.Sub(time.Unix(old.Date, 0))
		metrics.AlertTransitionsTotal.WithLabelValues("cleared").Inc()
		slog.Info("alert cleared",
			"transaction", model.EventAlertCleared,
			"alert", id,
			"title", def.Title,
			"hostname", sub.Hostname,
			"elapsed", elapsed,
		)
		if notify && def.Enabled && group.AlertsEnabled {
			e.dispatch(model.AlertEvent{Template: model.EventAlertCleared, Def: def, Submission: sub, Alert: old, Elapsed: elapsed})
		}
	}

	sub.Alerts = active
	if len(res.New) > 0 {
		sub.NewAlerts = res.New
	} else {
		sub.NewAlerts = nil
	}
	return res
}

func (e *Evaluator) dispatch(ev model.AlertEvent) {
	if e.notifier != nil {
		e.notifier.Dispatch(ev)
	}
}
