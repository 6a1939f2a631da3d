package alerter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// testNotifier records dispatched events for assertions.
type testNotifier struct {
	events []model.AlertEvent
}

func (n *testNotifier) Dispatch(ev model.AlertEvent) { n.events = append(n.events, ev) }

// Compile-time check that testNotifier satisfies Notifier.
var _ Notifier = (*testNotifier)(nil)

type fixedSnooze bool

func (s fixedSnooze) Snoozed(time.Time) bool { return bool(s) }

var (
	cpuHigh = model.AlertDef{
		ID:         "cpu_high",
		Title:      "CPU High",
		Expression: "[monitors/cpu] > 90",
		Message:    "CPU is at [pct:monitors/cpu]",
		Enabled:    true,
	}
	memLow = model.AlertDef{
		ID:         "mem_low",
		Title:      "Memory Low",
		Expression: "[monitors/mem_avail] < 1024",
		Message:    "Only [bytes:monitors/mem_avail] left",
		Enabled:    true,
	}
	mainGroup = model.GroupDef{ID: "main", Title: "Main", AlertsEnabled: true}
)

const t0 = int64(1_700_000_000)

func newSubmission(date int64, monitors map[string]any) *model.Submission {
	return &model.Submission{
		Hostname: "web01",
		Group:    "main",
		Date:     date,
		Data:     map[string]any{"monitors": monitors},
	}
}

func newTestEvaluator(defs []model.AlertDef, snoozed bool, now int64) (*Evaluator, *testNotifier) {
	n := &testNotifier{}
	e := New(defs, nil, n, fixedSnooze(snoozed))
	e.now = func() time.Time { return time.Unix(now, 0) }
	return e, n
}

func TestEvaluate_NewAlert(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh, memLow}, false, t0)
	sub := newSubmission(t0, map[string]any{"cpu": 95.5, "mem_avail": 4096.0})

	res := e.Evaluate(sub, model.NewHostRecord(), mainGroup)

	require.Contains(t, res.Active, "cpu_high")
	assert.NotContains(t, res.Active, "mem_low")
	assert.Equal(t, map[string]bool{"cpu_high": true}, res.New)
	assert.Empty(t, res.Cleared)

	alert := sub.Alerts["cpu_high"]
	assert.Equal(t, t0, alert.Date)
	assert.Equal(t, "95.5 > 90", alert.Exp)
	assert.Equal(t, "CPU is at 95.5%", alert.Message)
	assert.Equal(t, map[string]bool{"cpu_high": true}, sub.NewAlerts)

	require.Len(t, n.events, 1)
	assert.Equal(t, model.EventAlertNew, n.events[0].Template)
	assert.Equal(t, "cpu_high", n.events[0].Def.ID)
	assert.Same(t, sub, n.events[0].Submission)
}

func TestEvaluate_TriggerDatePreserved(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh}, false, t0+120)
	prev := model.NewHostRecord()
	prev.Alerts["cpu_high"] = model.ActiveAlert{Date: t0, Exp: "95 > 90"}

	sub := newSubmission(t0+120, map[string]any{"cpu": 99.0})
	res := e.Evaluate(sub, prev, mainGroup)

	assert.Empty(t, res.New)
	assert.Empty(t, res.Cleared)
	assert.Nil(t, sub.NewAlerts)
	assert.Equal(t, t0, sub.Alerts["cpu_high"].Date)
	assert.Equal(t, "99 > 90", sub.Alerts["cpu_high"].Exp)
	assert.Empty(t, n.events)
}

func TestEvaluate_Cleared(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh}, false, t0+300)
	prev := model.NewHostRecord()
	prev.Alerts["cpu_high"] = model.ActiveAlert{Date: t0, Exp: "95 > 90", Message: "CPU is at 95%"}

	sub := newSubmission(t0+300, map[string]any{"cpu": 10.0})
	res := e.Evaluate(sub, prev, mainGroup)

	assert.Empty(t, res.Active)
	assert.Contains(t, res.Cleared, "cpu_high")
	assert.Empty(t, sub.Alerts)

	require.Len(t, n.events, 1)
	ev := n.events[0]
	assert.Equal(t, model.EventAlertCleared, ev.Template)
	assert.Equal(t, 300*time.Second, ev.Elapsed)
	assert.Equal(t, t0, ev.Alert.Date)
}

func TestEvaluate_FullCycle(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh}, false, t0)
	prev := model.NewHostRecord()
	cpu := []float64{50, 95, 96, 97, 40}

	for i, v := range cpu {
		date := t0 + int64(i*60)
		e.now = func() time.Time { return time.Unix(date, 0) }
		sub := newSubmission(date, map[string]any{"cpu": v})
		e.Evaluate(sub, prev, mainGroup)
		if a, ok := sub.Alerts["cpu_high"]; ok {
			assert.Equal(t, t0+60, a.Date, "trigger date stays at the first true evaluation")
		}
		prev = model.RecordFrom(sub)
	}

	require.Len(t, n.events, 2)
	assert.Equal(t, model.EventAlertNew, n.events[0].Template)
	assert.Equal(t, model.EventAlertCleared, n.events[1].Template)
	assert.Equal(t, 180*time.Second, n.events[1].Elapsed)
}

func TestEvaluate_SnoozeSuppressesDispatchOnly(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh}, true, t0)
	sub := newSubmission(t0, map[string]any{"cpu": 95.0})

	res := e.Evaluate(sub, model.NewHostRecord(), mainGroup)

	assert.Empty(t, n.events)
	assert.Equal(t, map[string]bool{"cpu_high": true}, res.New)
	assert.Equal(t, map[string]bool{"cpu_high": true}, sub.NewAlerts)
	assert.Contains(t, sub.Alerts, "cpu_high")

	prev := model.RecordFrom(sub)
	cleared := newSubmission(t0+60, map[string]any{"cpu": 5.0})
	res = e.Evaluate(cleared, prev, mainGroup)
	assert.Contains(t, res.Cleared, "cpu_high")
	assert.Empty(t, n.events)
}

func TestEvaluate_DisabledSuppressesDispatch(t *testing.T) {
	disabled := cpuHigh
	disabled.Enabled = false

	e, n := newTestEvaluator([]model.AlertDef{disabled}, false, t0)
	res := e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, mainGroup)
	assert.Contains(t, res.New, "cpu_high")
	assert.Empty(t, n.events)

	quiet := mainGroup
	quiet.AlertsEnabled = false
	e, n = newTestEvaluator([]model.AlertDef{cpuHigh}, false, t0)
	res = e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, quiet)
	assert.Contains(t, res.New, "cpu_high")
	assert.Empty(t, n.events)
}

func TestEvaluate_GroupMatch(t *testing.T) {
	dbOnly := cpuHigh
	dbOnly.GroupMatch = model.MustPattern(`^db`)

	e, _ := newTestEvaluator([]model.AlertDef{dbOnly}, false, t0)
	res := e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, mainGroup)
	assert.Empty(t, res.Active)
}

type failingEval struct{}

func (failingEval) Eval(string, map[string]any) (any, error) { return nil, errors.New("boom") }

func TestEvaluate_ExpressionFailureIsIsolated(t *testing.T) {
	broken := model.AlertDef{ID: "broken", Expression: "[monitors/missing] > 1", Enabled: true}
	e, _ := newTestEvaluator([]model.AlertDef{broken, cpuHigh}, false, t0)

	res := e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, mainGroup)
	assert.NotContains(t, res.Active, "broken")
	assert.Contains(t, res.Active, "cpu_high")

	e = New([]model.AlertDef{cpuHigh}, failingEval{}, nil, nil)
	res = e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, mainGroup)
	assert.Empty(t, res.Active)
}

func TestEvaluate_NonBooleanResultIsNotTriggered(t *testing.T) {
	numeric := model.AlertDef{ID: "numeric", Expression: "[monitors/cpu] + 1", Enabled: true}
	e, _ := newTestEvaluator([]model.AlertDef{numeric}, false, t0)

	res := e.Evaluate(newSubmission(t0, map[string]any{"cpu": 95.0}), nil, mainGroup)
	assert.Empty(t, res.Active)
}

func TestEvaluate_RemovedDefinitionIsDropped(t *testing.T) {
	e, n := newTestEvaluator([]model.AlertDef{cpuHigh}, false, t0)
	prev := model.NewHostRecord()
	prev.Alerts["retired"] = model.ActiveAlert{Date: t0 - 60}

	sub := newSubmission(t0, map[string]any{"cpu": 10.0})
	res := e.Evaluate(sub, prev, mainGroup)

	assert.Empty(t, res.Cleared)
	assert.NotContains(t, sub.Alerts, "retired")
	assert.Empty(t, n.events)
}
