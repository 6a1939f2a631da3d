package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-rambhia/beacon/internal/model"
)

func newSubmission(date int64, data map[string]any) *model.Submission {
	return &model.Submission{Hostname: "web01", Group: "main", Date: date, Data: data}
}

func TestResolve_SimplePath(t *testing.T) {
	r := NewResolver([]model.MonitorDef{
		{ID: "cpu", Source: "[cpu.pct]", DataType: model.TypeFloat},
	}, nil)
	sub := newSubmission(1000, map[string]any{"cpu": map[string]any{"pct": 42.5}})

	working := r.Resolve(sub)

	assert.Equal(t, model.Num(42.5), sub.Monitors["cpu"])
	assert.Equal(t, model.Num(42.5), working["cpu"])
	assert.Equal(t, map[string]any{"cpu": 42.5}, sub.Data["monitors"])
}

func TestResolve_Coercion(t *testing.T) {
	data := map[string]any{
		"mem":     map[string]any{"used": 1536.9},
		"version": "v12.4.1",
		"uptime":  "3600 sec",
		"junk":    "n/a",
	}
	r := NewResolver([]model.MonitorDef{
		{ID: "mem_used", Source: "[mem/used]", DataType: model.TypeBytes},
		{ID: "version", Source: "[version]", DataType: model.TypeString},
		{ID: "uptime", Source: "[uptime]", DataType: model.TypeSeconds},
		{ID: "junk", Source: "[junk]"},
	}, nil)
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.Equal(t, model.Num(1536), sub.Monitors["mem_used"])
	assert.Equal(t, model.Str("v12.4.1"), sub.Monitors["version"])
	assert.Equal(t, model.Num(3600), sub.Monitors["uptime"])
	assert.Equal(t, model.Num(0), sub.Monitors["junk"])
}

func TestResolve_Expression(t *testing.T) {
	data := map[string]any{
		"memory": map[string]any{"total": 8000.0, "available": 2000.0},
	}
	r := NewResolver([]model.MonitorDef{
		{ID: "mem_used_pct", Source: "(([memory/total] - [memory/available]) / [memory/total]) * 100"},
	}, nil)
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.Equal(t, model.Num(75), sub.Monitors["mem_used_pct"])
}

type failingEval struct{}

func (failingEval) Eval(string, map[string]any) (any, error) { return nil, errors.New("boom") }

func TestResolve_IsolatedFailures(t *testing.T) {
	data := map[string]any{"a": 1.0, "b": 2.0}
	r := NewResolver([]model.MonitorDef{
		{ID: "sum", Source: "[a] + [b]"},
		{ID: "missing", Source: "[nope/none]"},
		{ID: "plain", Source: "[b]"},
	}, failingEval{})
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.Equal(t, model.Num(0), sub.Monitors["sum"])
	assert.Equal(t, model.Num(0), sub.Monitors["missing"])
	assert.Equal(t, model.Num(2), sub.Monitors["plain"])
}

func TestResolve_DataMatch(t *testing.T) {
	data := map[string]any{"temp": "CPU: +54.0°C (high = +80.0°C)", "state": "state=active"}
	r := NewResolver([]model.MonitorDef{
		{ID: "temp", Source: "[temp]", DataMatch: model.MustPattern(`\+([\d.]+)`)},
		{ID: "whole", Source: "[temp]", DataMatch: model.MustPattern(`\d+`), DataType: model.TypeInteger},
		{ID: "nomatch", Source: "[state]", DataMatch: model.MustPattern(`idle`), DataType: model.TypeString},
	}, nil)
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.Equal(t, model.Num(54), sub.Monitors["temp"])
	assert.Equal(t, model.Num(54), sub.Monitors["whole"])
	assert.Equal(t, model.Str("0"), sub.Monitors["nomatch"])
}

func TestResolve_Scale(t *testing.T) {
	data := map[string]any{"v": 10.0}
	r := NewResolver([]model.MonitorDef{
		{ID: "mul", Source: "[v]", Multiply: 3},
		{ID: "div", Source: "[v]", Divide: 4},
		{ID: "both", Source: "[v]", Multiply: 2, Divide: 5},
	}, nil)
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.Equal(t, model.Num(30), sub.Monitors["mul"])
	assert.Equal(t, model.Num(2.5), sub.Monitors["div"])
	assert.Equal(t, model.Num(20), sub.Monitors["both"])
}

func TestResolve_GroupMatch(t *testing.T) {
	data := map[string]any{"v": 1.0}
	r := NewResolver([]model.MonitorDef{
		{ID: "db_only", Source: "[v]", GroupMatch: model.MustPattern(`^db`)},
		{ID: "all", Source: "[v]"},
	}, nil)
	sub := newSubmission(1000, data)

	r.Resolve(sub)

	assert.NotContains(t, sub.Monitors, "db_only")
	assert.Contains(t, sub.Monitors, "all")
}

func TestApplyDeltas_DivideByDelta(t *testing.T) {
	r := NewResolver([]model.MonitorDef{
		{ID: "net_in", Source: "[net.bytes_in]", DataType: model.TypeBytes, Delta: true, DivideByDelta: true},
	}, nil)

	first := newSubmission(1000, map[string]any{"net": map[string]any{"bytes_in": 1000.0}})
	working := r.Resolve(first)
	r.ApplyDeltas(first, nil, working)
	assert.Equal(t, model.Num(0), working["net_in"], "first report only sets the baseline")
	assert.Equal(t, model.Num(1000), first.Monitors["net_in"])

	prev := model.RecordFrom(first)
	second := newSubmission(1042, map[string]any{"net": map[string]any{"bytes_in": 1500.0}})
	working = r.Resolve(second)
	r.ApplyDeltas(second, prev, working)

	assert.Equal(t, model.Num(11), working["net_in"])
	assert.Equal(t, model.Num(11), second.Deltas["net_in"])
	assert.Equal(t, model.Num(1500), second.Monitors["net_in"], "absolute value stays the baseline")
	assert.Equal(t, map[string]any{"net_in": 11.0}, second.Data["deltas"])
}

func TestApplyDeltas(t *testing.T) {
	def := model.MonitorDef{ID: "c", Source: "[c]", Delta: true}
	prevRecord := func(v float64, date int64) *model.HostRecord {
		rec := model.NewHostRecord()
		rec.Date = date
		rec.Monitors["c"] = model.Num(v)
		return rec
	}

	tests := []struct {
		name  string
		def   model.MonitorDef
		prev  *model.HostRecord
		cur   float64
		date  int64
		delta float64
	}{
		{"no prior record", def, nil, 50, 100, 0},
		{"no prior value", def, model.NewHostRecord(), 50, 100, 0},
		{"increase", def, prevRecord(20, 90), 50, 100, 30},
		{"counter reset clamps", def, prevRecord(500, 90), 50, 100, 0},
		{"same second elapsed floors to one", model.MonitorDef{ID: "c", Source: "[c]", Delta: true, DivideByDelta: true}, prevRecord(20, 100), 50, 100, 30},
		{"float keeps fraction", model.MonitorDef{ID: "c", Source: "[c]", Delta: true, DivideByDelta: true}, prevRecord(0, 96), 10, 100, 2.5},
		{"integer floors", model.MonitorDef{ID: "c", Source: "[c]", Delta: true, DivideByDelta: true, DataType: model.TypeInteger}, prevRecord(0, 96), 10, 100, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver([]model.MonitorDef{tt.def}, nil)
			sub := newSubmission(tt.date, map[string]any{"c": tt.cur})
			working := r.Resolve(sub)
			r.ApplyDeltas(sub, tt.prev, working)

			require.Contains(t, working, "c")
			assert.Equal(t, model.Num(tt.delta), working["c"])
			assert.GreaterOrEqual(t, working["c"].Float(), 0.0)
			assert.Equal(t, model.Num(tt.cur), sub.Monitors["c"])
		})
	}
}
