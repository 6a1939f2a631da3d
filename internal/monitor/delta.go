package monitor

import (
	"math"

	"github.com/darshan-rambhia/beacon/internal/model"
)

// ApplyDeltas replaces every delta monitor in working with the change since
// the host's previous submission. The absolute values on sub.Monitors are not
// touched so they remain the baseline for the next submission. Computed deltas
// are recorded on sub.Deltas and mirrored into sub.Data["deltas"].
func (r *Resolver) ApplyDeltas(sub *model.Submission, prev *model.HostRecord, working model.Values) {
	deltas := model.Values{}
	for _, def := range r.defs {
		if !def.Delta {
			continue
		}
		cur, ok := sub.Monitors[def.ID]
		if !ok {
			continue
		}
		d := delta(def, cur, prev, sub.Date)
		working[def.ID] = d
		deltas[def.ID] = d
	}
	sub.Deltas = deltas
	if sub.Data == nil {
		sub.Data = map[string]any{}
	}
	sub.Data["deltas"] = deltas.Map()
}

func delta(def model.MonitorDef, cur model.Value, prev *model.HostRecord, now int64) model.Value {
	if prev == nil {
		return model.Num(0)
	}
	old, ok := prev.Monitors[def.ID]
	if !ok {
		return model.Num(0)
	}

	d := cur.Float() - old.Float()
	if def.DivideByDelta && prev.Date > 0 {
		d /= float64(max(now-prev.Date, 1))
	}
	if d < 0 {
		d = 0
	}
	if def.DataType.IsInteger() {
		d = math.Floor(d)
	}
	return model.Num(d)
}
