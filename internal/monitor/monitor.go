// Package monitor turns raw submission data into typed monitor values.
package monitor

import (
	"log/slog"

	"github.com/darshan-rambhia/beacon/internal/expr"
	"github.com/darshan-rambhia/beacon/internal/model"
)

// Resolver evaluates monitor definitions against submissions.
type Resolver struct {
	defs []model.MonitorDef
	eval expr.Evaluator
}

// NewResolver creates a Resolver. A nil evaluator uses the default engine.
func NewResolver(defs []model.MonitorDef, eval expr.Evaluator) *Resolver {
	if eval == nil {
		eval = expr.New()
	}
	return &Resolver{defs: defs, eval: eval}
}

// Defs returns the monitor definitions the resolver was built with.
func (r *Resolver) Defs() []model.MonitorDef { return r.defs }

// Resolve computes the absolute value of every monitor that applies to the
// submission's group. The values are stored on sub.Monitors and mirrored into
// sub.Data["monitors"] so alert expressions can reference them. The returned
// working map starts as a copy of the absolute values; ApplyDeltas replaces
// delta monitors in it.
func (r *Resolver) Resolve(sub *model.Submission) model.Values {
	abs := model.Values{}
	for _, def := range r.defs {
		if !def.GroupMatch.Allows(sub.Group) {
			continue
		}
		abs[def.ID] = r.resolveOne(def, sub)
	}
	sub.Monitors = abs
	if sub.Data == nil {
		sub.Data = map[string]any{}
	}
	sub.Data["monitors"] = abs.Map()
	return abs.Clone()
}

func (r *Resolver) resolveOne(def model.MonitorDef, sub *model.Submission) model.Value {
	var raw any = 0.0

	exp, err := expr.SubStrict(def.Source, sub.Data)
	switch {
	case err != nil || exp == "":
		slog.Error("monitor expression failed to evaluate",
			"monitor", def.ID, "hostname", sub.Hostname, "expression", def.Source, "error", err)
	case expr.HasMath(def.Source):
		v, err := r.eval.Eval(exp, sub.Context())
		if err != nil {
			slog.Error("monitor expression failed to evaluate",
				"monitor", def.ID, "hostname", sub.Hostname, "expression", exp, "error", err)
		} else {
			raw = v
		}
	default:
		raw = exp
	}

	if re := def.DataMatch.Regexp(); re != nil {
		m := re.FindStringSubmatch(expr.Stringify(raw))
		switch {
		case len(m) >= 2:
			raw = m[1]
		case len(m) == 1:
			raw = m[0]
		default:
			slog.Error("monitor data_match did not match",
				"monitor", def.ID, "hostname", sub.Hostname, "raw_value", expr.Stringify(raw))
			raw = 0.0
		}
	}

	return scale(def, coerce(def.DataType, raw))
}

func coerce(t model.DataType, raw any) model.Value {
	switch {
	case t.IsInteger():
		return model.Num(float64(expr.ParseInt(raw)))
	case t == model.TypeString:
		return model.Str(expr.Stringify(raw))
	default:
		return model.Num(expr.ParseFloat(raw))
	}
}

// scale applies multiply or divide; multiply wins when both are set.
func scale(def model.MonitorDef, v model.Value) model.Value {
	if !v.IsNumeric() {
		return v
	}
	switch {
	case def.Multiply != 0:
		return model.Num(v.Float() * def.Multiply)
	case def.Divide != 0:
		return model.Num(v.Float() / def.Divide)
	}
	return v
}
