// Package rules implements the 'generate_rules' and 'apply_rules' tools:
// deriving cleaning rules from profile and anomaly findings, and applying
// them to the run's data series.
package rules

import (
	"context"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/tool"
)

// Module implements the tool.Module interface for this package.
type Module struct{}

// Register registers both rule tools with the engine.
func (m *Module) Register(r *tool.Registry) {
	r.Register("generate_rules", tool.Func(Generate))
	r.Register("apply_rules", tool.Func(Apply))
}

// Generate derives cleaning rules from earlier findings: a fill_null rule
// when the profile reported null entries, and a clip rule when the anomaly
// scan reported out-of-bounds values.
func Generate(ctx context.Context, args map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("tool", "generate_rules")

	rules := []any{}
	if lookupNum(args, "profile", "nulls") > 0 {
		rules = append(rules, map[string]any{
			"name":   "fill_null",
			"action": "fill",
			"value":  float64(0),
		})
	}
	if lookupNum(args, "anomalies", "count") > 0 {
		low, high := bounds(args["anomaly_bounds"])
		rules = append(rules, map[string]any{
			"name":   "clip",
			"action": "clip",
			"low":    low,
			"high":   high,
		})
	}

	logger.Debug("Generated rules.", "count", len(rules))
	return map[string]any{"rules": rules}, nil
}

// Apply rewrites the data series according to the generated rules: nulls are
// replaced by the fill_null value, and values outside the clip window are
// clamped to it.
func Apply(ctx context.Context, args map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("tool", "apply_rules")

	data, _ := args["data"].([]any)
	ruleList, _ := args["rules"].([]any)

	fillRule := findRule(ruleList, "fill_null")
	clipRule := findRule(ruleList, "clip")

	out := make([]any, 0, len(data))
	for _, v := range data {
		if v == nil {
			if fillRule != nil {
				out = append(out, fillRule["value"])
			} else {
				out = append(out, v)
			}
			continue
		}

		f, ok := num(v)
		if ok && clipRule != nil {
			low, _ := num(clipRule["low"])
			high, _ := num(clipRule["high"])
			if f < low {
				f = low
			}
			if f > high {
				f = high
			}
			out = append(out, f)
			continue
		}
		out = append(out, v)
	}

	logger.Debug("Applied rules.", "rows", len(out), "fill", fillRule != nil, "clip", clipRule != nil)
	return map[string]any{"data": out}, nil
}

func findRule(rules []any, name string) map[string]any {
	for _, r := range rules {
		rule, ok := r.(map[string]any)
		if !ok {
			continue
		}
		if rule["name"] == name {
			return rule
		}
	}
	return nil
}

func lookupNum(args map[string]any, key, field string) float64 {
	section, ok := args[key].(map[string]any)
	if !ok {
		return 0
	}
	f, _ := num(section[field])
	return f
}

func bounds(v any) (float64, float64) {
	pair, ok := v.([]any)
	if !ok || len(pair) != 2 {
		return 0, 100
	}
	low, okLow := num(pair[0])
	high, okHigh := num(pair[1])
	if !okLow || !okHigh {
		return 0, 100
	}
	return low, high
}

func num(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
