// Package anomalies implements the 'detect_anomalies' tool: out-of-bounds
// detection over the run's data series.
package anomalies

import (
	"context"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/tool"
)

// maxReportedValues caps how many offending values are echoed back into the
// run context; the count always reflects the full series.
const maxReportedValues = 10

// Module implements the tool.Module interface for this package.
type Module struct{}

// Register registers the detect_anomalies tool with the engine.
func (m *Module) Register(r *tool.Registry) {
	r.Register("detect_anomalies", tool.Func(Run))
}

// Run flags every non-null value outside the configured bounds. Bounds come
// from the "anomaly_bounds" entry as a [low, high] pair, defaulting to
// [0, 100].
func Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("tool", "detect_anomalies")

	low, high := bounds(args["anomaly_bounds"])
	data, _ := args["data"].([]any)

	var values []any
	count := 0
	for _, v := range data {
		f, ok := num(v)
		if !ok {
			continue
		}
		if f < low || f > high {
			count++
			if len(values) < maxReportedValues {
				values = append(values, f)
			}
		}
	}
	if values == nil {
		values = []any{}
	}

	logger.Debug("Anomaly scan finished.", "low", low, "high", high, "count", count)
	return map[string]any{
		"anomalies": map[string]any{
			"count":  float64(count),
			"values": values,
		},
	}, nil
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
