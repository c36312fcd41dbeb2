// Package profile implements the 'profile' tool: basic shape statistics over
// the run's data series.
package profile

import (
	"context"

	"github.com/vk/flowgridgo/internal/ctxlog"
	"github.com/vk/flowgridgo/internal/tool"
)

// Module implements the tool.Module interface for this package.
type Module struct{}

// Register registers the profile tool with the engine.
func (m *Module) Register(r *tool.Registry) {
	r.Register("profile", tool.Func(Run))
}

// Run counts rows and null entries in the "data" series and publishes the
// result under the "profile" context key.
func Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	logger := ctxlog.FromContext(ctx).With("tool", "profile")

	data, _ := args["data"].([]any)
	nulls := 0
	for _, v := range data {
		if v == nil {
			nulls++
		}
	}

	logger.Debug("Profiled data series.", "rows", len(data), "nulls", nulls)
	return map[string]any{
		"profile": map[string]any{
			"rows":  float64(len(data)),
			"nulls": float64(nulls),
		},
	}, nil
}
