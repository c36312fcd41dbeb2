package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/flowgridgo/internal/tool"
)

func TestRegister(t *testing.T) {
	r := tool.New()
	(&Module{}).Register(r)
	assert.True(t, r.Has("generate_rules"))
	assert.True(t, r.Has("apply_rules"))
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("both findings produce both rules", func(t *testing.T) {
		out, err := Generate(ctx, map[string]any{
			"profile":        map[string]any{"nulls": float64(1)},
			"anomalies":      map[string]any{"count": float64(2)},
			"anomaly_bounds": []any{float64(0), float64(10)},
		})
		require.NoError(t, err)

		ruleList := out["rules"].([]any)
		require.Len(t, ruleList, 2)

		fill := ruleList[0].(map[string]any)
		assert.Equal(t, "fill_null", fill["name"])
		assert.Equal(t, float64(0), fill["value"])

		clip := ruleList[1].(map[string]any)
		assert.Equal(t, "clip", clip["name"])
		assert.Equal(t, float64(0), clip["low"])
		assert.Equal(t, float64(10), clip["high"])
	})

	t.Run("clean findings produce no rules", func(t *testing.T) {
		out, err := Generate(ctx, map[string]any{
			"profile":   map[string]any{"nulls": float64(0)},
			"anomalies": map[string]any{"count": float64(0)},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{}, out["rules"])
	})

	t.Run("missing findings produce no rules", func(t *testing.T) {
		out, err := Generate(ctx, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, []any{}, out["rules"])
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	fillRule := map[string]any{"name": "fill_null", "action": "fill", "value": float64(0)}
	clipRule := map[string]any{"name": "clip", "action": "clip", "low": float64(0), "high": float64(100)}

	t.Run("fills and clamps", func(t *testing.T) {
		out, err := Apply(ctx, map[string]any{
			"data":  []any{float64(1), nil, float64(250), float64(-3)},
			"rules": []any{fillRule, clipRule},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{float64(1), float64(0), float64(100), float64(0)}, out["data"])
	})

	t.Run("no rules leaves data untouched", func(t *testing.T) {
		out, err := Apply(ctx, map[string]any{
			"data":  []any{float64(1), nil, float64(250)},
			"rules": []any{},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{float64(1), nil, float64(250)}, out["data"])
	})

	t.Run("clip only leaves nulls in place", func(t *testing.T) {
		out, err := Apply(ctx, map[string]any{
			"data":  []any{nil, float64(500)},
			"rules": []any{clipRule},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{nil, float64(100)}, out["data"])
	})

	t.Run("non-numeric values pass through", func(t *testing.T) {
		out, err := Apply(ctx, map[string]any{
			"data":  []any{"label", float64(500)},
			"rules": []any{clipRule},
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"label", float64(100)}, out["data"])
	})
}
