package anomalies

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
	assert.True(t, r.Has("detect_anomalies"))
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("default bounds", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{
			"data": []any{float64(-5), float64(50), float64(250), nil},
		})
		require.NoError(t, err)
		section := out["anomalies"].(map[string]any)
		assert.Equal(t, float64(2), section["count"])
		assert.Equal(t, []any{float64(-5), float64(250)}, section["values"])
	})

	t.Run("explicit bounds", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{
			"data":           []any{float64(5), float64(15)},
			"anomaly_bounds": []any{float64(0), float64(10)},
		})
		require.NoError(t, err)
		section := out["anomalies"].(map[string]any)
		assert.Equal(t, float64(1), section["count"])
		assert.Equal(t, []any{float64(15)}, section["values"])
	})

	t.Run("malformed bounds fall back to default", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{
			"data":           []any{float64(150)},
			"anomaly_bounds": "0..10",
		})
		require.NoError(t, err)
		assert.Equal(t, float64(1), out["anomalies"].(map[string]any)["count"])
	})

	t.Run("reported values are capped, count is not", func(t *testing.T) {
		data := make([]any, 25)
		for i := range data {
			data[i] = float64(1000 + i)
		}
		out, err := Run(ctx, map[string]any{"data": data})
		require.NoError(t, err)
		section := out["anomalies"].(map[string]any)
		assert.Equal(t, float64(25), section["count"])
		assert.Len(t, section["values"], maxReportedValues)
	})

	t.Run("clean series", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{"data": []any{float64(1), float64(2)}})
		require.NoError(t, err)
		section := out["anomalies"].(map[string]any)
		assert.Equal(t, float64(0), section["count"])
		assert.Equal(t, []any{}, section["values"])
	})
}
