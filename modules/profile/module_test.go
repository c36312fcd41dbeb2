package profile

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
	assert.True(t, r.Has("profile"))
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("counts rows and nulls", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{
			"data": []any{float64(1), nil, float64(250), nil},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"profile": map[string]any{"rows": float64(4), "nulls": float64(2)},
		}, out)
	})

	t.Run("missing data series", func(t *testing.T) {
		out, err := Run(ctx, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"profile": map[string]any{"rows": float64(0), "nulls": float64(0)},
		}, out)
	})
}
