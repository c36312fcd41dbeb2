package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestCompile(t *testing.T) {
	t.Run("valid expression", func(t *testing.T) {
		p, err := Compile("anomalies.count > 0")
		require.NoError(t, err)
		assert.Equal(t, "anomalies.count > 0", p.Source())
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := Compile("anomalies.count >")
		assert.Error(t, err)
	})
}

func TestPredicateEval(t *testing.T) {
	runContext := map[string]any{
		"anomalies": map[string]any{"count": float64(2)},
		"profile":   map[string]any{"rows": float64(10), "nulls": float64(0)},
		"label":     "clean",
		"ready":     true,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"greater than true", "anomalies.count > 0", true},
		{"greater than false", "anomalies.count > 5", false},
		{"equality on zero", "profile.nulls == 0", true},
		{"inequality", "profile.rows != 10", false},
		{"string comparison", `label == "clean"`, true},
		{"bare bool variable", "ready", true},
		{"conjunction", "anomalies.count > 0 && profile.rows >= 10", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.expr)
			require.NoError(t, err)
			got, err := p.Eval(Variables(runContext))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("missing variable is an error", func(t *testing.T) {
		p, err := Compile("missing.count > 0")
		require.NoError(t, err)
		_, err = p.Eval(Variables(runContext))
		assert.Error(t, err)
	})

	t.Run("non-boolean result is an error", func(t *testing.T) {
		p, err := Compile("profile.rows + 1")
		require.NoError(t, err)
		_, err = p.Eval(Variables(runContext))
		assert.Error(t, err)
	})
}

func TestWithIteration(t *testing.T) {
	p, err := Compile("iteration >= 3")
	require.NoError(t, err)

	got, err := p.Eval(WithIteration(map[string]any{}, 2))
	require.NoError(t, err)
	assert.False(t, got)

	got, err = p.Eval(WithIteration(map[string]any{}, 3))
	require.NoError(t, err)
	assert.True(t, got)
}

func TestToCty(t *testing.T) {
	t.Run("nested structures", func(t *testing.T) {
		v := ToCty(map[string]any{
			"nums": []any{float64(1), float64(2)},
			"meta": map[string]any{"ok": true},
		})
		require.True(t, v.Type().IsObjectType())
		assert.True(t, v.GetAttr("meta").GetAttr("ok").True())
	})

	t.Run("empty collections", func(t *testing.T) {
		assert.Equal(t, cty.EmptyTupleVal, ToCty([]any{}))
		assert.Equal(t, cty.EmptyObjectVal, ToCty(map[string]any{}))
	})

	t.Run("nil is null", func(t *testing.T) {
		assert.True(t, ToCty(nil).IsNull())
	})
}

func TestFromCtyRoundTrip(t *testing.T) {
	original := map[string]any{
		"name":  "series",
		"count": float64(3),
		"flags": []any{true, false},
		"inner": map[string]any{"low": float64(0), "high": float64(100)},
	}

	back, err := FromCty(ToCty(original))
	require.NoError(t, err)
	assert.Equal(t, original, back)
}
