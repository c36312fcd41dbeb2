package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pipelineHCL = `
graph "data_quality" {
  start = "profile_step"

  node "profile_step" {
    tool = "profile"
  }

  node "anomaly_step" {
    tool   = "detect_anomalies"
    params = { anomaly_bounds = [0, 100] }
  }

  node "rule_step" {
    tool = "generate_rules"
    loop {
      max_iterations = 5
      until          = "anomalies.count == 0"
    }
    retry {
      max_retries = 2
    }
  }

  edge {
    from = "profile_step"
    to   = "anomaly_step"
  }

  edge {
    from = "anomaly_step"
    to   = "rule_step"
    when = "anomalies.count > 0"
  }
}
`

func TestDecodeHCL(t *testing.T) {
	t.Run("full graph", func(t *testing.T) {
		graphs, err := DecodeHCL([]byte(pipelineHCL), "pipeline.hcl")
		require.NoError(t, err)
		require.Len(t, graphs, 1)

		g := graphs[0]
		assert.Equal(t, "data_quality", g.ID)
		assert.Equal(t, "profile_step", g.StartNode)
		require.Len(t, g.Nodes, 3)
		require.Len(t, g.Edges, 2)

		anomaly := g.Nodes["anomaly_step"]
		require.NotNil(t, anomaly)
		assert.Equal(t, "detect_anomalies", anomaly.Tool)
		assert.Equal(t, map[string]any{
			"anomaly_bounds": []any{float64(0), float64(100)},
		}, anomaly.Params)

		rule := g.Nodes["rule_step"]
		require.NotNil(t, rule.Loop)
		assert.Equal(t, 5, rule.Loop.MaxIterations)
		assert.Equal(t, "anomalies.count == 0", rule.Loop.Until)
		require.NotNil(t, rule.Retry)
		assert.Equal(t, 2, rule.Retry.MaxRetries)

		assert.Equal(t, "anomalies.count > 0", g.Edges[1].When)
	})

	t.Run("multiple graphs in one file", func(t *testing.T) {
		src := `
graph "first" {
  start = "a"
  node "a" { tool = "profile" }
}
graph "second" {
  start = "b"
  node "b" { tool = "profile" }
}
`
		graphs, err := DecodeHCL([]byte(src), "multi.hcl")
		require.NoError(t, err)
		require.Len(t, graphs, 2)
		assert.Equal(t, "first", graphs[0].ID)
		assert.Equal(t, "second", graphs[1].ID)
	})

	t.Run("syntax error", func(t *testing.T) {
		_, err := DecodeHCL([]byte(`graph "broken" {`), "broken.hcl")
		assert.Error(t, err)
	})

	t.Run("duplicate node id", func(t *testing.T) {
		src := `
graph "dup" {
  start = "a"
  node "a" { tool = "profile" }
  node "a" { tool = "profile" }
}
`
		_, err := DecodeHCL([]byte(src), "dup.hcl")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("params referencing variables are rejected", func(t *testing.T) {
		src := `
graph "bad_params" {
  start = "a"
  node "a" {
    tool   = "profile"
    params = { limit = profile.rows }
  }
}
`
		_, err := DecodeHCL([]byte(src), "bad_params.hcl")
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("invalid graph fails validation", func(t *testing.T) {
		src := `
graph "dangling" {
  start = "missing"
  node "a" { tool = "profile" }
}
`
		_, err := DecodeHCL([]byte(src), "dangling.hcl")
		assert.ErrorIs(t, err, ErrValidation)
	})
}

func TestDecodeHCLFile(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := DecodeHCLFile("does-not-exist.hcl")
		assert.Error(t, err)
	})
}
