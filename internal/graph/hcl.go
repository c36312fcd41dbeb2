package graph

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/flowgridgo/internal/condition"
)

// hclFile is the top-level structure of a graph definition file. One file may
// declare several graphs.
type hclFile struct {
	Graphs []*hclGraph `hcl:"graph,block"`
}

type hclGraph struct {
	Name  string     `hcl:"name,label"`
	Start string     `hcl:"start"`
	Nodes []*hclNode `hcl:"node,block"`
	Edges []*hclEdge `hcl:"edge,block"`
}

type hclNode struct {
	ID     string         `hcl:"id,label"`
	Tool   string         `hcl:"tool"`
	Params hcl.Expression `hcl:"params,optional"`
	Loop   *hclLoop       `hcl:"loop,block"`
	Retry  *hclRetry      `hcl:"retry,block"`
}

type hclLoop struct {
	MaxIterations int    `hcl:"max_iterations,optional"`
	Until         string `hcl:"until,optional"`
}

type hclRetry struct {
	MaxRetries int `hcl:"max_retries"`
}

type hclEdge struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
	When string `hcl:"when,optional"`
}

// DecodeHCLFile parses one .hcl graph definition file into validated graphs.
func DecodeHCLFile(path string) ([]*Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse graph file %s: %w", path, diags)
	}
	return decodeHCLBody(file.Body, path)
}

// DecodeHCL parses graph definitions from raw HCL source, used by tests.
func DecodeHCL(src []byte, filename string) ([]*Graph, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse graph source %s: %w", filename, diags)
	}
	return decodeHCLBody(file.Body, filename)
}

func decodeHCLBody(body hcl.Body, filename string) ([]*Graph, error) {
	var f hclFile
	if diags := gohcl.DecodeBody(body, nil, &f); diags.HasErrors() {
		return nil, fmt.Errorf("decode graph file %s: %w", filename, diags)
	}

	graphs := make([]*Graph, 0, len(f.Graphs))
	for _, hg := range f.Graphs {
		g, err := hg.toGraph()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func (hg *hclGraph) toGraph() (*Graph, error) {
	g := &Graph{
		ID:        hg.Name,
		StartNode: hg.Start,
		Nodes:     make(map[string]*Node, len(hg.Nodes)),
	}

	for _, hn := range hg.Nodes {
		params, err := decodeParams(hn.Params, hn.ID)
		if err != nil {
			return nil, err
		}
		n := &Node{ID: hn.ID, Tool: hn.Tool, Params: params}
		if hn.Loop != nil {
			n.Loop = &LoopConfig{MaxIterations: hn.Loop.MaxIterations, Until: hn.Loop.Until}
		}
		if hn.Retry != nil {
			n.Retry = &RetryConfig{MaxRetries: hn.Retry.MaxRetries}
		}
		if _, exists := g.Nodes[hn.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node id %q in graph %q", ErrValidation, hn.ID, hg.Name)
		}
		g.Nodes[hn.ID] = n
	}

	for _, he := range hg.Edges {
		g.Edges = append(g.Edges, Edge{From: he.From, To: he.To, When: he.When})
	}
	return g, nil
}

// decodeParams evaluates the params expression to a constant object. Params
// may not reference run context; they are fixed per-node configuration.
func decodeParams(expr hcl.Expression, nodeID string) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, fmt.Errorf("%w: node %q params: %v", ErrValidation, nodeID, diags)
	}
	if val.IsNull() {
		return nil, nil
	}

	converted, err := condition.FromCty(val)
	if err != nil {
		return nil, fmt.Errorf("%w: node %q params: %v", ErrValidation, nodeID, err)
	}
	params, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: node %q params must be an object", ErrValidation, nodeID)
	}
	return params, nil
}
