package condition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Predicate is a compiled boolean expression over run context variables.
type Predicate struct {
	src  string
	expr hcl.Expression
}

// Compile parses the expression source into a reusable Predicate.
func Compile(src string) (*Predicate, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "<condition>", hcl.InitialPos)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse condition %q: %w", src, diags)
	}
	return &Predicate{src: src, expr: expr}, nil
}

// Source returns the original expression text.
func (p *Predicate) Source() string {
	return p.src
}

// Eval evaluates the predicate against the given variables. The result must
// be convertible to bool. References to variables absent from the run context
// surface as an error; callers decide whether that means "not satisfied".
func (p *Predicate) Eval(vars map[string]cty.Value) (bool, error) {
	val, diags := p.expr.Value(&hcl.EvalContext{Variables: vars})
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluate condition %q: %w", p.src, diags)
	}

	boolVal, err := convert.Convert(val, cty.Bool)
	if err != nil {
		return false, fmt.Errorf("condition %q is not boolean: %w", p.src, err)
	}
	if boolVal.IsNull() {
		return false, fmt.Errorf("condition %q evaluated to null", p.src)
	}
	return boolVal.True(), nil
}
