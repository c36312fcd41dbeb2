package condition

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// Variables builds the evaluation scope for a predicate from the run context.
// Each top-level context key becomes a variable, so an expression can write
// "anomalies.count > 0" against a context entry {"anomalies": {"count": 2}}.
func Variables(runContext map[string]any) map[string]cty.Value {
	vars := make(map[string]cty.Value, len(runContext))
	for k, v := range runContext {
		vars[k] = ToCty(v)
	}
	return vars
}

// WithIteration returns the variable scope extended with the current
// iteration count of the active node, exposed as "iteration".
func WithIteration(runContext map[string]any, iteration int) map[string]cty.Value {
	vars := Variables(runContext)
	vars["iteration"] = cty.NumberIntVal(int64(iteration))
	return vars
}

// ToCty converts a JSON-shaped Go value into a cty.Value for expression
// evaluation. Values outside the JSON type set map to null rather than
// failing the whole evaluation context.
func ToCty(v any) cty.Value {
	switch t := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case bool:
		return cty.BoolVal(t)
	case string:
		return cty.StringVal(t)
	case int:
		return cty.NumberIntVal(int64(t))
	case int64:
		return cty.NumberIntVal(t)
	case float64:
		return cty.NumberFloatVal(t)
	case []any:
		if len(t) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, len(t))
		for i, e := range t {
			elems[i] = ToCty(e)
		}
		return cty.TupleVal(elems)
	case map[string]any:
		if len(t) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(t))
		for k, e := range t {
			attrs[k] = ToCty(e)
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}

// FromCty converts a cty.Value back into a JSON-shaped Go value. Numbers
// always come back as float64 so that values behave identically whether they
// arrived through the HTTP surface, an HCL file, or a persisted snapshot.
func FromCty(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("cannot convert unknown value")
	}

	ty := v.Type()
	switch {
	case ty == cty.Bool:
		return v.True(), nil
	case ty == cty.String:
		return v.AsString(), nil
	case ty == cty.Number:
		f, _ := v.AsBigFloat().Float64()
		return f, nil
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			converted, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return out, nil
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			converted, err := FromCty(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
	}
}
