// Package expression evaluates HCL expressions against resolved inputs
// and resource instance data.
package expression

import (
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// unknownValue is the Go-side sentinel for a value that cannot be known
// until apply time, such as an output of a resource that does not exist
// yet. It compares unequal to every recorded value, so a plan over an
// unknown attribute conservatively produces an update.
type unknownValue struct{}

func (unknownValue) String() string { return "(known after apply)" }

// Unknown is the sentinel placed in attribute maps for values that
// depend on not-yet-applied resources.
var Unknown = unknownValue{}

// IsUnknown reports whether the given Go value is the unknown sentinel.
func IsUnknown(v interface{}) bool {
	_, ok := v.(unknownValue)
	return ok
}

// ContainsUnknown reports whether v or anything nested inside it is the
// unknown sentinel.
func ContainsUnknown(v interface{}) bool {
	switch val := v.(type) {
	case unknownValue:
		return true
	case []interface{}:
		for _, elem := range val {
			if ContainsUnknown(elem) {
				return true
			}
		}
	case map[string]interface{}:
		for _, elem := range val {
			if ContainsUnknown(elem) {
				return true
			}
		}
	}
	return false
}

// CtyToGo converts a cty value into plain Go values suitable for JSON
// encoding and plan comparison. Numbers become float64 so values survive
// a JSON round trip unchanged. Unknown values become the Unknown
// sentinel.
func CtyToGo(val cty.Value) interface{} {
	if !val.IsKnown() {
		return Unknown
	}
	if val.IsNull() {
		return nil
	}

	ty := val.Type()
	switch {
	case ty == cty.Bool:
		return val.True()
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		return f
	case ty == cty.String:
		return val.AsString()
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		out := make([]interface{}, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			out = append(out, CtyToGo(elem))
		}
		return out
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]interface{})
		for it := val.ElementIterator(); it.Next(); {
			k, elem := it.Element()
			out[k.AsString()] = CtyToGo(elem)
		}
		return out
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GoToCty converts plain Go values into cty values. The Unknown sentinel
// becomes an unknown value of dynamic type.
func GoToCty(v interface{}) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case unknownValue:
		return cty.UnknownVal(cty.DynamicPseudoType)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	case string:
		return cty.StringVal(val)
	case []interface{}:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		elems := make([]cty.Value, 0, len(val))
		for _, elem := range val {
			elems = append(elems, GoToCty(elem))
		}
		return cty.TupleVal(elems)
	case map[string]interface{}:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		attrs := make(map[string]cty.Value, len(val))
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs[k] = GoToCty(val[k])
		}
		return cty.ObjectVal(attrs)
	default:
		return cty.StringVal(fmt.Sprintf("%v", v))
	}
}
