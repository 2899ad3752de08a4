package expression

import (
	"reflect"
	"testing"

	"github.com/zclconf/go-cty/cty"
)

func TestCtyToGoScalars(t *testing.T) {
	tests := []struct {
		name string
		in   cty.Value
		want interface{}
	}{
		{"string", cty.StringVal("hello"), "hello"},
		{"number", cty.NumberIntVal(42), float64(42)},
		{"float", cty.NumberFloatVal(1.5), 1.5},
		{"bool", cty.BoolVal(true), true},
		{"null", cty.NullVal(cty.String), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CtyToGo(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CtyToGo: got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCtyToGoUnknownBecomesSentinel(t *testing.T) {
	got := CtyToGo(cty.UnknownVal(cty.String))
	if !IsUnknown(got) {
		t.Errorf("unknown value: got %#v", got)
	}
}

func TestCtyToGoCollections(t *testing.T) {
	val := cty.ObjectVal(map[string]cty.Value{
		"names": cty.TupleVal([]cty.Value{cty.StringVal("a"), cty.StringVal("b")}),
		"size":  cty.NumberIntVal(3),
	})
	got := CtyToGo(val)
	want := map[string]interface{}{
		"names": []interface{}{"a", "b"},
		"size":  float64(3),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CtyToGo: got %#v, want %#v", got, want)
	}
}

func TestGoToCtyRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"name":    "vpc",
		"count":   float64(2),
		"enabled": true,
		"tags":    []interface{}{"a", "b"},
	}
	out := CtyToGo(GoToCty(in))
	if !reflect.DeepEqual(in, out) {
		t.Errorf("round trip: got %#v, want %#v", out, in)
	}
}

func TestGoToCtyUnknownSentinel(t *testing.T) {
	val := GoToCty(Unknown)
	if val.IsKnown() {
		t.Error("sentinel converted to a known value")
	}
}

func TestContainsUnknown(t *testing.T) {
	if ContainsUnknown("plain") {
		t.Error("plain string reported unknown")
	}
	if !ContainsUnknown(Unknown) {
		t.Error("sentinel not reported unknown")
	}
	if !ContainsUnknown([]interface{}{"a", Unknown}) {
		t.Error("nested sentinel in slice not reported")
	}
	if !ContainsUnknown(map[string]interface{}{"a": map[string]interface{}{"b": Unknown}}) {
		t.Error("deeply nested sentinel not reported")
	}
}
