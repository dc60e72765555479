package formula

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// numberDigits is the significant-digit budget used when a cty number is
// turned back into a decimal. It absorbs binary rounding noise from
// multiplying by non-dyadic literals such as 1.21.
const numberDigits = 34

// toCty converts a JSON-compatible Go value into a cty value. Values go
// through encoding/json so numbers keep their shortest decimal form.
func toCty(v interface{}) (cty.Value, error) {
	if v == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	raw, err := json.Marshal(jsonSafe(v))
	if err != nil {
		return cty.NilVal, fmt.Errorf("marshal value: %w", err)
	}
	ty, err := ctyjson.ImpliedType(raw)
	if err != nil {
		return cty.NilVal, fmt.Errorf("infer type: %w", err)
	}
	val, err := ctyjson.Unmarshal(raw, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("convert value: %w", err)
	}
	return val, nil
}

// jsonSafe replaces decimals with json.Number so they marshal as numbers.
func jsonSafe(v interface{}) interface{} {
	switch val := v.(type) {
	case decimal.Decimal:
		return json.Number(val.String())
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = jsonSafe(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = jsonSafe(item)
		}
		return out
	default:
		return v
	}
}

// fromCty converts a cty value to its JSON-native Go counterpart. Numbers
// become json.Number in normalised decimal form.
func fromCty(v cty.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is unknown")
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		d, err := toDecimal(v)
		if err != nil {
			return nil, err
		}
		return json.Number(d.String()), nil

	case ty == cty.Bool:
		var b bool
		if err := gocty.FromCtyValue(v, &b); err != nil {
			return nil, fmt.Errorf("convert bool: %w", err)
		}
		return b, nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]interface{}, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil

	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]interface{})
		it := v.ElementIterator()
		for it.Next() {
			key, elem := it.Element()
			native, err := fromCty(elem)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			out[key.AsString()] = native
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported result type %s", ty.FriendlyName())
	}
}

// toDecimal converts a known, non-null cty number.
func toDecimal(v cty.Value) (decimal.Decimal, error) {
	bf := v.AsBigFloat()
	if bf.IsInf() {
		return decimal.Decimal{}, fmt.Errorf("number is infinite")
	}
	d, err := decimal.NewFromString(bf.Text('g', numberDigits))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("convert number: %w", err)
	}
	return d, nil
}

// fromDecimal converts a decimal into an exact cty number.
func fromDecimal(d decimal.Decimal) cty.Value {
	bf, _, err := big.ParseFloat(d.String(), 10, 512, big.ToNearestEven)
	if err != nil {
		return cty.NumberIntVal(d.IntPart())
	}
	return cty.NumberVal(bf)
}
