package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Aggregator defines the reduce semantics of an aggregate function.
// To add a function: implement this interface and register it in Aggregators.
type Aggregator interface {
	// Initial returns the aggregate after the first value.
	Initial(first decimal.Decimal) decimal.Decimal

	// Apply folds the next value into the aggregate.
	Apply(current, next decimal.Decimal) decimal.Decimal

	// Empty is the result over no values. cty.NullVal means "no result".
	Empty() cty.Value
}

// Aggregators is the registry of aggregate formula functions.
var Aggregators = map[string]Aggregator{
	"count": countAgg{},
	"sum":   sumAgg{},
	"min":   minAgg{},
	"max":   maxAgg{},
}

type countAgg struct{}

func (countAgg) Initial(_ decimal.Decimal) decimal.Decimal    { return decimal.NewFromInt(1) }
func (countAgg) Apply(cur, _ decimal.Decimal) decimal.Decimal { return cur.Add(decimal.NewFromInt(1)) }
func (countAgg) Empty() cty.Value                             { return cty.Zero }

type sumAgg struct{}

func (sumAgg) Initial(v decimal.Decimal) decimal.Decimal      { return v }
func (sumAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal { return cur.Add(inc) }
func (sumAgg) Empty() cty.Value                               { return cty.Zero }

type minAgg struct{}

func (minAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (minAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.LessThan(cur) {
		return inc
	}
	return cur
}
func (minAgg) Empty() cty.Value { return cty.NullVal(cty.Number) }

type maxAgg struct{}

func (maxAgg) Initial(v decimal.Decimal) decimal.Decimal { return v }
func (maxAgg) Apply(cur, inc decimal.Decimal) decimal.Decimal {
	if inc.GreaterThan(cur) {
		return inc
	}
	return cur
}
func (maxAgg) Empty() cty.Value { return cty.NullVal(cty.Number) }

// Functions returns the function table available to every formula.
func Functions() map[string]function.Function {
	funcs := map[string]function.Function{
		"avg":      avgFunc,
		"upper":    stdlib.UpperFunc,
		"lower":    stdlib.LowerFunc,
		"abs":      stdlib.AbsoluteFunc,
		"ceil":     stdlib.CeilFunc,
		"floor":    stdlib.FloorFunc,
		"coalesce": stdlib.CoalesceFunc,
		"length":   stdlib.LengthFunc,
		"join":     stdlib.JoinFunc,
		"format":   stdlib.FormatFunc,
	}
	for name, agg := range Aggregators {
		funcs[name] = aggregateFunc(name, agg)
	}
	return funcs
}

// aggregateFunc builds a variadic function that flattens list arguments,
// skips nulls and folds the remaining numbers with agg. count counts
// non-null values of any type.
func aggregateFunc(name string, agg Aggregator) function.Function {
	_, counting := agg.(countAgg)
	return function.New(&function.Spec{
		Description: fmt.Sprintf("%s of the given numbers or lists of numbers", name),
		VarParam: &function.Parameter{
			Name:             "values",
			Type:             cty.DynamicPseudoType,
			AllowNull:        true,
			AllowDynamicType: true,
		},
		Type: function.StaticReturnType(cty.Number),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			values := flatten(args)
			var (
				acc  decimal.Decimal
				seen bool
			)
			for i, v := range values {
				d := decimal.Zero
				if !counting {
					var err error
					if d, err = numberArg(v); err != nil {
						return cty.NilVal, function.NewArgErrorf(0, "%s: value %d: %s", name, i, err)
					}
				}
				if !seen {
					acc, seen = agg.Initial(d), true
					continue
				}
				acc = agg.Apply(acc, d)
			}
			if !seen {
				return agg.Empty(), nil
			}
			return fromDecimal(acc), nil
		},
	})
}

var avgFunc = function.New(&function.Spec{
	Description: "Arithmetic mean of the given numbers or lists of numbers",
	VarParam: &function.Parameter{
		Name:             "values",
		Type:             cty.DynamicPseudoType,
		AllowNull:        true,
		AllowDynamicType: true,
	},
	Type: function.StaticReturnType(cty.Number),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		values := flatten(args)
		if len(values) == 0 {
			return cty.NullVal(cty.Number), nil
		}
		total := decimal.Zero
		for i, v := range values {
			d, err := numberArg(v)
			if err != nil {
				return cty.NilVal, function.NewArgErrorf(0, "avg: value %d: %s", i, err)
			}
			total = total.Add(d)
		}
		return fromDecimal(total.Div(decimal.NewFromInt(int64(len(values))))), nil
	},
})

// flatten expands lists, tuples and sets one level deep and drops nulls.
func flatten(args []cty.Value) []cty.Value {
	var out []cty.Value
	for _, arg := range args {
		if arg.IsNull() {
			continue
		}
		ty := arg.Type()
		if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
			it := arg.ElementIterator()
			for it.Next() {
				_, elem := it.Element()
				if !elem.IsNull() {
					out = append(out, elem)
				}
			}
			continue
		}
		out = append(out, arg)
	}
	return out
}

func numberArg(v cty.Value) (decimal.Decimal, error) {
	n, err := convert.Convert(v, cty.Number)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a number: %s", v.Type().FriendlyName())
	}
	if n.IsNull() || !n.IsKnown() {
		return decimal.Decimal{}, fmt.Errorf("not a known number")
	}
	return toDecimal(n)
}
