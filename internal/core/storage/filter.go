package storage

import (
	"fmt"
	"strconv"

	v1 "github.com/aevon-lab/recalc/internal/api/v1"
	"github.com/shopspring/decimal"
)

// Matches reports whether rec satisfies the filter.
func (f Filter) Matches(rec v1.Record) bool {
	if rec.ModelKey != f.ModelKey {
		return false
	}
	if f.Field == "" {
		return true
	}
	v, ok := rec.Get(f.Field)
	if !ok {
		return false
	}
	return ContainsAny(v, ValueSet(f.Values))
}

// ValueSet builds a lookup set from a list of identifier strings.
func ValueSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

// ContainsAny reports whether v, or any element of v when it is a list,
// stringifies to a member of set.
func ContainsAny(v interface{}, set map[string]struct{}) bool {
	if list, ok := v.([]interface{}); ok {
		for _, item := range list {
			if ContainsAny(item, set) {
				return true
			}
		}
		return false
	}
	if list, ok := v.([]string); ok {
		for _, item := range list {
			if _, hit := set[item]; hit {
				return true
			}
		}
		return false
	}
	s, ok := IdentifierString(v)
	if !ok {
		return false
	}
	_, hit := set[s]
	return hit
}

// IdentifierString renders a scalar document value the way identifiers are
// compared: strings as-is, numbers without trailing zeros, booleans as
// true/false. Lists, maps and nil have no identifier form.
func IdentifierString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case float64:
		return decimal.NewFromFloat(val).String(), true
	case float32:
		return decimal.NewFromFloat32(val).String(), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case bool:
		return strconv.FormatBool(val), true
	case decimal.Decimal:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}

// IdentifierStrings collects the identifier forms of a field value: one entry
// for a scalar, one per element for a list.
func IdentifierStrings(v interface{}) []string {
	switch val := v.(type) {
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := IdentifierString(item); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		if s, ok := IdentifierString(v); ok {
			return []string{s}
		}
		return nil
	}
}
