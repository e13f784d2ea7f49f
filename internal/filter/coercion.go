// internal/filter/coercion.go
package filter

import (
	"encoding/json"
	"math"
	"math/big"
	"reflect"
	"strings"

	"github.com/neo4j/graphql-sub030/internal/schema"
)

/*
 * Type-aware numeric coercion for operator evaluation.
 *
 * Values reach the operators from two decoders: change events decoded with
 * json.Number (full precision) and filters decoded from YAML, gRPC structs or
 * Go literals (int, int64, float64, strings for BigInt). The semantic type of
 * the field picks the comparison mode:
 *
 *   - Int, BigInt: arbitrary-precision integers (math/big), strings accepted
 *   - ID holding a non-string value: arbitrary-precision integers
 *   - Float: native float64
 *   - everything else: exact integers when both sides are integral numbers,
 *     float64 for other numbers, lexical order for strings
 *
 * A value that cannot be coerced under the selected mode falls back to the
 * untyped comparison rather than failing, so a mistyped literal simply does
 * not match.
 */

// compareMode selects how two values are compared.
type compareMode int

const (
	modeAuto compareMode = iota
	modeBigInt
	modeFloat
)

// modeFor picks the comparison mode from the field type and received value.
func modeFor(t schema.ScalarType, received any) compareMode {
	switch {
	case t.Integral():
		return modeBigInt
	case t == schema.TypeID:
		if _, isString := received.(string); isString {
			return modeAuto
		}
		return modeBigInt
	case t == schema.TypeFloat:
		return modeFloat
	default:
		return modeAuto
	}
}

// toBigInt converts integral values to *big.Int. Strings are parsed base 10.
// Floats convert only when finite and integral.
func toBigInt(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		if n == nil {
			return nil, false
		}
		return n, true
	case int:
		return big.NewInt(int64(n)), true
	case int8:
		return big.NewInt(int64(n)), true
	case int16:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	case uint:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case float32:
		return floatToBigInt(float64(n))
	case float64:
		return floatToBigInt(n)
	case json.Number:
		return parseBigInt(string(n))
	case string:
		return parseBigInt(n)
	default:
		return nil, false
	}
}

func parseBigInt(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, ok := new(big.Int).SetString(s, 10); ok {
		return i, true
	}
	// Exponent forms such as "1e3" are integral but not base-10 digits.
	f, _, err := big.ParseFloat(s, 10, 256, big.ToNearestEven)
	if err != nil || !f.IsInt() {
		return nil, false
	}
	i, _ := f.Int(nil)
	return i, true
}

func floatToBigInt(f float64) (*big.Int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return nil, false
	}
	i, _ := big.NewFloat(f).Int(nil)
	return i, true
}

// toFloat64 converts numeric values to float64. Strings are not numbers here.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case *big.Int:
		if n == nil {
			return 0, false
		}
		f, _ := new(big.Float).SetInt(n).Float64()
		return f, true
	default:
		return 0, false
	}
}

// exactInteger converts a numeric (non-string) value to *big.Int when it is
// integral. Used by the untyped mode to keep large identifiers exact.
func exactInteger(v any) (*big.Int, bool) {
	if _, isString := v.(string); isString {
		return nil, false
	}
	if _, isNumeric := toFloat64(v); !isNumeric {
		return nil, false
	}
	return toBigInt(v)
}

// asList converts slices of any element type to []any.
func asList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// []byte is a scalar blob, not a list.
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
