package fragment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Value normalization errors.
var (
	errNestedArray  = errors.New("arrays may not contain arrays")
	errMixedArray   = errors.New("array elements must share one type")
	errNestedObject = errors.New("nested objects are not allowed")
	errNotFinite    = errors.New("number must be finite")
	errUnsupported  = errors.New("unsupported value type")
	errNullInArray  = errors.New("arrays may not contain null")
)

// Normalize converts v to its wire form: nil, float64, string, bool, or a
// homogeneous []any of those. time.Time becomes epoch milliseconds.
func Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, err := normalizeScalar(v); err == nil {
		return s, nil
	} else if !errors.Is(err, errUnsupported) {
		return nil, err
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return normalizeArray(rv)
	case reflect.Map, reflect.Struct:
		return nil, errNestedObject
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return Normalize(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("%w: %T", errUnsupported, v)
}

func normalizeArray(rv reflect.Value) ([]any, error) {
	out := make([]any, 0, rv.Len())
	var kind string
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i).Interface()
		if elem == nil {
			return nil, errNullInArray
		}
		s, err := normalizeScalar(elem)
		if err != nil {
			if errors.Is(err, errUnsupported) {
				switch reflect.ValueOf(elem).Kind() {
				case reflect.Slice, reflect.Array:
					return nil, errNestedArray
				case reflect.Map, reflect.Struct:
					return nil, errNestedObject
				}
			}
			return nil, err
		}
		k := scalarKind(s)
		if kind == "" {
			kind = k
		} else if kind != k {
			return nil, errMixedArray
		}
		out = append(out, s)
	}
	return out, nil
}

func normalizeScalar(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return x, nil
	case float64:
		return finite(x)
	case float32:
		return finite(float64(x))
	case int:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, err
		}
		return finite(f)
	case time.Time:
		return float64(x.UnixMilli()), nil
	}
	return nil, errUnsupported
}

func finite(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNotFinite
	}
	return f, nil
}

func scalarKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	default:
		return "number"
	}
}
