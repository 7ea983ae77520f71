package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/spf13/cast"

	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// errCoercion marks a value that could not be converted to a primitive kind.
// Setters swallow it; everything else is structural and surfaces.
var errCoercion = errors.New("value cannot be coerced")

// coerce converts v to the stored representation for one element of p:
// float64, string, bool, time.Time (UTC), or *Object.
func coerce(p Property, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch p.Kind {
	case KindNumber:
		if t, ok := v.(time.Time); ok {
			return float64(t.UnixMilli()), nil
		}
		f, err := cast.ToFloat64E(v)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: bad number for %q", errCoercion, p.Name)
		}
		return f, nil
	case KindString:
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad string for %q", errCoercion, p.Name)
		}
		return s, nil
	case KindBoolean:
		b, err := cast.ToBoolE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad boolean for %q", errCoercion, p.Name)
		}
		return b, nil
	case KindDate:
		t, err := toDate(v)
		if err != nil {
			return nil, fmt.Errorf("%w: bad date for %q", errCoercion, p.Name)
		}
		return t, nil
	case KindObject:
		o, ok := v.(*Object)
		if !ok {
			return nil, types.ErrPropertyTypeMismatch.Withf("%q expects %s, got %T", p.Name, p.TypeName, v)
		}
		if o == nil {
			return nil, nil
		}
		if !o.typ.IsA(p.TypeName) {
			return nil, types.ErrPropertyTypeMismatch.Withf("%q expects %s, got %s", p.Name, p.TypeName, o.typ.name)
		}
		return o, nil
	}
	return nil, types.ErrPropertyTypeMismatch.Withf("%q has unknown kind", p.Name)
}

// toDate interprets numbers as epoch milliseconds and strings with cast's
// date parser.
func toDate(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case string:
		t, err := cast.ToTimeE(x)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	case bool:
		return time.Time{}, errCoercion
	}
	ms, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, errCoercion
	}
	return time.UnixMilli(int64(ms)).UTC(), nil
}

// validateWire checks a fragment value strictly against a non-reference
// property and returns the value to store. Unlike coerce it never converts
// between kinds.
func validateWire(p Property, v any) (any, error) {
	if p.Collection {
		arr, ok := v.([]any)
		if !ok {
			return nil, types.ErrPropertyValidationFailed.Withf("%q expects an array of %s", p.Name, p.Kind)
		}
		out := make([]any, 0, len(arr))
		for _, e := range arr {
			if e == nil {
				return nil, types.ErrPropertyValidationFailed.Withf("%q contains null", p.Name)
			}
			ev, err := validateWireScalar(p, e)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		return out, nil
	}
	if v == nil {
		return nil, nil
	}
	return validateWireScalar(p, v)
}

func validateWireScalar(p Property, v any) (any, error) {
	ok := false
	switch p.Kind {
	case KindNumber:
		f, isNum := v.(float64)
		ok = isNum && !math.IsNaN(f) && !math.IsInf(f, 0)
	case KindString:
		_, ok = v.(string)
	case KindBoolean:
		_, ok = v.(bool)
	case KindDate:
		switch v.(type) {
		case float64, string:
			t, err := toDate(v)
			if err == nil {
				return t, nil
			}
		}
	}
	if !ok {
		return nil, types.ErrPropertyValidationFailed.Withf("%q should be %s, got %T", p.Name, p.Kind, v)
	}
	return v, nil
}
