package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

var ErrUnsupportedConversion = errors.New("unsupported variation conversion")

var valueType = reflect.TypeOf(Value{})

// Convert coerces a variation payload into T. Exact Go type matches are
// returned as-is, scalar targets are parsed from the payload's textual form,
// and anything else is decoded structurally through JSON.
func Convert[T any](v Value) (T, error) {
	var out T

	if direct, ok := v.Interface().(T); ok {
		return direct, nil
	}

	target := reflect.ValueOf(&out).Elem()
	if target.Type() == valueType {
		target.Set(reflect.ValueOf(v))
		return out, nil
	}

	if v.kind == KindNull {
		return out, fmt.Errorf("%w: null to %s", ErrUnsupportedConversion, target.Type())
	}

	if err := convertScalar(v, target); err != nil {
		if !errors.Is(err, errNotScalar) {
			return out, err
		}
		if err := convertStructural(v, &out); err != nil {
			return out, err
		}
	}

	return out, nil
}

var errNotScalar = errors.New("not a scalar target")

func convertScalar(v Value, target reflect.Value) error {
	text := strings.TrimSpace(v.Text())
	if target.Kind() == reflect.String {
		text = v.Text()
	}

	switch target.Kind() {
	case reflect.String:
		target.SetString(text)
	case reflect.Bool:
		parsed, err := strconv.ParseBool(text)
		if err != nil {
			return fmt.Errorf("%w: %q to %s: %v", ErrUnsupportedConversion, text, target.Type(), err)
		}
		target.SetBool(parsed)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		parsed, err := parseInt(text, target.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q to %s: %v", ErrUnsupportedConversion, text, target.Type(), err)
		}
		target.SetInt(parsed)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		parsed, err := parseUint(text, target.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q to %s: %v", ErrUnsupportedConversion, text, target.Type(), err)
		}
		target.SetUint(parsed)
	case reflect.Float32, reflect.Float64:
		parsed, err := strconv.ParseFloat(text, target.Type().Bits())
		if err != nil {
			return fmt.Errorf("%w: %q to %s: %v", ErrUnsupportedConversion, text, target.Type(), err)
		}
		target.SetFloat(parsed)
	default:
		return errNotScalar
	}

	return nil
}

// parseInt accepts integer literals and whole-valued float literals such as
// "3.0" or "1e3".
func parseInt(text string, bits int) (int64, error) {
	parsed, err := strconv.ParseInt(text, 10, bits)
	if err == nil {
		return parsed, nil
	}

	f, ferr := strconv.ParseFloat(text, 64)
	if ferr != nil || !isWholeFinite(f) {
		return 0, err
	}
	limit := math.Ldexp(1, bits-1)
	if f < -limit || f >= limit {
		return 0, err
	}
	return int64(f), nil
}

func parseUint(text string, bits int) (uint64, error) {
	parsed, err := strconv.ParseUint(text, 10, bits)
	if err == nil {
		return parsed, nil
	}

	f, ferr := strconv.ParseFloat(text, 64)
	if ferr != nil || !isWholeFinite(f) || f < 0 || f >= math.Ldexp(1, bits) {
		return 0, err
	}
	return uint64(f), nil
}

func convertStructural(v Value, out any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", ErrUnsupportedConversion, v.kind, err)
	}

	// String payloads holding JSON documents decode as the document itself.
	if v.kind == KindString {
		trimmed := strings.TrimSpace(v.s)
		if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
			payload = []byte(trimmed)
		}
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: %s to %T: %v", ErrUnsupportedConversion, v.kind, out, err)
	}
	return nil
}

func isWholeFinite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0) && math.Trunc(value) == value
}

// ConvertKind coerces v into a Value of the given kind using the same rules
// as Convert. Null always fails.
func ConvertKind(v Value, kind Kind) (Value, error) {
	switch kind {
	case KindBool:
		b, err := Convert[bool](v)
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case KindNumber:
		if n, err := Convert[int64](v); err == nil {
			return Int(n), nil
		}
		f, err := Convert[float64](v)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case KindString:
		s, err := Convert[string](v)
		if err != nil {
			return Value{}, err
		}
		return String(s), nil
	case KindList:
		items, err := Convert[[]any](v)
		if err != nil {
			return Value{}, err
		}
		return ValueOf(items)
	case KindDocument:
		fields, err := Convert[map[string]any](v)
		if err != nil {
			return Value{}, err
		}
		return ValueOf(fields)
	default:
		return Value{}, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, v.kind, kind)
	}
}
