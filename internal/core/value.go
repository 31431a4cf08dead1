package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind identifies which member of the variation sum type a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindDocument
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Value is a variation payload. Numbers keep their literal text so that large
// integers survive a round trip without float rounding.
type Value struct {
	kind   Kind
	b      bool
	number json.Number
	s      string
	list   []Value
	doc    map[string]Value
}

func Null() Value { return Value{} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(n int64) Value { return Value{kind: KindNumber, number: json.Number(strconv.FormatInt(n, 10))} }

func Float(f float64) Value {
	return Value{kind: KindNumber, number: json.Number(strconv.FormatFloat(f, 'g', -1, 64))}
}

func List(items ...Value) Value { return Value{kind: KindList, list: items} }

func Document(fields map[string]Value) Value { return Value{kind: KindDocument, doc: fields} }

// ValueOf converts a plain Go value, as produced by encoding/json or yaml.v3
// decoding, into a Value. Unknown types are round-tripped through JSON.
func ValueOf(v any) (Value, error) {
	switch typed := v.(type) {
	case nil:
		return Null(), nil
	case Value:
		return typed, nil
	case bool:
		return Bool(typed), nil
	case string:
		return String(typed), nil
	case json.Number:
		return Value{kind: KindNumber, number: typed}, nil
	case int:
		return Int(int64(typed)), nil
	case int32:
		return Int(int64(typed)), nil
	case int64:
		return Int(typed), nil
	case uint64:
		return Value{kind: KindNumber, number: json.Number(strconv.FormatUint(typed, 10))}, nil
	case float32:
		return Float(float64(typed)), nil
	case float64:
		return Float(typed), nil
	case []any:
		items := make([]Value, 0, len(typed))
		for _, item := range typed {
			converted, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for key, item := range typed {
			converted, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = converted
		}
		return Document(fields), nil
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return Value{}, fmt.Errorf("convert %T to variation value: %w", v, err)
		}
		var out Value
		if err := json.Unmarshal(payload, &out); err != nil {
			return Value{}, err
		}
		return out, nil
	}
}

func (v Value) Kind() Kind { return v.kind }

// Text returns the textual form used for scalar conversions and attribute
// comparisons. Lists and documents render as JSON.
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.number.String()
	case KindString:
		return v.s
	default:
		payload, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(payload)
	}
}

// Interface returns the value as plain Go data in encoding/json's shapes.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if f, err := v.number.Float64(); err == nil {
			return f
		}
		return v.number
	case KindString:
		return v.s
	case KindList:
		items := make([]any, 0, len(v.list))
		for _, item := range v.list {
			items = append(items, item.Interface())
		}
		return items
	case KindDocument:
		fields := make(map[string]any, len(v.doc))
		for key, item := range v.doc {
			fields[key] = item.Interface()
		}
		return fields
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return []byte(v.number.String()), nil
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		return json.Marshal(items)
	case KindDocument:
		keys := make([]string, 0, len(v.doc))
		for key := range v.doc {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			name, err := json.Marshal(key)
			if err != nil {
				return nil, err
			}
			item, err := v.doc[key].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(name)
			buf.WriteByte(':')
			buf.Write(item)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("marshal variation value: unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var raw any
	if err := decoder.Decode(&raw); err != nil {
		return fmt.Errorf("decode variation value: %w", err)
	}

	converted, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	if v.kind == KindNumber {
		if i, err := v.number.Int64(); err == nil {
			return i, nil
		}
		if f, err := v.number.Float64(); err == nil && !math.IsInf(f, 0) {
			return f, nil
		}
	}
	return v.Interface(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("decode variation value: %w", err)
	}

	converted, err := ValueOf(normalizeYAML(raw))
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// normalizeYAML rewrites yaml.v3's map[any]any nodes (non-string keys) into
// map[string]any so they fit the document kind.
func normalizeYAML(raw any) any {
	switch typed := raw.(type) {
	case map[string]any:
		for key, item := range typed {
			typed[key] = normalizeYAML(item)
		}
		return typed
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range typed {
			typed[i] = normalizeYAML(item)
		}
		return typed
	default:
		return raw
	}
}
