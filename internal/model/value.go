package model

import (
	"encoding/json"
	"fmt"
)

// ValueKind discriminates the attribute value union.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindLiteral
	KindList
	KindMap
	KindRef
	KindSecret
)

// Value is one attribute value: a literal scalar, a list, a map, a typed
// reference at another resource's output, or a secret token. References are
// explicit tokens, never string interpolation.
type Value struct {
	kind    ValueKind
	literal any
	list    []Value
	mapv    map[string]Value
	ref     *Reference
	secret  *SecretRef
}

func Null() Value                    { return Value{kind: KindNull} }
func Literal(v any) Value            { return Value{kind: KindLiteral, literal: v} }
func List(vs ...Value) Value         { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value   { return Value{kind: KindMap, mapv: m} }
func Ref(target ResourceID, path string) Value {
	return Value{kind: KindRef, ref: &Reference{Target: target, OutputPath: path}}
}
func Secret(path, key string) Value {
	return Value{kind: KindSecret, secret: &SecretRef{Path: path, Key: key}}
}

func (v Value) Kind() ValueKind { return v.kind }

// AsLiteral returns the literal payload; nil for other kinds.
func (v Value) AsLiteral() any { return v.literal }

// AsList returns the list elements; nil for other kinds.
func (v Value) AsList() []Value { return v.list }

// AsMap returns the map entries; nil for other kinds.
func (v Value) AsMap() map[string]Value { return v.mapv }

// Reference returns the reference token, or nil for non-reference values.
func (v Value) Reference() *Reference {
	if v.kind != KindRef {
		return nil
	}
	r := *v.ref
	return &r
}

// SecretRef returns the secret token, or nil for non-secret values.
func (v Value) SecretRef() *SecretRef {
	if v.kind != KindSecret {
		return nil
	}
	s := *v.secret
	return &s
}

// References collects every reference token in the value tree.
func (v Value) References() []Reference {
	var out []Reference
	v.walk(func(w Value) {
		if w.kind == KindRef {
			out = append(out, *w.ref)
		}
	})
	return out
}

// SecretRefs collects every secret token in the value tree.
func (v Value) SecretRefs() []SecretRef {
	var out []SecretRef
	v.walk(func(w Value) {
		if w.kind == KindSecret {
			out = append(out, *w.secret)
		}
	})
	return out
}

func (v Value) walk(fn func(Value)) {
	fn(v)
	switch v.kind {
	case KindList:
		for _, e := range v.list {
			e.walk(fn)
		}
	case KindMap:
		for _, e := range v.mapv {
			e.walk(fn)
		}
	}
}

// jsonValue is the wire form of Value. Literals are encoded as themselves;
// references and secrets are single-key objects so plain data can never be
// mistaken for a token.
const (
	refKey    = "$ref"
	secretKey = "$secret"
)

// MarshalJSON encodes the value in its wire form.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindLiteral:
		return json.Marshal(v.literal)
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.mapv)
	case KindRef:
		return json.Marshal(map[string]*Reference{refKey: v.ref})
	case KindSecret:
		return json.Marshal(map[string]*SecretRef{secretKey: v.secret})
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := fromRaw(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func fromRaw(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case map[string]any:
		if len(t) == 1 {
			if r, ok := t[refKey]; ok {
				return refFromRaw(r)
			}
			if s, ok := t[secretKey]; ok {
				return secretFromRaw(s)
			}
		}
		m := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			m[k] = ev
		}
		return Map(m), nil
	case []any:
		l := make([]Value, len(t))
		for i, e := range t {
			ev, err := fromRaw(e)
			if err != nil {
				return Value{}, err
			}
			l[i] = ev
		}
		return Value{kind: KindList, list: l}, nil
	default:
		return Literal(t), nil
	}
}

func refFromRaw(raw any) (Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Value{}, fmt.Errorf("malformed %s token: %v", refKey, raw)
	}
	data, _ := json.Marshal(m)
	var ref Reference
	if err := json.Unmarshal(data, &ref); err != nil {
		return Value{}, fmt.Errorf("malformed %s token: %w", refKey, err)
	}
	if ref.Target.Kind == "" || ref.Target.Name == "" || ref.OutputPath == "" {
		return Value{}, fmt.Errorf("incomplete %s token: %v", refKey, raw)
	}
	return Value{kind: KindRef, ref: &ref}, nil
}

func secretFromRaw(raw any) (Value, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Value{}, fmt.Errorf("malformed %s token: %v", secretKey, raw)
	}
	data, _ := json.Marshal(m)
	var ref SecretRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return Value{}, fmt.Errorf("malformed %s token: %w", secretKey, err)
	}
	if ref.Path == "" || ref.Key == "" {
		return Value{}, fmt.Errorf("incomplete %s token: %v", secretKey, raw)
	}
	return Value{kind: KindSecret, secret: &ref}, nil
}

// Token returns the opaque marker persisted to state in place of a secret
// value. It carries only the address of the secret, never its content.
func (s SecretRef) Token() string {
	return fmt.Sprintf("secret://%s#%s", s.Path, s.Key)
}
