package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

var (
	// ErrMalformedOperation indicates an operation that is not a [type, {payload}] pair.
	ErrMalformedOperation = errors.New("ops: malformed operation")
	// ErrMissingField indicates a payload lacks a member required to attribute it.
	ErrMissingField = errors.New("ops: missing field")
	// ErrFieldType indicates a payload member has the wrong JSON type.
	ErrFieldType = errors.New("ops: unexpected field type")
)

// reservedPrefix marks payload members used for client-side bookkeeping.
// They are never part of a ledger operation.
const reservedPrefix = "__"

// Payload holds the members of an operation body. Values stay raw so
// anything the gateway does not interpret reaches the ledger untouched.
type Payload map[string]json.RawMessage

// Operation is a single ledger operation. On the wire it is the two element
// array [type, payload].
type Operation struct {
	Type    Type
	Payload Payload
}

// New builds an operation from a plain value payload. Used by tests and
// tooling; request bodies go through UnmarshalJSON.
func New(t Type, payload map[string]any) (Operation, error) {
	p := make(Payload, len(payload))
	for k, v := range payload {
		raw, err := json.Marshal(v)
		if err != nil {
			return Operation{}, fmt.Errorf("ops: encode %s.%s: %w", t, k, err)
		}
		p[k] = raw
	}
	return Operation{Type: t, Payload: p}, nil
}

// MarshalJSON encodes the operation as [type, payload].
func (o Operation) MarshalJSON() ([]byte, error) {
	payload := o.Payload
	if payload == nil {
		payload = Payload{}
	}
	return json.Marshal([2]any{o.Type, payload})
}

// UnmarshalJSON decodes [type, payload]. Anything else is ErrMalformedOperation.
func (o *Operation) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: expected [type, payload]", ErrMalformedOperation)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: expected 2 elements, got %d", ErrMalformedOperation, len(pair))
	}
	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil || strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: operation type must be a non-empty string", ErrMalformedOperation)
	}
	if !isObject(pair[1]) {
		return fmt.Errorf("%w: %s payload must be an object", ErrMalformedOperation, name)
	}
	var payload Payload
	if err := json.Unmarshal(pair[1], &payload); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedOperation, name, err)
	}
	if a, b, clash := payload.foldClash(); clash {
		return fmt.Errorf("%w: %s payload members %q and %q differ only in case", ErrMalformedOperation, name, a, b)
	}
	o.Type = Type(name)
	o.Payload = payload
	return nil
}

// Clone returns a deep copy; raw member values are copied too.
func (o Operation) Clone() Operation {
	return Operation{Type: o.Type, Payload: o.Payload.Clone()}
}

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Has reports whether name is present with a non-null value.
func (p Payload) Has(name string) bool {
	raw, ok := p[name]
	return ok && !isNull(raw)
}

// StringField returns a string member. Absent or null members are ErrMissingField.
func (p Payload) StringField(name string) (string, error) {
	raw, ok := p[name]
	if !ok || isNull(raw) {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string", ErrFieldType, name)
	}
	return s, nil
}

// StringsField returns an array-of-strings member. Absent or null members yield
// nil without error; callers decide whether that is acceptable.
func (p Payload) StringsField(name string) ([]string, error) {
	raw, ok := p[name]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: %s must be an array of strings", ErrFieldType, name)
	}
	return list, nil
}

// Set stores v under name.
func (p Payload) Set(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p[name] = raw
	return nil
}

// Redact removes every reserved bookkeeping member and reports how many
// were dropped.
func (p Payload) Redact() int {
	n := 0
	for k := range p {
		if strings.HasPrefix(k, reservedPrefix) {
			delete(p, k)
			n++
		}
	}
	return n
}

// Decode fills the struct v points to. Members bind to fields by exact
// json name only; members no field names are ignored.
func (p Payload) Decode(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ops: decode into %T: want a pointer to a struct", v)
	}
	dst := rv.Elem()
	for i := 0; i < dst.NumField(); i++ {
		f := dst.Type().Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		switch name {
		case "-":
			continue
		case "":
			name = f.Name
		}
		raw, ok := p[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst.Field(i).Addr().Interface()); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// foldClash finds two member names that are equal under Unicode case
// folding but not identical.
func (p Payload) foldClash() (string, string, bool) {
	seen := make(map[string]string, len(p))
	for name := range p {
		key := foldKey(name)
		if other, ok := seen[key]; ok {
			return other, name, true
		}
		seen[key] = name
	}
	return "", "", false
}

// foldKey maps every rune to the smallest member of its case-folding orbit.
func foldKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		least := r
		for f := unicode.SimpleFold(r); f != r; f = unicode.SimpleFold(f) {
			if f < least {
				least = f
			}
		}
		b.WriteRune(least)
	}
	return b.String()
}

// Batch is an ordered group of operations authorized and submitted together.
type Batch []Operation

// Clone deep-copies every operation; order is preserved.
func (b Batch) Clone() Batch {
	if b == nil {
		return nil
	}
	out := make(Batch, len(b))
	for i, op := range b {
		out[i] = op.Clone()
	}
	return out
}

// Types lists operation types in batch order.
func (b Batch) Types() []Type {
	out := make([]Type, len(b))
	for i, op := range b {
		out[i] = op.Type
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
