package transplant

import (
	"bytes"
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindJSON
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindString: "string",
	KindBytes:  "bytes",
	KindTime:   "time",
	KindJSON:   "json",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func kindByName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return KindNull, false
}

// Value is a single column value. The zero Value is SQL NULL.
//
// Values are produced from driver values by ValueOf, which folds the many
// Go types database drivers return into the small set of kinds above so that
// rows can be compared, cached and re-inserted independently of the engine
// they came from.
type Value struct {
	kind Kind
	n    int64
	f    float64
	s    string
	b    []byte
	t    time.Time
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Bool returns a boolean Value.
func Bool(v bool) Value {
	var n int64
	if v {
		n = 1
	}
	return Value{kind: KindBool, n: n}
}

// Int returns an integer Value.
func Int(v int64) Value { return Value{kind: KindInt, n: v} }

// Float returns a floating point Value.
func Float(v float64) Value { return Value{kind: KindFloat, f: v} }

// String returns a text Value.
func String(v string) Value { return Value{kind: KindString, s: v} }

// Bytes returns a binary Value. The slice is not copied.
func Bytes(v []byte) Value {
	if v == nil {
		v = []byte{}
	}
	return Value{kind: KindBytes, b: v}
}

// Time returns a timestamp Value.
func Time(v time.Time) Value { return Value{kind: KindTime, t: v} }

// JSON returns a Value holding an encoded JSON document.
func JSON(raw []byte) Value {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err == nil {
		return Value{kind: KindJSON, s: buf.String()}
	}
	return Value{kind: KindJSON, s: string(raw)}
}

// ValueOf normalizes a value returned by a database driver.
func ValueOf(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint:
		return fromUint(uint64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case time.Time:
		return Time(x)
	case json.RawMessage:
		return JSON(x)
	case []byte:
		return Bytes(bytes.Clone(x))
	case [16]byte:
		return String(formatUUID(x))
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err != nil {
			return String(fmt.Sprint(x))
		}
		return JSON(raw)
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return String(fmt.Sprint(x))
		}
		if _, again := dv.(driver.Valuer); again {
			return String(fmt.Sprint(dv))
		}
		return ValueOf(dv)
	case fmt.Stringer:
		return String(x.String())
	default:
		return String(fmt.Sprint(x))
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return String(strconv.FormatUint(u, 10))
	}
	return Int(int64(u))
}

func formatUUID(u [16]byte) string {
	var buf [36]byte
	hex.Encode(buf[0:8], u[0:4])
	buf[8] = '-'
	hex.Encode(buf[9:13], u[4:6])
	buf[13] = '-'
	hex.Encode(buf[14:18], u[6:8])
	buf[18] = '-'
	hex.Encode(buf[19:23], u[8:10])
	buf[23] = '-'
	hex.Encode(buf[24:], u[10:])
	return string(buf[:])
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Any returns v as a driver argument suitable for database/sql and pgx.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.n != 0
	case KindInt:
		return v.n
	case KindFloat:
		return v.f
	case KindString, KindJSON:
		return v.s
	case KindBytes:
		return v.b
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// Compare orders values: NULL first, then numbers (ints and floats compared
// numerically), then the remaining kinds grouped by kind. It returns -1, 0 or +1.
func (v Value) Compare(o Value) int {
	if v.isNumber() && o.isNumber() {
		if v.kind == KindInt && o.kind == KindInt {
			return cmpOrdered(v.n, o.n)
		}
		return cmpOrdered(v.float(), o.float())
	}
	if v.kind != o.kind {
		return cmpOrdered(v.rank(), o.rank())
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		return cmpOrdered(v.n, o.n)
	case KindString, KindJSON:
		return strings.Compare(v.s, o.s)
	case KindBytes:
		return bytes.Compare(v.b, o.b)
	case KindTime:
		return v.t.Compare(o.t)
	}
	return 0
}

// Equal reports whether v and o hold the same kind and value.
func (v Value) Equal(o Value) bool {
	return v.kind == o.kind && v.Compare(o) == 0
}

func (v Value) isNumber() bool { return v.kind == KindInt || v.kind == KindFloat }

func (v Value) float() float64 {
	if v.kind == KindInt {
		return float64(v.n)
	}
	return v.f
}

// rank groups ints and floats together so mixed numeric columns sort sanely.
func (v Value) rank() int {
	switch v.kind {
	case KindNull:
		return 0
	case KindBool:
		return 1
	case KindInt, KindFloat:
		return 2
	default:
		return int(v.kind)
	}
}

func cmpOrdered[T int64 | float64 | int](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// SQLLiteral renders v as an inline SQL literal. Nulls, booleans, numbers,
// strings and JSON use portable forms. Bytes ('\x..' bytea hex) and times
// ('2006-01-02 15:04:05Z07:00') use the Postgres spelling and may not match
// on other engines.
func (v Value) SQLLiteral() string {
	switch v.kind {
	case KindBool:
		if v.n != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.n, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString, KindJSON:
		return quoteLiteral(v.s)
	case KindBytes:
		return quoteLiteral(`\x` + hex.EncodeToString(v.b))
	case KindTime:
		return quoteLiteral(v.t.Format("2006-01-02 15:04:05.999999999Z07:00"))
	default:
		return "null"
	}
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindString, KindJSON:
		return v.s
	case KindBytes:
		return `\x` + hex.EncodeToString(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return v.SQLLiteral()
	}
}

// MarshalJSON encodes v as null or a [kind, payload] pair so every kind
// survives a round trip through the row cache.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload []byte
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		payload = strconv.AppendBool(nil, v.n != 0)
	case KindInt:
		payload = strconv.AppendInt(nil, v.n, 10)
	case KindFloat:
		// NaN and Inf are not valid JSON numbers.
		payload = strconv.AppendQuote(nil, strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		s, err := json.Marshal(v.s)
		if err != nil {
			return nil, err
		}
		payload = s
	case KindBytes:
		payload = strconv.AppendQuote(nil, base64.StdEncoding.EncodeToString(v.b))
	case KindTime:
		t, err := v.t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		payload = t
	case KindJSON:
		if !json.Valid([]byte(v.s)) {
			return nil, fmt.Errorf("transplant: invalid json value")
		}
		payload = []byte(v.s)
	default:
		return nil, fmt.Errorf("transplant: cannot encode %s", v.kind)
	}
	out := make([]byte, 0, len(payload)+16)
	out = append(out, '[')
	out = strconv.AppendQuote(out, v.kind.String())
	out = append(out, ',')
	out = append(out, payload...)
	out = append(out, ']')
	return out, nil
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Null()
		return nil
	}
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("transplant: decode value: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("transplant: decode value: want [kind, payload], got %d elements", len(pair))
	}
	var name string
	if err := json.Unmarshal(pair[0], &name); err != nil {
		return fmt.Errorf("transplant: decode value kind: %w", err)
	}
	kind, ok := kindByName(name)
	if !ok || kind == KindNull {
		return fmt.Errorf("transplant: decode value: unknown kind %q", name)
	}
	payload := pair[1]

	switch kind {
	case KindBool:
		var b bool
		if err := json.Unmarshal(payload, &b); err != nil {
			return fmt.Errorf("transplant: decode bool: %w", err)
		}
		*v = Bool(b)
	case KindInt:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return fmt.Errorf("transplant: decode int: %w", err)
		}
		*v = Int(n)
	case KindFloat:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("transplant: decode float: %w", err)
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("transplant: decode float: %w", err)
		}
		*v = Float(f)
	case KindString:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("transplant: decode string: %w", err)
		}
		*v = String(s)
	case KindBytes:
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("transplant: decode bytes: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("transplant: decode bytes: %w", err)
		}
		*v = Bytes(b)
	case KindTime:
		var t time.Time
		if err := t.UnmarshalJSON(payload); err != nil {
			return fmt.Errorf("transplant: decode time: %w", err)
		}
		*v = Time(t)
	case KindJSON:
		*v = JSON(bytes.Clone(payload))
	}
	return nil
}
