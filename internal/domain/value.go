package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ValueKind tags the representation held by a Value.
type ValueKind int

const (
	ValueUnset ValueKind = iota
	ValueNull
	ValueString
	ValueNumber
	ValueBool
	ValueAge
)

// Age is a structured age, as computed from a birth date and a reference date.
type Age struct {
	Years  int `json:"years"`
	Months int `json:"months"`
	Days   int `json:"days"`
}

// String formats the age the way it is written in reports.
func (a Age) String() string {
	return fmt.Sprintf("%d %s, %d %s", a.Years, plural(a.Years, "year"), a.Months, plural(a.Months, "month"))
}

func plural(n int, unit string) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

// Value is the value of a variable: unset, null, a string, a number, a boolean
// or a structured age. The zero Value is unset.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Age  Age
}

// NullValue returns an explicit null.
func NullValue() Value { return Value{Kind: ValueNull} }

// StringValue wraps s.
func StringValue(s string) Value { return Value{Kind: ValueString, Str: s} }

// NumberValue wraps n.
func NumberValue(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// AgeValue wraps a.
func AgeValue(a Age) Value { return Value{Kind: ValueAge, Age: a} }

// IsEmpty reports whether no value has been entered. Whitespace-only strings
// count as empty; false and 0 do not.
func (v Value) IsEmpty() bool {
	switch v.Kind {
	case ValueUnset, ValueNull:
		return true
	case ValueString:
		return strings.TrimSpace(v.Str) == ""
	default:
		return false
	}
}

// Float returns the numeric interpretation of the value. Numeric strings are
// parsed; every other kind reports false.
func (v Value) Float() (float64, bool) {
	switch v.Kind {
	case ValueNumber:
		return v.Num, true
	case ValueString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Text returns the display form of the value.
func (v Value) Text() string {
	switch v.Kind {
	case ValueString:
		return v.Str
	case ValueNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueAge:
		return v.Age.String()
	default:
		return ""
	}
}

// Equal reports whether two values hold the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueString:
		return v.Str == o.Str
	case ValueNumber:
		return v.Num == o.Num
	case ValueBool:
		return v.Bool == o.Bool
	case ValueAge:
		return v.Age == o.Age
	default:
		return true
	}
}

// MarshalJSON encodes unset and null as JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.Str)
	case ValueNumber:
		return json.Marshal(v.Num)
	case ValueBool:
		return json.Marshal(v.Bool)
	case ValueAge:
		return json.Marshal(v.Age)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts null, strings, numbers, booleans and age objects.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = NullValue()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '{':
		var a Age
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decoding age value: %w", err)
		}
		*v = AgeValue(a)
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("unsupported variable value %s: %w", string(data), err)
		}
		*v = NumberValue(n)
	}
	return nil
}
