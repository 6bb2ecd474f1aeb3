package keys

import (
	"fmt"
	"math"
	"strconv"
)

// ValueType orders values of different types. Values of a lower type sort before values of a higher type
// regardless of payload.
type ValueType uint8

const (
	// MinType sorts below every other value.
	MinType ValueType = iota
	NullType
	Int64Type
	Uint64Type
	DoubleType
	BooleanType
	StringType
	// MaxType sorts above every other value and is used to build successor keys.
	MaxType
)

func (t ValueType) String() string {
	switch t {
	case MinType:
		return "min"
	case NullType:
		return "null"
	case Int64Type:
		return "int64"
	case Uint64Type:
		return "uint64"
	case DoubleType:
		return "double"
	case BooleanType:
		return "boolean"
	case StringType:
		return "string"
	case MaxType:
		return "max"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// Value is a single component of a Key. Only the field matching Type is meaningful.
type Value struct {
	Type   ValueType
	Int    int64
	Uint   uint64
	Double float64
	Bool   bool
	Str    string
}

func MinValue() Value             { return Value{Type: MinType} }
func NullValue() Value            { return Value{Type: NullType} }
func MaxValue() Value             { return Value{Type: MaxType} }
func Int64Value(v int64) Value    { return Value{Type: Int64Type, Int: v} }
func Uint64Value(v uint64) Value  { return Value{Type: Uint64Type, Uint: v} }
func DoubleValue(v float64) Value { return Value{Type: DoubleType, Double: v} }
func BoolValue(v bool) Value      { return Value{Type: BooleanType, Bool: v} }
func StringValue(v string) Value  { return Value{Type: StringType, Str: v} }

// IsSentinel returns true for the Min and Max markers.
func (v Value) IsSentinel() bool {
	return v.Type == MinType || v.Type == MaxType
}

// CompareValues returns -1, 0 or 1 as a is less than, equal to or greater than b.
func CompareValues(a, b Value) int {
	if a.Type != b.Type {
		if a.Type < b.Type {
			return -1
		}
		return 1
	}
	switch a.Type {
	case Int64Type:
		return compareOrdered(a.Int, b.Int)
	case Uint64Type:
		return compareOrdered(a.Uint, b.Uint)
	case DoubleType:
		return compareDoubles(a.Double, b.Double)
	case BooleanType:
		switch {
		case a.Bool == b.Bool:
			return 0
		case !a.Bool:
			return -1
		default:
			return 1
		}
	case StringType:
		return compareOrdered(a.Str, b.Str)
	default:
		// Sentinels and nulls of the same type are equal.
		return 0
	}
}

// compareDoubles orders NaN after every other double and equal to itself.
func compareDoubles(a, b float64) int {
	aNaN, bNaN := math.IsNaN(a), math.IsNaN(b)
	switch {
	case aNaN && bNaN:
		return 0
	case aNaN:
		return 1
	case bNaN:
		return -1
	default:
		return compareOrdered(a, b)
	}
}

func compareOrdered[T int64 | uint64 | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Type {
	case MinType:
		return "<min>"
	case NullType:
		return "#"
	case MaxType:
		return "<max>"
	case Int64Type:
		return strconv.FormatInt(v.Int, 10)
	case Uint64Type:
		return strconv.FormatUint(v.Uint, 10) + "u"
	case DoubleType:
		return strconv.FormatFloat(v.Double, 'g', -1, 64)
	case BooleanType:
		return strconv.FormatBool(v.Bool)
	case StringType:
		return strconv.Quote(v.Str)
	default:
		return v.Type.String()
	}
}
