package engine

import (
	"fmt"
	"math"
	"strings"
)

// DataType is the element type of a tensor as seen on the wire and by the core.
type DataType string

const (
	TypeInvalid DataType = ""
	TypeBool    DataType = "BOOL"
	TypeUint8   DataType = "UINT8"
	TypeUint16  DataType = "UINT16"
	TypeUint32  DataType = "UINT32"
	TypeUint64  DataType = "UINT64"
	TypeInt8    DataType = "INT8"
	TypeInt16   DataType = "INT16"
	TypeInt32   DataType = "INT32"
	TypeInt64   DataType = "INT64"
	TypeFP16    DataType = "FP16"
	TypeBF16    DataType = "BF16"
	TypeFP32    DataType = "FP32"
	TypeFP64    DataType = "FP64"
)

// Size returns the element size in bytes, or 0 for an unknown type.
func (d DataType) Size() int {
	switch d {
	case TypeBool, TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16, TypeFP16, TypeBF16:
		return 2
	case TypeUint32, TypeInt32, TypeFP32:
		return 4
	case TypeUint64, TypeInt64, TypeFP64:
		return 8
	default:
		return 0
	}
}

func (d DataType) String() string { return string(d) }

// ParseDataType accepts both the configuration spelling ("TYPE_FP32") and the
// wire spelling ("FP32"), case-insensitively.
func ParseDataType(s string) (DataType, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "TYPE_")
	dt := DataType(v)
	if dt.Size() == 0 {
		return TypeInvalid, fmt.Errorf("unsupported datatype %q", s)
	}
	return dt, nil
}

// Shape is a tensor shape. Negative dimensions are dynamic.
type Shape []int64

// NumElements returns the element count, or -1 if any dimension is dynamic
// or the count does not fit in an int64.
func (s Shape) NumElements() int64 {
	n := int64(1)
	for _, d := range s {
		if d < 0 {
			return -1
		}
		if d > 0 && n > math.MaxInt64/d {
			return -1
		}
		n *= d
	}
	return n
}

// Equal reports whether both shapes have identical dimensions.
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Compatible reports whether o matches s, treating negative dims in s as wildcards.
func (s Shape) Compatible(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] >= 0 && o[i] >= 0 && s[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// WithBatch returns a copy with the leading dimension replaced by n.
func (s Shape) WithBatch(n int64) Shape {
	out := s.Clone()
	if len(out) > 0 {
		out[0] = n
	}
	return out
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprintf("%d", d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// ByteSize returns the number of bytes a tensor of the given type and shape
// occupies, or -1 if the shape is dynamic or the type unknown.
func ByteSize(dt DataType, s Shape) int64 {
	n := s.NumElements()
	sz := int64(dt.Size())
	if n < 0 || sz == 0 || n > math.MaxInt64/sz {
		return -1
	}
	return n * sz
}

// Port identifies an input or output node of a graph.
type Port struct {
	Name     string
	Index    int
	DataType DataType
	Shape    Shape
}
