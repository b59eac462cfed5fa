package column

import "fmt"

// Kind identifies the physical encoding of a column.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindFloat32
	KindFloat64
	KindFixedBytes
	KindBytes
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt32:
		return "Int32"
	case KindInt64:
		return "Int64"
	case KindUint32:
		return "Uint32"
	case KindFloat32:
		return "Float32"
	case KindFloat64:
		return "Float64"
	case KindFixedBytes:
		return "FixedBytes"
	case KindBytes:
		return "Bytes"
	default:
		return "Invalid"
	}
}

// Type is a column type. Width is only meaningful for FixedBytes.
type Type struct {
	Kind  Kind
	Width int
}

var (
	Bool    = Type{Kind: KindBool}
	Int32   = Type{Kind: KindInt32}
	Int64   = Type{Kind: KindInt64}
	Uint32  = Type{Kind: KindUint32}
	Float32 = Type{Kind: KindFloat32}
	Float64 = Type{Kind: KindFloat64}
	Bytes   = Type{Kind: KindBytes}
)

// FixedBytes returns a fixed-width binary type of n bytes.
func FixedBytes(n int) Type {
	return Type{Kind: KindFixedBytes, Width: n}
}

// ElemSize returns the size of one value for fixed-width types.
// ok is false for variable-length types.
func (t Type) ElemSize() (size int, ok bool) {
	switch t.Kind {
	case KindBool:
		return 1, true
	case KindInt32, KindUint32, KindFloat32:
		return 4, true
	case KindInt64, KindFloat64:
		return 8, true
	case KindFixedBytes:
		return t.Width, true
	default:
		return 0, false
	}
}

// Valid reports whether t describes an encodable type.
func (t Type) Valid() bool {
	switch t.Kind {
	case KindBool, KindInt32, KindInt64, KindUint32, KindFloat32, KindFloat64, KindBytes:
		return true
	case KindFixedBytes:
		return t.Width > 0
	default:
		return false
	}
}

func (t Type) String() string {
	if t.Kind == KindFixedBytes {
		return fmt.Sprintf("FixedBytes(%d)", t.Width)
	}
	return t.Kind.String()
}
