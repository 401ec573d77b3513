package docdb

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value type tags. The first byte of an encoded value selects the class;
// primitives carry their payload after the tag.
const (
	valueTombstone byte = 0x00
	valueNullLow   byte = 0x01
	valuePackedRow byte = 0x02
	valueInt64     byte = 0x10
	valueString    byte = 0x11
	valueDouble    byte = 0x12
	valueBool      byte = 0x13
	valueNull      byte = 0x14
	valueBinary    byte = 0x15
)

// ValueClass is the coarse classification of an encoded value.
type ValueClass int

const (
	ValueClassTombstone ValueClass = iota
	ValueClassNullLow
	ValueClassPackedRow
	ValueClassPrimitive
)

func (c ValueClass) String() string {
	switch c {
	case ValueClassTombstone:
		return "tombstone"
	case ValueClassNullLow:
		return "null_low"
	case ValueClassPackedRow:
		return "packed_row"
	case ValueClassPrimitive:
		return "primitive"
	default:
		return "unknown"
	}
}

// ValueKind is the primitive type of a decoded datum.
type ValueKind int

const (
	ValueNull ValueKind = iota
	ValueInt64
	ValueString
	ValueDouble
	ValueBool
	ValueBinary
)

// PrimitiveValue is one decoded typed datum.
type PrimitiveValue struct {
	Kind    ValueKind
	Int64   int64
	Str     string
	Float64 float64
	Bool    bool
	Bytes   []byte
}

// IsNull reports whether the datum carries no value.
func (v PrimitiveValue) IsNull() bool {
	return v.Kind == ValueNull
}

func (v PrimitiveValue) String() string {
	switch v.Kind {
	case ValueInt64:
		return fmt.Sprintf("%d", v.Int64)
	case ValueString:
		return v.Str
	case ValueDouble:
		return fmt.Sprintf("%g", v.Float64)
	case ValueBool:
		return fmt.Sprintf("%t", v.Bool)
	case ValueBinary:
		return fmt.Sprintf("0x%x", v.Bytes)
	default:
		return "NULL"
	}
}

// PackedColumn is one column of a packed-row value.
type PackedColumn struct {
	ColumnID uint32
	Value    PrimitiveValue
}

// DecodedValue is the parsed form of an encoded value.
type DecodedValue struct {
	Class     ValueClass
	Primitive PrimitiveValue
	Packed    []PackedColumn
}

// DecodeValue parses an encoded value. Fails with a CorruptEncodingError on
// malformed input.
func DecodeValue(value []byte) (*DecodedValue, error) {
	if len(value) == 0 {
		return nil, corrupt("empty value")
	}
	switch value[0] {
	case valueTombstone:
		return &DecodedValue{Class: ValueClassTombstone}, nil
	case valueNullLow:
		return &DecodedValue{Class: ValueClassNullLow}, nil
	case valuePackedRow:
		return decodePackedRow(value[1:])
	default:
		prim, rest, err := decodePrimitive(value)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, corrupt("trailing bytes after primitive value")
		}
		return &DecodedValue{Class: ValueClassPrimitive, Primitive: prim}, nil
	}
}

func decodePackedRow(data []byte) (*DecodedValue, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, corrupt("packed row column count is malformed")
	}
	data = data[n:]
	packed := make([]PackedColumn, 0, count)
	for i := uint64(0); i < count; i++ {
		id, n := binary.Uvarint(data)
		if n <= 0 {
			return nil, corrupt("packed row column id is malformed")
		}
		data = data[n:]
		prim, rest, err := decodePrimitive(data)
		if err != nil {
			return nil, err
		}
		packed = append(packed, PackedColumn{ColumnID: uint32(id), Value: prim})
		data = rest
	}
	if len(data) != 0 {
		return nil, corrupt("trailing bytes after packed row")
	}
	return &DecodedValue{Class: ValueClassPackedRow, Packed: packed}, nil
}

func decodePrimitive(data []byte) (PrimitiveValue, []byte, error) {
	if len(data) == 0 {
		return PrimitiveValue{}, nil, corrupt("truncated primitive value")
	}
	switch data[0] {
	case valueInt64:
		if len(data) < 9 {
			return PrimitiveValue{}, nil, corrupt("truncated int64 value")
		}
		return PrimitiveValue{Kind: ValueInt64, Int64: int64(binary.BigEndian.Uint64(data[1:9]))},
			data[9:], nil
	case valueString:
		strLen, n := binary.Uvarint(data[1:])
		if n <= 0 || uint64(len(data[1+n:])) < strLen {
			return PrimitiveValue{}, nil, corrupt("truncated string value")
		}
		start := 1 + n
		return PrimitiveValue{Kind: ValueString, Str: string(data[start : start+int(strLen)])},
			data[start+int(strLen):], nil
	case valueDouble:
		if len(data) < 9 {
			return PrimitiveValue{}, nil, corrupt("truncated double value")
		}
		bits := binary.BigEndian.Uint64(data[1:9])
		return PrimitiveValue{Kind: ValueDouble, Float64: math.Float64frombits(bits)}, data[9:], nil
	case valueBool:
		if len(data) < 2 {
			return PrimitiveValue{}, nil, corrupt("truncated bool value")
		}
		return PrimitiveValue{Kind: ValueBool, Bool: data[1] != 0}, data[2:], nil
	case valueNull:
		return PrimitiveValue{Kind: ValueNull}, data[1:], nil
	case valueBinary:
		binLen, n := binary.Uvarint(data[1:])
		if n <= 0 || uint64(len(data[1+n:])) < binLen {
			return PrimitiveValue{}, nil, corrupt("truncated binary value")
		}
		start := 1 + n
		out := make([]byte, binLen)
		copy(out, data[start:start+int(binLen)])
		return PrimitiveValue{Kind: ValueBinary, Bytes: out}, data[start+int(binLen):], nil
	default:
		return PrimitiveValue{}, nil, corrupt(fmt.Sprintf("unknown value tag 0x%02x", data[0]))
	}
}

// EncodeTombstone returns the encoded root tombstone marker.
func EncodeTombstone() []byte {
	return []byte{valueTombstone}
}

// EncodeNullLow returns the encoded liveness marker written alongside the
// system column of a freshly inserted row.
func EncodeNullLow() []byte {
	return []byte{valueNullLow}
}

// EncodePrimitive encodes one typed datum.
func EncodePrimitive(v PrimitiveValue) []byte {
	return appendPrimitive(nil, v)
}

// EncodePackedRow encodes a packed-row value containing multiple columns.
func EncodePackedRow(columns []PackedColumn) []byte {
	buf := []byte{valuePackedRow}
	buf = binary.AppendUvarint(buf, uint64(len(columns)))
	for _, col := range columns {
		buf = binary.AppendUvarint(buf, uint64(col.ColumnID))
		buf = appendPrimitive(buf, col.Value)
	}
	return buf
}

func appendPrimitive(buf []byte, v PrimitiveValue) []byte {
	switch v.Kind {
	case ValueInt64:
		buf = append(buf, valueInt64)
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Int64))
	case ValueString:
		buf = append(buf, valueString)
		buf = binary.AppendUvarint(buf, uint64(len(v.Str)))
		buf = append(buf, v.Str...)
	case ValueDouble:
		buf = append(buf, valueDouble)
		buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(v.Float64))
	case ValueBool:
		buf = append(buf, valueBool)
		if v.Bool {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	case ValueBinary:
		buf = append(buf, valueBinary)
		buf = binary.AppendUvarint(buf, uint64(len(v.Bytes)))
		buf = append(buf, v.Bytes...)
	default:
		buf = append(buf, valueNull)
	}
	return buf
}
