package docdb

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Key entry type tags. The doc-key prefix carries the primary-key tuple, the
// optional suffix carries at most one column reference.
const (
	entryDocKey       byte = 0x01
	entryInt64        byte = 0x02
	entryString       byte = 0x03
	entryBool         byte = 0x04
	entryNull         byte = 0x05
	entryColumnID     byte = 0x40
	entrySystemColumn byte = 0x41
)

// ColumnClass classifies the column reference carried in a key suffix.
type ColumnClass int

const (
	ColumnNone ColumnClass = iota
	ColumnPrimaryKey
	ColumnRegular
	ColumnSystem
)

func (c ColumnClass) String() string {
	switch c {
	case ColumnNone:
		return "none"
	case ColumnPrimaryKey:
		return "primary_key"
	case ColumnRegular:
		return "regular"
	case ColumnSystem:
		return "system"
	default:
		return "unknown"
	}
}

// KeyColumnChecker answers whether a column id belongs to the primary key.
// Satisfied by schema.Schema.
type KeyColumnChecker interface {
	IsKeyColumn(columnID uint32) bool
}

// DecodedKey is the parsed form of an encoded storage key: the primary-key
// tuple, the raw primary-key prefix used as the row-grouping fingerprint,
// and at most one column reference suffix.
type DecodedKey struct {
	PrimaryKey       []PrimitiveValue
	PrimaryKeyPrefix []byte
	HasColumn        bool
	SystemColumn     bool
	ColumnID         uint32
	SubKeyDepth      int
}

// Fingerprint hashes the primary-key prefix. Cheap row-identity comparison
// for runs of adjacent cells.
func (k *DecodedKey) Fingerprint() uint64 {
	return xxhash.Sum64(k.PrimaryKeyPrefix)
}

// ClassifyColumn resolves the suffix into a column class using the schema's
// key-column set.
func (k *DecodedKey) ClassifyColumn(checker KeyColumnChecker) ColumnClass {
	if !k.HasColumn {
		return ColumnNone
	}
	if k.SystemColumn {
		return ColumnSystem
	}
	if checker != nil && checker.IsKeyColumn(k.ColumnID) {
		return ColumnPrimaryKey
	}
	return ColumnRegular
}

// DecodeKey parses an encoded storage key. Fails with a CorruptEncodingError
// on malformed input.
func DecodeKey(key []byte) (*DecodedKey, error) {
	if len(key) < 2 || key[0] != entryDocKey {
		return nil, corrupt("key does not start with a doc-key marker")
	}
	rest := key[1:]
	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, corrupt("doc-key column count is malformed")
	}
	rest = rest[n:]

	decoded := &DecodedKey{PrimaryKey: make([]PrimitiveValue, 0, count)}
	for i := uint64(0); i < count; i++ {
		value, remaining, err := decodeKeyEntry(rest)
		if err != nil {
			return nil, err
		}
		decoded.PrimaryKey = append(decoded.PrimaryKey, value)
		rest = remaining
	}
	decoded.PrimaryKeyPrefix = key[:len(key)-len(rest)]

	if len(rest) == 0 {
		return decoded, nil
	}

	switch rest[0] {
	case entryColumnID, entrySystemColumn:
		id, n := binary.Uvarint(rest[1:])
		if n <= 0 {
			return nil, corrupt("column id suffix is malformed")
		}
		if len(rest[1+n:]) != 0 {
			return nil, corrupt("trailing bytes after column id suffix")
		}
		decoded.HasColumn = true
		decoded.SystemColumn = rest[0] == entrySystemColumn
		decoded.ColumnID = uint32(id)
		decoded.SubKeyDepth = 1
	default:
		return nil, corrupt(fmt.Sprintf("unexpected key suffix tag 0x%02x", rest[0]))
	}
	return decoded, nil
}

func decodeKeyEntry(data []byte) (PrimitiveValue, []byte, error) {
	if len(data) == 0 {
		return PrimitiveValue{}, nil, corrupt("truncated key entry")
	}
	switch data[0] {
	case entryInt64:
		if len(data) < 9 {
			return PrimitiveValue{}, nil, corrupt("truncated int64 key entry")
		}
		v := int64(binary.BigEndian.Uint64(data[1:9]))
		return PrimitiveValue{Kind: ValueInt64, Int64: v}, data[9:], nil
	case entryString:
		strLen, n := binary.Uvarint(data[1:])
		if n <= 0 || uint64(len(data[1+n:])) < strLen {
			return PrimitiveValue{}, nil, corrupt("truncated string key entry")
		}
		start := 1 + n
		return PrimitiveValue{Kind: ValueString, Str: string(data[start : start+int(strLen)])},
			data[start+int(strLen):], nil
	case entryBool:
		if len(data) < 2 {
			return PrimitiveValue{}, nil, corrupt("truncated bool key entry")
		}
		return PrimitiveValue{Kind: ValueBool, Bool: data[1] != 0}, data[2:], nil
	case entryNull:
		return PrimitiveValue{Kind: ValueNull}, data[1:], nil
	default:
		return PrimitiveValue{}, nil, corrupt(fmt.Sprintf("unknown key entry tag 0x%02x", data[0]))
	}
}

// KeyBuilder assembles encoded storage keys. Used by the write path of the
// intent store and by tests building fixtures.
type KeyBuilder struct {
	buf []byte
}

// NewKeyBuilder starts a doc key with the given primary-key tuple values.
func NewKeyBuilder(pk ...PrimitiveValue) *KeyBuilder {
	b := &KeyBuilder{buf: []byte{entryDocKey}}
	b.buf = binary.AppendUvarint(b.buf, uint64(len(pk)))
	for _, v := range pk {
		b.appendKeyEntry(v)
	}
	return b
}

func (b *KeyBuilder) appendKeyEntry(v PrimitiveValue) {
	switch v.Kind {
	case ValueInt64:
		b.buf = append(b.buf, entryInt64)
		b.buf = binary.BigEndian.AppendUint64(b.buf, uint64(v.Int64))
	case ValueString:
		b.buf = append(b.buf, entryString)
		b.buf = binary.AppendUvarint(b.buf, uint64(len(v.Str)))
		b.buf = append(b.buf, v.Str...)
	case ValueBool:
		b.buf = append(b.buf, entryBool)
		if v.Bool {
			b.buf = append(b.buf, 1)
		} else {
			b.buf = append(b.buf, 0)
		}
	default:
		b.buf = append(b.buf, entryNull)
	}
}

// Column appends a regular column-id suffix.
func (b *KeyBuilder) Column(id uint32) *KeyBuilder {
	b.buf = append(b.buf, entryColumnID)
	b.buf = binary.AppendUvarint(b.buf, uint64(id))
	return b
}

// SystemColumn appends a system column-id suffix (liveness column).
func (b *KeyBuilder) SystemColumn(id uint32) *KeyBuilder {
	b.buf = append(b.buf, entrySystemColumn)
	b.buf = binary.AppendUvarint(b.buf, uint64(id))
	return b
}

// Bytes returns the encoded key.
func (b *KeyBuilder) Bytes() []byte {
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out
}
