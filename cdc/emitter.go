package cdc

import (
	"strconv"

	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/schema"
)

// ValueEmitter converts engine-internal values into wire datums using the
// column's pg type OID. NULL is preserved distinctly from "column not
// written" (a placeholder datum).
type ValueEmitter struct {
	enums schema.EnumLabelMap
}

// NewValueEmitter builds an emitter with an enum OID label map.
func NewValueEmitter(enums schema.EnumLabelMap) *ValueEmitter {
	return &ValueEmitter{enums: enums}
}

// Emit fills the target datum from a decoded primitive. Fails with
// UnsupportedTypeError when the column's type OID is neither a known scalar
// nor a mapped enum.
func (e *ValueEmitter) Emit(col *schema.ColumnSchema, value docdb.PrimitiveValue, target *Datum) error {
	target.ColumnName = col.Name
	target.ColumnType = col.TypeOid
	target.Present = true

	if value.IsNull() {
		target.Null = true
		target.Value = nil
		return nil
	}

	switch col.TypeOid {
	case schema.OidBool:
		target.Value = value.Bool
	case schema.OidInt4, schema.OidInt8:
		target.Value = value.Int64
	case schema.OidFloat8:
		target.Value = value.Float64
	case schema.OidText, schema.OidVarchar:
		target.Value = value.Str
	case schema.OidBytea:
		target.Value = value.Bytes
	default:
		labels, ok := e.enums[col.TypeOid]
		if !ok {
			return &UnsupportedTypeError{Column: col.Name, TypeOid: col.TypeOid}
		}
		if label, ok := labels[value.Int64]; ok {
			target.Value = label
		} else {
			// Label map can lag behind a concurrently added enum value.
			target.Value = strconv.FormatInt(value.Int64, 10)
		}
	}
	return nil
}

// EmitTypeOnly fills the target with column identity but no value, the shape
// of an unset column in a snapshot row.
func (e *ValueEmitter) EmitTypeOnly(col *schema.ColumnSchema, target *Datum) {
	target.ColumnName = col.Name
	target.ColumnType = col.TypeOid
	target.Present = true
	target.Null = true
}
