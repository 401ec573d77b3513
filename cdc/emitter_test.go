package cdc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/schema"
)

func TestValueEmitterScalars(t *testing.T) {
	emitter := cdc.NewValueEmitter(nil)

	cases := []struct {
		name  string
		col   schema.ColumnSchema
		value docdb.PrimitiveValue
		want  any
	}{
		{"bool", schema.ColumnSchema{Name: "b", TypeOid: schema.OidBool},
			docdb.PrimitiveValue{Kind: docdb.ValueBool, Bool: true}, true},
		{"int", schema.ColumnSchema{Name: "i", TypeOid: schema.OidInt8},
			docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: -9}, int64(-9)},
		{"float", schema.ColumnSchema{Name: "f", TypeOid: schema.OidFloat8},
			docdb.PrimitiveValue{Kind: docdb.ValueDouble, Float64: 1.5}, 1.5},
		{"text", schema.ColumnSchema{Name: "t", TypeOid: schema.OidText},
			docdb.PrimitiveValue{Kind: docdb.ValueString, Str: "hi"}, "hi"},
		{"bytea", schema.ColumnSchema{Name: "raw", TypeOid: schema.OidBytea},
			docdb.PrimitiveValue{Kind: docdb.ValueBinary, Bytes: []byte{1, 2}}, []byte{1, 2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var datum cdc.Datum
			require.NoError(t, emitter.Emit(&tc.col, tc.value, &datum))
			assert.Equal(t, tc.want, datum.Value)
			assert.True(t, datum.Present)
			assert.False(t, datum.Null)
			assert.Equal(t, tc.col.Name, datum.ColumnName)
		})
	}
}

// NULL stays distinct from "column not written": an explicit null datum is
// Present with Null set; a placeholder is neither.
func TestValueEmitterNullVsAbsent(t *testing.T) {
	emitter := cdc.NewValueEmitter(nil)
	col := schema.ColumnSchema{Name: "c", TypeOid: schema.OidText, Nullable: true}

	var null cdc.Datum
	require.NoError(t, emitter.Emit(&col, docdb.PrimitiveValue{Kind: docdb.ValueNull}, &null))
	assert.True(t, null.Present)
	assert.True(t, null.Null)
	assert.Nil(t, null.Value)

	var placeholder cdc.Datum
	assert.False(t, placeholder.Present)
}

func TestValueEmitterEnum(t *testing.T) {
	const enumOid = uint32(70000)
	emitter := cdc.NewValueEmitter(schema.EnumLabelMap{
		enumOid: {0: "pending", 1: "shipped"},
	})
	col := schema.ColumnSchema{Name: "status", TypeOid: enumOid}

	var datum cdc.Datum
	require.NoError(t, emitter.Emit(&col, docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: 1}, &datum))
	assert.Equal(t, "shipped", datum.Value)

	// Unmapped ordinal falls back to its decimal form.
	require.NoError(t, emitter.Emit(&col, docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: 7}, &datum))
	assert.Equal(t, "7", datum.Value)
}

func TestValueEmitterUnknownOid(t *testing.T) {
	emitter := cdc.NewValueEmitter(nil)
	col := schema.ColumnSchema{Name: "mystery", TypeOid: 424242}

	var datum cdc.Datum
	err := emitter.Emit(&col, docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: 1}, &datum)
	var unsupported *cdc.UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, uint32(424242), unsupported.TypeOid)
}
