// Package schema models table schemas the way the catalog serves them:
// ordered column lists with key columns first, a postgres type OID per
// column, and table properties carried on DDL events.
package schema

import "fmt"

// Postgres type OIDs the producer can emit. Enum types carry table-specific
// OIDs resolved through the enum label map.
const (
	OidBool    uint32 = 16
	OidBytea   uint32 = 17
	OidInt8    uint32 = 20
	OidInt4    uint32 = 23
	OidText    uint32 = 25
	OidFloat8  uint32 = 701
	OidVarchar uint32 = 1043
)

// Version numbers a schema revision. Every DDL bumps it.
type Version uint32

// ColumnSchema describes one column.
type ColumnSchema struct {
	ID       uint32
	Name     string
	TypeOid  uint32
	Nullable bool
	IsKey    bool
	IsHash   bool
}

// TableProperties are carried on DDL events alongside column metadata.
type TableProperties struct {
	DefaultTimeToLive int64
	NumTablets        int32
	IsYsqlCatalog     bool
}

// Schema is the ordered column set of a table at one version. Key columns
// precede value columns, hashed key columns precede range key columns.
type Schema struct {
	SchemaName string
	Columns    []ColumnSchema
	Properties TableProperties

	byID map[uint32]int
}

// New builds a schema and indexes its columns by id.
func New(schemaName string, columns []ColumnSchema, props TableProperties) *Schema {
	s := &Schema{
		SchemaName: schemaName,
		Columns:    columns,
		Properties: props,
		byID:       make(map[uint32]int, len(columns)),
	}
	for i, col := range columns {
		s.byID[col.ID] = i
	}
	return s
}

// Initialized reports whether the schema carries any columns. An
// uninitialized schema forces a catalog lookup before decoding.
func (s *Schema) Initialized() bool {
	return s != nil && len(s.Columns) > 0
}

// NumColumns returns the total column count, the saturation width of an
// INSERT event.
func (s *Schema) NumColumns() int {
	return len(s.Columns)
}

// NumKeyColumns returns the count of primary-key columns.
func (s *Schema) NumKeyColumns() int {
	n := 0
	for _, col := range s.Columns {
		if col.IsKey {
			n++
		}
	}
	return n
}

// ColumnByID resolves a column by id.
func (s *Schema) ColumnByID(id uint32) (*ColumnSchema, error) {
	idx, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("schema %q has no column with id %d", s.SchemaName, id)
	}
	return &s.Columns[idx], nil
}

// IsKeyColumn reports whether the column id belongs to the primary key.
func (s *Schema) IsKeyColumn(id uint32) bool {
	idx, ok := s.byID[id]
	return ok && s.Columns[idx].IsKey
}

// Copy returns a deep copy. Resolver hands copies out so concurrent requests
// never share mutable column slices.
func (s *Schema) Copy() *Schema {
	columns := make([]ColumnSchema, len(s.Columns))
	copy(columns, s.Columns)
	return New(s.SchemaName, columns, s.Properties)
}

// EnumLabelMap translates (enum type OID, ordinal) to the enum's label.
type EnumLabelMap map[uint32]map[int64]string

// Label resolves an enum ordinal. It returns "" and false when either the OID
// or the ordinal is unmapped.
func (m EnumLabelMap) Label(oid uint32, ordinal int64) (string, bool) {
	labels, ok := m[oid]
	if !ok {
		return "", false
	}
	label, ok := labels[ordinal]
	return label, ok
}
