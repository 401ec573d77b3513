package cdc

import (
	"encoding/hex"
	"fmt"

	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
)

// Op identifies the kind of a row message.
type Op uint8

const (
	OpUnknown Op = iota
	OpBegin
	OpCommit
	OpInsert
	OpUpdate
	OpDelete
	OpRead
	OpDDL
	OpTruncate
)

func (o Op) String() string {
	switch o {
	case OpBegin:
		return "BEGIN"
	case OpCommit:
		return "COMMIT"
	case OpInsert:
		return "INSERT"
	case OpUpdate:
		return "UPDATE"
	case OpDelete:
		return "DELETE"
	case OpRead:
		return "READ"
	case OpDDL:
		return "DDL"
	case OpTruncate:
		return "TRUNCATE"
	default:
		return "UNKNOWN"
	}
}

// OpID locates a consensus log entry. Ordered lexicographically by
// (term, index).
type OpID struct {
	Term  int64 `msgpack:"term"`
	Index int64 `msgpack:"index"`
}

// InvalidOpID sorts before every valid OpID.
var InvalidOpID = OpID{Term: -1, Index: -1}

// Valid reports whether the OpID refers to a real log entry.
func (o OpID) Valid() bool {
	return o.Term >= 0 && o.Index >= 0
}

// Less orders OpIDs by (term, index).
func (o OpID) Less(other OpID) bool {
	if o.Term != other.Term {
		return o.Term < other.Term
	}
	return o.Index < other.Index
}

func (o OpID) String() string {
	return fmt.Sprintf("%d.%d", o.Term, o.Index)
}

// TransactionID identifies a distributed transaction.
type TransactionID [16]byte

func (t TransactionID) String() string {
	return hex.EncodeToString(t[:])
}

// IsNil reports whether the id is the zero id.
func (t TransactionID) IsNil() bool {
	return t == TransactionID{}
}

// Datum is one typed column value inside an event tuple. A zero Datum with
// Present=false is a placeholder for a column the event does not touch;
// Null=true is an explicit SQL NULL, which is distinct from "not written".
type Datum struct {
	ColumnName string `msgpack:"name,omitempty"`
	ColumnType uint32 `msgpack:"type,omitempty"`
	Present    bool   `msgpack:"present"`
	Null       bool   `msgpack:"null,omitempty"`
	Value      any    `msgpack:"value,omitempty"`
}

// ColumnInfo is column metadata carried on DDL events.
type ColumnInfo struct {
	Name       string `msgpack:"name"`
	TypeOid    uint32 `msgpack:"oid"`
	IsKey      bool   `msgpack:"is_key"`
	IsHashKey  bool   `msgpack:"is_hash_key"`
	IsNullable bool   `msgpack:"is_nullable"`
}

// TablePropertiesInfo is table metadata carried on DDL events.
type TablePropertiesInfo struct {
	DefaultTimeToLive int64 `msgpack:"default_ttl"`
	NumTablets        int32 `msgpack:"num_tablets"`
	IsYsqlCatalog     bool  `msgpack:"is_ysql_catalog"`
}

// SchemaInfo is the schema payload of a DDL event.
type SchemaInfo struct {
	Columns    []ColumnInfo        `msgpack:"columns"`
	Properties TablePropertiesInfo `msgpack:"properties"`
}

// RowMessage is the logical payload of one change event.
type RowMessage struct {
	Op            Op             `msgpack:"op"`
	Table         string         `msgpack:"table"`
	PgSchemaName  string         `msgpack:"pgschema,omitempty"`
	TransactionID string         `msgpack:"txn_id,omitempty"`
	CommitTime    uint64         `msgpack:"commit_time,omitempty"`
	OldTuple      []Datum        `msgpack:"old_tuple,omitempty"`
	NewTuple      []Datum        `msgpack:"new_tuple,omitempty"`
	Schema        *SchemaInfo    `msgpack:"schema,omitempty"`
	SchemaVersion schema.Version `msgpack:"schema_version,omitempty"`
	NewTableName  string         `msgpack:"new_table_name,omitempty"`
}

// RecordOpID is the per-event locator: the log entry plus the position
// inside the transaction's intent sequence.
type RecordOpID struct {
	Term       int64  `msgpack:"term"`
	Index      int64  `msgpack:"index"`
	WriteID    int32  `msgpack:"write_id"`
	WriteIDKey []byte `msgpack:"write_id_key,omitempty"`
}

// Record is the wire envelope of one event.
type Record struct {
	ID  RecordOpID `msgpack:"id"`
	Row RowMessage `msgpack:"row"`
}

// setOperation stamps the op kind and the schema name the way every row
// event carries it.
func setOperation(row *RowMessage, op Op, s *schema.Schema) {
	row.Op = op
	row.PgSchemaName = s.SchemaName
}

// addTuple appends a datum slot to the event, returning the live side.
// DELETE populates old_tuple; every other kind populates new_tuple. The
// opposite list always receives a placeholder so both stay equal length.
func addTuple(row *RowMessage) *Datum {
	if row.Op == OpDelete {
		row.OldTuple = append(row.OldTuple, Datum{})
		row.NewTuple = append(row.NewTuple, Datum{})
		return &row.OldTuple[len(row.OldTuple)-1]
	}
	row.NewTuple = append(row.NewTuple, Datum{})
	row.OldTuple = append(row.OldTuple, Datum{})
	return &row.NewTuple[len(row.NewTuple)-1]
}

// schemaInfoFrom converts a resolved schema into the DDL payload shape.
func schemaInfoFrom(s *schema.Schema) *SchemaInfo {
	info := &SchemaInfo{
		Columns: make([]ColumnInfo, 0, len(s.Columns)),
		Properties: TablePropertiesInfo{
			DefaultTimeToLive: s.Properties.DefaultTimeToLive,
			NumTablets:        s.Properties.NumTablets,
			IsYsqlCatalog:     s.Properties.IsYsqlCatalog,
		},
	}
	for _, col := range s.Columns {
		info.Columns = append(info.Columns, ColumnInfo{
			Name:       col.Name,
			TypeOid:    col.TypeOid,
			IsKey:      col.IsKey,
			IsHashKey:  col.IsHash,
			IsNullable: col.Nullable,
		})
	}
	return info
}

// ddlRecord builds a synthetic DDL record for a table at a schema version.
func ddlRecord(tableName string, s *schema.Schema, version schema.Version, opID OpID) Record {
	return Record{
		ID: RecordOpID{Term: opID.Term, Index: opID.Index},
		Row: RowMessage{
			Op:            OpDDL,
			Table:         tableName,
			PgSchemaName:  s.SchemaName,
			Schema:        schemaInfoFrom(s),
			SchemaVersion: version,
		},
	}
}

// TableInfo names one table hosted on a tablet. Colocated tablets host
// several.
type TableInfo struct {
	TableID   string
	TableName string
}

// Intent is one provisional write of a committed-but-being-applied
// transaction, borrowed read-only from the intent store.
type Intent struct {
	Key             []byte
	Value           []byte
	HT              hlc.HybridTime
	WriteID         int32
	ReverseIndexKey []byte
}
