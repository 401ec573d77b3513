package cdc

import (
	"bytes"
	"fmt"

	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/schema"
)

// RowAssemblerConfig carries the per-transaction context the assembler
// stamps onto every event it emits.
type RowAssemblerConfig struct {
	Schema        *schema.Schema
	Emitter       *ValueEmitter
	Packed        bool
	Table         string
	TransactionID string
	CommitTime    uint64
	OpID          OpID
	Consumption   *ScopedConsumption
}

// RowAssembler groups a run of key/value cells for the same primary key into
// one logical row event and decides INSERT vs UPDATE vs DELETE. In packed
// mode successive column writes of a row coalesce into a single UPDATE; in
// unpacked mode every cell becomes its own event. INSERTs are held back
// until the accumulated column count saturates the schema width.
type RowAssembler struct {
	cfg RowAssemblerConfig

	records []Record

	prevKeyPrefix   []byte
	prevFingerprint uint64
	havePrev        bool
	prevPhysTime    int64
	colCount        int

	row     RowMessage
	rowOpen bool

	// prevIntent locates the last intent folded into the pending UPDATE.
	// Flushing with it keeps resumption from re-emitting covered columns.
	prevIntent Intent

	lastWriteID int32
	lastRevKey  []byte
}

// NewRowAssembler builds an assembler for one transaction's intent run.
func NewRowAssembler(cfg RowAssemblerConfig) *RowAssembler {
	return &RowAssembler{cfg: cfg}
}

// Cursor returns the (write_id, reverse_index_key) of the last intent whose
// effect is fully covered by emitted events.
func (a *RowAssembler) Cursor() (int32, []byte) {
	return a.lastWriteID, a.lastRevKey
}

// Records returns the events emitted so far.
func (a *RowAssembler) Records() []Record {
	return a.records
}

// ProcessIntent feeds one intent through the row state machine.
func (a *RowAssembler) ProcessIntent(intent Intent) error {
	decodedKey, err := docdb.DecodeKey(intent.Key)
	if err != nil {
		return err
	}
	decodedValue, err := docdb.DecodeValue(intent.Value)
	if err != nil {
		return err
	}

	// A primary-key column cell carries nothing the row's own key does not:
	// advance the cursor bookkeeping and move on.
	class := decodedKey.ClassifyColumn(a.cfg.Schema)
	if class == docdb.ColumnPrimaryKey {
		a.lastWriteID = intent.WriteID
		a.lastRevKey = intent.ReverseIndexKey
		return nil
	}

	a.cfg.Consumption.Add(int64(len(intent.Key)))

	fingerprint := decodedKey.Fingerprint()
	sameRow := a.havePrev && fingerprint == a.prevFingerprint &&
		bytes.Equal(decodedKey.PrimaryKeyPrefix, a.prevKeyPrefix)
	rootTombstone := decodedValue.Class == docdb.ValueClassTombstone && decodedKey.SubKeyDepth == 0

	var newRecordNeeded bool
	if a.cfg.Packed {
		newRecordNeeded = !sameRow || a.colCount >= a.cfg.Schema.NumColumns() ||
			rootTombstone ||
			a.prevPhysTime != intent.HT.PhysicalMicros()
	} else {
		newRecordNeeded = !sameRow || a.colCount >= a.cfg.Schema.NumColumns()
	}

	if newRecordNeeded {
		if a.cfg.Packed {
			// Flush the pending UPDATE first, then reset the column count
			// for the row being opened.
			if a.rowOpen && a.row.Op == OpUpdate {
				a.emit(a.prevIntent)
			}
			a.colCount = 0
		}

		a.row = RowMessage{}
		a.rowOpen = true

		switch {
		case rootTombstone:
			setOperation(&a.row, OpDelete, a.cfg.Schema)
			a.lastWriteID = intent.WriteID
			a.lastRevKey = intent.ReverseIndexKey
			if !a.cfg.Packed {
				a.colCount = a.cfg.Schema.NumColumns()
			}
		case class == docdb.ColumnSystem && decodedValue.Class == docdb.ValueClassNullLow:
			setOperation(&a.row, OpInsert, a.cfg.Schema)
			a.colCount = a.cfg.Schema.NumKeyColumns() - 1
		case decodedValue.Class == docdb.ValueClassPackedRow && class == docdb.ColumnNone:
			setOperation(&a.row, OpInsert, a.cfg.Schema)
			a.colCount = a.cfg.Schema.NumKeyColumns() - 1
		default:
			setOperation(&a.row, OpUpdate, a.cfg.Schema)
			a.lastWriteID = intent.WriteID
			a.lastRevKey = intent.ReverseIndexKey
			if !a.cfg.Packed {
				a.colCount = a.cfg.Schema.NumColumns()
			}
		}

		a.row.TransactionID = a.cfg.TransactionID
		a.row.CommitTime = a.cfg.CommitTime
		if err := a.addPrimaryKey(decodedKey); err != nil {
			return err
		}
	}

	a.prevKeyPrefix = decodedKey.PrimaryKeyPrefix
	a.prevFingerprint = fingerprint
	a.havePrev = true
	a.prevPhysTime = intent.HT.PhysicalMicros()

	if a.row.Op == OpInsert || a.row.Op == OpUpdate {
		if a.cfg.Packed || a.row.Op == OpInsert {
			a.colCount++
		}
		if err := a.addIntentDatum(decodedKey, decodedValue, class); err != nil {
			return err
		}
	}

	a.row.Table = a.cfg.Table

	// A packed-row cell is one complete row write; it never waits for more
	// cells to saturate.
	isPackedRow := decodedValue.Class == docdb.ValueClassPackedRow

	if a.cfg.Packed {
		if (a.row.Op == OpInsert && a.colCount == a.cfg.Schema.NumColumns()) ||
			a.row.Op == OpDelete || isPackedRow {
			a.emit(intent)
			a.colCount = a.cfg.Schema.NumColumns()
		} else if a.row.Op == OpUpdate {
			a.prevIntent = intent
		}
	} else {
		if (a.row.Op == OpInsert && a.colCount == a.cfg.Schema.NumColumns()) ||
			a.row.Op == OpUpdate || a.row.Op == OpDelete || isPackedRow {
			a.emit(intent)
		}
	}
	return nil
}

// Flush emits the pending UPDATE at the end of the batch, if any.
func (a *RowAssembler) Flush() {
	if a.cfg.Packed && a.rowOpen && a.row.Op == OpUpdate {
		a.row.Table = a.cfg.Table
		a.emit(a.prevIntent)
		a.rowOpen = false
	}
}

func (a *RowAssembler) addPrimaryKey(decodedKey *docdb.DecodedKey) error {
	return addPrimaryKeyColumns(a.cfg.Emitter, a.cfg.Schema, decodedKey, &a.row)
}

// addPrimaryKeyColumns materializes the primary-key tuple from the row's
// key. Key columns lead the schema's column order.
func addPrimaryKeyColumns(emitter *ValueEmitter, s *schema.Schema, decodedKey *docdb.DecodedKey, row *RowMessage) error {
	if len(decodedKey.PrimaryKey) > s.NumKeyColumns() {
		return &InternalError{Detail: fmt.Sprintf(
			"doc key carries %d values but schema %q has %d key columns",
			len(decodedKey.PrimaryKey), s.SchemaName, s.NumKeyColumns())}
	}
	for i, value := range decodedKey.PrimaryKey {
		col := &s.Columns[i]
		if err := emitter.Emit(col, value, addTuple(row)); err != nil {
			return err
		}
	}
	return nil
}

// addIntentDatum appends the intent's own column value to the live tuple.
func (a *RowAssembler) addIntentDatum(decodedKey *docdb.DecodedKey, decodedValue *docdb.DecodedValue, class docdb.ColumnClass) error {
	switch {
	case class == docdb.ColumnRegular:
		col, err := a.cfg.Schema.ColumnByID(decodedKey.ColumnID)
		if err != nil {
			return &InternalError{Detail: err.Error()}
		}
		return a.cfg.Emitter.Emit(col, decodedValue.Primitive, addTuple(&a.row))
	case decodedValue.Class == docdb.ValueClassPackedRow:
		emitted := 0
		for _, packed := range decodedValue.Packed {
			if a.cfg.Schema.IsKeyColumn(packed.ColumnID) {
				continue
			}
			col, err := a.cfg.Schema.ColumnByID(packed.ColumnID)
			if err != nil {
				return &InternalError{Detail: err.Error()}
			}
			if err := a.cfg.Emitter.Emit(col, packed.Value, addTuple(&a.row)); err != nil {
				return err
			}
			emitted++
		}
		// The generic per-intent count covered the liveness slot; the
		// packed cells themselves count individually.
		a.colCount += emitted
	case class == docdb.ColumnSystem:
		// Liveness column, carries no datum.
	default:
		dfatal("unexpected value type in key: class=%v value=%v", class, decodedValue.Class)
	}
	return nil
}

func (a *RowAssembler) emit(locator Intent) {
	record := Record{
		ID: RecordOpID{
			Term:       a.cfg.OpID.Term,
			Index:      a.cfg.OpID.Index,
			WriteID:    locator.WriteID,
			WriteIDKey: locator.ReverseIndexKey,
		},
		Row: cloneRowMessage(a.row),
	}
	a.records = append(a.records, record)
	a.lastWriteID = locator.WriteID
	a.lastRevKey = locator.ReverseIndexKey
}

// cloneRowMessage deep-copies tuple slices so later accumulation never
// mutates an already emitted event.
func cloneRowMessage(row RowMessage) RowMessage {
	out := row
	out.OldTuple = append([]Datum(nil), row.OldTuple...)
	out.NewTuple = append([]Datum(nil), row.NewTuple...)
	return out
}
