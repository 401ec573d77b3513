package cdc

import (
	"errors"
	"fmt"

	"github.com/naanagon/yugabyte-db/docdb"
)

// TerminalStatus is the wire-level outcome of a request. Every status other
// than StatusOK ends the request; only TabletSplit and IntentsGCed end the
// stream itself.
type TerminalStatus string

const (
	StatusOK              TerminalStatus = "ok"
	StatusTabletSplit     TerminalStatus = "tablet_split"
	StatusIntentsGCed     TerminalStatus = "intents_gced"
	StatusSnapshotFailed  TerminalStatus = "snapshot_failed"
	StatusCorruptEncoding TerminalStatus = "corrupt_encoding"
	StatusUnsupportedType TerminalStatus = "unsupported_type"
	StatusInternalError   TerminalStatus = "internal_error"
)

// TabletSplitError reports that the tablet has split and the cursor has been
// advanced past the split record. The consumer must query the child tablets.
type TabletSplitError struct {
	TabletID string
}

func (e *TabletSplitError) Error() string {
	return fmt.Sprintf("tablet split on tablet %s, no more records to stream", e.TabletID)
}

// IntentsGCedError reports that the consumer asked for a transaction whose
// intents have been garbage collected. Fatal for the stream; the consumer
// must re-bootstrap via snapshot.
type IntentsGCedError struct {
	TabletID      string
	TransactionID TransactionID
	OpID          OpID
	Retention     OpID
}

func (e *IntentsGCedError) Error() string {
	return fmt.Sprintf(
		"intents for transaction %s already garbage collected on tablet %s: apply op id %v is at or below retention checkpoint %v",
		e.TransactionID, e.TabletID, e.OpID, e.Retention)
}

// SnapshotFailedError reports a failed snapshot scan. The consumer may retry.
type SnapshotFailedError struct {
	TabletID string
	Reason   string
}

func (e *SnapshotFailedError) Error() string {
	return fmt.Sprintf("snapshot failed for tablet %s: %s", e.TabletID, e.Reason)
}

// UnsupportedTypeError reports a column with a type OID the emitter cannot
// translate.
type UnsupportedTypeError struct {
	Column  string
	TypeOid uint32
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported pg type oid %d for column %q", e.TypeOid, e.Column)
}

// InternalError reports an invariant violation inside the producer.
type InternalError struct {
	Detail string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Detail)
}

// ErrTableNotFound is returned by catalog clients when no schema exists for
// the requested table at the requested time.
var ErrTableNotFound = errors.New("table not found in catalog")

// StatusOf maps an error to its wire-level terminal status.
func StatusOf(err error) TerminalStatus {
	if err == nil {
		return StatusOK
	}
	var (
		split       *TabletSplitError
		gced        *IntentsGCedError
		snapshot    *SnapshotFailedError
		unsupported *UnsupportedTypeError
		corruptErr  *docdb.CorruptEncodingError
	)
	switch {
	case errors.As(err, &split):
		return StatusTabletSplit
	case errors.As(err, &gced):
		return StatusIntentsGCed
	case errors.As(err, &snapshot):
		return StatusSnapshotFailed
	case errors.As(err, &unsupported):
		return StatusUnsupportedType
	case errors.As(err, &corruptErr):
		return StatusCorruptEncoding
	default:
		return StatusInternalError
	}
}
