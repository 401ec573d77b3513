package tablet

import (
	"bytes"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/encoding"
	"github.com/naanagon/yugabyte-db/hlc"
)

const prefixRow = "/row/" // /row/{doc key prefix}

// rowRecord is the stored post-image of one row.
type rowRecord struct {
	HT      uint64            `msgpack:"ht"`
	Columns map[uint32][]byte `msgpack:"cols"` // column id -> encoded primitive
}

// RowStore holds materialized row post-images, the surface snapshot scans
// read. Apply paths upsert whole rows; the store keeps only the latest image
// per row with its commit hybrid time.
type RowStore struct {
	db *pebble.DB
}

// OpenRowStore opens (creating if needed) a row store at path.
func OpenRowStore(path string) (*RowStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}
	return &RowStore{db: db}, nil
}

// Close closes the store.
func (s *RowStore) Close() error {
	return s.db.Close()
}

func rowKey(docKeyPrefix []byte) []byte {
	return append([]byte(prefixRow), docKeyPrefix...)
}

// Upsert writes the post-image of one row.
func (s *RowStore) Upsert(docKeyPrefix []byte, ht hlc.HybridTime, columns map[uint32]docdb.PrimitiveValue) error {
	record := rowRecord{HT: ht.ToUint64(), Columns: make(map[uint32][]byte, len(columns))}
	for id, value := range columns {
		record.Columns[id] = docdb.EncodePrimitive(value)
	}
	encoded, err := encoding.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode row record: %w", err)
	}
	return s.db.Set(rowKey(docKeyPrefix), encoded, pebble.Sync)
}

// Delete removes a row.
func (s *RowStore) Delete(docKeyPrefix []byte) error {
	return s.db.Delete(rowKey(docKeyPrefix), pebble.Sync)
}

// NewIterator opens a scan pinned at readTime starting at startKey (a doc
// key prefix, empty for the table start).
func (s *RowStore) NewIterator(readTime hlc.HybridTime, startKey []byte) (cdc.SnapshotIterator, error) {
	lower := []byte(prefixRow)
	if len(startKey) > 0 {
		lower = rowKey(startKey)
	}
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: []byte(prefixRow + "\xff"),
	})
	if err != nil {
		return nil, fmt.Errorf("row iterator: %w", err)
	}
	return &rowIterator{iter: iter, readTime: readTime, first: true}, nil
}

type rowIterator struct {
	iter     *pebble.Iterator
	readTime hlc.HybridTime
	first    bool
	returned bool
	lastKey  []byte
	done     bool
}

// Next returns the next row whose commit time is at or before the pinned
// read time, or nil at the end of the scan.
func (it *rowIterator) Next() (*cdc.SnapshotRow, error) {
	var valid bool
	if it.first {
		valid = it.iter.First()
		it.first = false
	} else {
		valid = it.iter.Next()
	}
	for ; valid; valid = it.iter.Next() {
		var record rowRecord
		if err := encoding.Unmarshal(it.iter.Value(), &record); err != nil {
			return nil, fmt.Errorf("decode row record: %w", err)
		}
		if hlc.FromUint64(record.HT) > it.readTime {
			continue
		}
		row := &cdc.SnapshotRow{Values: make(map[uint32]docdb.PrimitiveValue, len(record.Columns))}
		for id, encodedValue := range record.Columns {
			decoded, err := docdb.DecodeValue(encodedValue)
			if err != nil {
				return nil, err
			}
			row.Values[id] = decoded.Primitive
		}
		it.lastKey = bytes.TrimPrefix(append([]byte(nil), it.iter.Key()...), []byte(prefixRow))
		it.returned = true
		return row, nil
	}
	it.done = true
	return nil, nil
}

// NextReadKey returns the scan key following the last returned row. Empty
// only when the scan returned no rows and is exhausted, so completion is
// observed by the scan that starts past the final row.
func (it *rowIterator) NextReadKey() ([]byte, error) {
	if it.returned {
		// Successor of the last returned doc key.
		return append(append([]byte(nil), it.lastKey...), 0x00), nil
	}
	if it.done {
		return nil, nil
	}
	return nil, nil
}

func (it *rowIterator) Close() error {
	return it.iter.Close()
}
