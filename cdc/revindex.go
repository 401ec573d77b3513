package cdc

import (
	"encoding/binary"
	"fmt"
)

// reverseIndexTag leads every reverse-index key so a checkpoint key can be
// told apart from a snapshot scan key.
const reverseIndexTag byte = 0x54

// EncodeReverseIndexKey builds the intent-store reverse-index key for one
// write of a transaction. Keys of a transaction sort by write id, which is
// the transaction's logical write order.
func EncodeReverseIndexKey(txnID TransactionID, writeID int32) []byte {
	key := make([]byte, 0, 1+len(txnID)+4)
	key = append(key, reverseIndexTag)
	key = append(key, txnID[:]...)
	key = binary.BigEndian.AppendUint32(key, uint32(writeID))
	return key
}

// DecodeReverseIndexTransaction extracts the transaction id from a
// reverse-index key.
func DecodeReverseIndexTransaction(key []byte) (TransactionID, error) {
	if len(key) < 1+16 || key[0] != reverseIndexTag {
		return TransactionID{}, fmt.Errorf("malformed reverse index key %x", key)
	}
	var txnID TransactionID
	copy(txnID[:], key[1:17])
	return txnID, nil
}

// DecodeReverseIndexWriteID extracts the write id from a reverse-index key.
func DecodeReverseIndexWriteID(key []byte) (int32, error) {
	if len(key) != 1+16+4 || key[0] != reverseIndexTag {
		return 0, fmt.Errorf("malformed reverse index key %x", key)
	}
	return int32(binary.BigEndian.Uint32(key[17:])), nil
}
