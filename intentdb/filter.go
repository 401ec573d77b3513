package intentdb

import (
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/telemetry"
)

const (
	// Cuckoo filter configuration
	// capacity = bucketSize × numBuckets = 4 × 250000 = 1M transactions
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 32
	cuckooNumBuckets      = 250000
)

// TxnFilter answers "might this transaction have live intents?" without
// touching the store. A MISS is definite: the producer can fail fast with
// the garbage-collection check instead of scanning.
//
// Thread-safe for concurrent access.
type TxnFilter struct {
	mu     sync.RWMutex
	filter *cuckoo.Filter
	live   map[cdc.TransactionID]struct{}
}

// NewTxnFilter creates the filter.
func NewTxnFilter() *TxnFilter {
	return &TxnFilter{
		filter: cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize,
			cuckooNumBuckets, cuckoo.TableTypePacked),
		live: make(map[cdc.TransactionID]struct{}),
	}
}

func txnFingerprint(txnID cdc.TransactionID) []byte {
	sum := xxhash.Sum64(txnID[:])
	return []byte{
		byte(sum), byte(sum >> 8), byte(sum >> 16), byte(sum >> 24),
		byte(sum >> 32), byte(sum >> 40), byte(sum >> 48), byte(sum >> 56),
	}
}

// MaybeContains returns false only when the transaction definitely has no
// live intents.
func (f *TxnFilter) MaybeContains(txnID cdc.TransactionID) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.filter.Contain(txnFingerprint(txnID)) {
		telemetry.IntentFilterChecks.With("hit").Inc()
		return true
	}
	telemetry.IntentFilterChecks.With("miss").Inc()
	return false
}

// Add marks a transaction as having live intents. Idempotent per txn.
func (f *TxnFilter) Add(txnID cdc.TransactionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[txnID]; ok {
		return
	}
	f.live[txnID] = struct{}{}
	f.filter.Add(txnFingerprint(txnID))
	telemetry.IntentStoreLiveTransactions.Set(float64(len(f.live)))
}

// Remove clears a transaction once its intents are deleted.
func (f *TxnFilter) Remove(txnID cdc.TransactionID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[txnID]; !ok {
		return
	}
	delete(f.live, txnID)
	f.filter.Delete(txnFingerprint(txnID))
	telemetry.IntentStoreLiveTransactions.Set(float64(len(f.live)))
}

// Live returns the number of transactions with live intents.
func (f *TxnFilter) Live() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.live)
}
