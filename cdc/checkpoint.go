package cdc

import (
	"bytes"
	"fmt"

	"github.com/naanagon/yugabyte-db/encoding"
)

// SnapshotWriteID is the write_id sentinel that marks a checkpoint as being
// in snapshot mode.
const SnapshotWriteID int32 = -1

// Checkpoint is the per-consumer cursor echoed to and from consumers. It is
// opaque on the wire; only the producer interprets it.
//
// Streaming invariants: (key empty && write_id == 0) iff the previous
// transaction finished cleanly; write_id == -1 iff snapshot mode;
// snapshot_time != 0 iff snapshot mode with a pinned read time.
type Checkpoint struct {
	Term         int64  `msgpack:"term"`
	Index        int64  `msgpack:"index"`
	WriteID      int32  `msgpack:"write_id"`
	Key          []byte `msgpack:"key,omitempty"`
	SnapshotTime uint64 `msgpack:"snapshot_time,omitempty"`
}

// OpID returns the consensus position the checkpoint has reached.
func (c Checkpoint) OpID() OpID {
	return OpID{Term: c.Term, Index: c.Index}
}

// IsSnapshot reports whether the checkpoint is in snapshot mode.
func (c Checkpoint) IsSnapshot() bool {
	return c.WriteID == SnapshotWriteID
}

// IsMidTransaction reports whether the checkpoint resumes inside a
// partially streamed transaction.
func (c Checkpoint) IsMidTransaction() bool {
	return !c.IsSnapshot() && len(c.Key) > 0 && c.WriteID != 0
}

// Compare orders checkpoints lexicographically over
// (term, index, snapshot_time, key, write_id), with one refinement: at the
// same log position the clean transaction boundary (empty key, write_id 0)
// sorts after any mid-transaction state, because it marks the whole
// transaction as streamed. A returned checkpoint never compares less than
// the received one.
func (c Checkpoint) Compare(other Checkpoint) int {
	if c.Term != other.Term {
		return compareInt64(c.Term, other.Term)
	}
	if c.Index != other.Index {
		return compareInt64(c.Index, other.Index)
	}
	if c.SnapshotTime != other.SnapshotTime {
		if c.SnapshotTime < other.SnapshotTime {
			return -1
		}
		return 1
	}
	if b, ob := c.boundary(), other.boundary(); b != ob {
		if b {
			return 1
		}
		return -1
	}
	if cmp := bytes.Compare(c.Key, other.Key); cmp != 0 {
		return cmp
	}
	if c.WriteID != other.WriteID {
		if c.WriteID < other.WriteID {
			return -1
		}
		return 1
	}
	return 0
}

// boundary reports the clean between-transactions state.
func (c Checkpoint) boundary() bool {
	return len(c.Key) == 0 && c.WriteID == 0
}

func compareInt64(a, b int64) int {
	if a < b {
		return -1
	}
	return 1
}

func (c Checkpoint) String() string {
	return fmt.Sprintf("{%d.%d write_id: %d key: %x snapshot_time: %d}",
		c.Term, c.Index, c.WriteID, c.Key, c.SnapshotTime)
}

// EncodeCheckpoint serializes a checkpoint into its opaque wire form.
func EncodeCheckpoint(c Checkpoint) ([]byte, error) {
	return encoding.Marshal(c)
}

// DecodeCheckpoint parses the opaque wire form back into a checkpoint and
// validates its mode invariants.
func DecodeCheckpoint(data []byte) (Checkpoint, error) {
	var c Checkpoint
	if err := encoding.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := ValidateCheckpoint(c); err != nil {
		return Checkpoint{}, err
	}
	return c, nil
}

// ValidateCheckpoint rejects checkpoints whose fields contradict their mode.
func ValidateCheckpoint(c Checkpoint) error {
	if c.SnapshotTime != 0 && c.WriteID != SnapshotWriteID {
		return fmt.Errorf("checkpoint %v carries a snapshot time outside snapshot mode", c)
	}
	if c.WriteID < SnapshotWriteID {
		return fmt.Errorf("checkpoint %v has an invalid write_id", c)
	}
	return nil
}
