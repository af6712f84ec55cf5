// Package frame defines the row and batch types that flow between the page
// store, the buffer manager and the update processor: a Row is one frame
// (an id, its image bytes, and the LSN that last tagged it); a Batch is a
// group's worth of rows, the unit of buffer residency and page-store I/O.
package frame

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// NoLSN is the sentinel LSN value meaning "no update has tagged this row".
const NoLSN = -1

// Row is a single frame: a stable integer id, its opaque image bytes, and
// the LSN of the most recent record that wrote it.
type Row struct {
	ID   int    `msgpack:"id"`
	Data []byte `msgpack:"data"`
	LSN  int    `msgpack:"lsn"`
}

// Clone returns a deep copy of the row so callers can mutate Data without
// aliasing a slot's resident bytes.
func (r Row) Clone() Row {
	cp := make([]byte, len(r.Data))
	copy(cp, r.Data)
	return Row{ID: r.ID, Data: cp, LSN: r.LSN}
}

// Batch is the rows of a single group, in ascending id order.
type Batch struct {
	Group int
	Rows  []Row
}

// NewBatch builds a batch for the given group from the given rows.
func NewBatch(group int, rows []Row) Batch {
	return Batch{Group: group, Rows: rows}
}

// Empty reports whether the batch carries no rows.
func (b Batch) Empty() bool {
	return len(b.Rows) == 0
}

// MaxLSN returns the maximum LSN across the batch's rows, or NoLSN if the
// batch is empty.
func (b Batch) MaxLSN() int {
	max := NoLSN
	for _, r := range b.Rows {
		if r.LSN > max {
			max = r.LSN
		}
	}
	return max
}

// Filter returns a new batch containing only the rows whose id falls in the
// inclusive range [startFrame, endFrame].
func (b Batch) Filter(startFrame, endFrame int) Batch {
	var rows []Row
	for _, r := range b.Rows {
		if r.ID >= startFrame && r.ID <= endFrame {
			rows = append(rows, r.Clone())
		}
	}
	return Batch{Group: b.Group, Rows: rows}
}

// Clone returns a deep copy of the batch.
func (b Batch) Clone() Batch {
	rows := make([]Row, len(b.Rows))
	for i, r := range b.Rows {
		rows[i] = r.Clone()
	}
	return Batch{Group: b.Group, Rows: rows}
}

// Serialize encodes the batch with a self-describing encoding, the same
// format the page store persists groups and the transaction manager stages
// before/after deltas with.
func (b Batch) Serialize() ([]byte, error) {
	out, err := msgpack.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("frame: serializing batch: %w", err)
	}
	return out, nil
}

// DeserializeBatch decodes a Batch previously produced by Serialize.
func DeserializeBatch(b []byte) (Batch, error) {
	var batch Batch
	if err := msgpack.Unmarshal(b, &batch); err != nil {
		return Batch{}, fmt.Errorf("frame: deserializing batch: %w", err)
	}
	return batch, nil
}
