package buffer

import "github.com/luigitni/vtxlog/frame"

// key identifies a slot's residency: one dataset's one group.
type key struct {
	fileURL string
	group   int
}

// slot is one resident group: its rows, and whether they differ from what
// the page store has on disk. Mirrors the shape of
// luigitni-simpledb/buffer/buffer.go's Buffer, generalized from a fixed-size
// disk block to a variable-length group of frame rows.
type slot struct {
	key   key
	batch frame.Batch
	dirty bool
}

func (s *slot) maxLSN() int {
	return s.batch.MaxLSN()
}

// mergeRows merges delta's rows into the slot's resident batch, matching by
// id: every non-id column of a matching row (including lsn) is overwritten
// by the incoming row; rows not already present are appended.
func (s *slot) mergeRows(delta frame.Batch) {
	byID := make(map[int]int, len(s.batch.Rows))
	for i, r := range s.batch.Rows {
		byID[r.ID] = i
	}

	for _, incoming := range delta.Rows {
		if i, ok := byID[incoming.ID]; ok {
			s.batch.Rows[i] = incoming.Clone()
			continue
		}
		s.batch.Rows = append(s.batch.Rows, incoming.Clone())
		byID[incoming.ID] = len(s.batch.Rows) - 1
	}

	s.dirty = true
}
