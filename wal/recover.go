package wal

import (
	"fmt"
	"sort"

	"github.com/luigitni/vtxlog/apply"
	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/stage"
)

// scanForward walks the log from offset 0, decoding one record at a time
// and invoking yield with its LSN. A record whose total_len would overrun
// EOF is treated as a crash mid-append: scanForward truncates the log file
// at that offset and stops, per spec.md §4.4.5.
func (m *Manager) scanForward(yield func(lsn int32, rec Record) error) error {
	info, err := m.file.Stat()
	if err != nil {
		return fmt.Errorf("wal: stat log: %w", err)
	}
	size := info.Size()

	var offset int64
	for offset < size {
		lenBuf := make([]byte, 4)
		if _, err := m.file.ReadAt(lenBuf, offset); err != nil {
			if err := m.file.Truncate(offset); err != nil {
				return fmt.Errorf("wal: truncating torn record at %d: %w", offset, err)
			}
			break
		}
		totalLen := int64(lenBuf[0]) | int64(lenBuf[1])<<8 | int64(lenBuf[2])<<16 | int64(lenBuf[3])<<24

		if offset+totalLen > size {
			if err := m.file.Truncate(offset); err != nil {
				return fmt.Errorf("wal: truncating torn record at %d: %w", offset, err)
			}
			break
		}

		body := make([]byte, totalLen-4)
		if _, err := m.file.ReadAt(body, offset+4); err != nil {
			return fmt.Errorf("wal: reading record body at %d: %w", offset, err)
		}

		rec, err := decodeRecord(body)
		if err != nil {
			return err
		}

		if err := yield(int32(offset), rec); err != nil {
			return err
		}

		offset += totalLen
	}

	return nil
}

// Recover runs the three-phase ARIES-style recovery spec.md §4.4.3
// describes: analysis identifies transactions in flight at crash, redo
// brings the buffer up to "as if every logged effect had been applied",
// and undo rolls back whatever analysis found unfinished.
func (m *Manager) Recover() error {
	m.log.Info().Msg("recovery: starting analysis")
	inFlight, err := m.analyze()
	if err != nil {
		return err
	}

	m.log.Info().Int("in_flight", len(inFlight)).Msg("recovery: starting redo")
	if err := m.redo(); err != nil {
		return err
	}

	m.log.Info().Msg("recovery: starting undo")
	if err := m.undo(inFlight); err != nil {
		return err
	}

	m.log.Info().Msg("recovery: complete")
	return nil
}

// analyze scans the log once, tracking each transaction's last-seen LSN and
// dropping it on COMMIT/TXNEND. What remains was in flight (or mid-rollback)
// at crash time.
func (m *Manager) analyze() (map[uint32]int32, error) {
	last := make(map[uint32]int32)

	err := m.scanForward(func(lsn int32, rec Record) error {
		last[rec.TxnID()] = lsn
		if rec.Type() == Commit || rec.Type() == TxnEnd {
			delete(last, rec.TxnID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.lastLSN = make(map[uint32]int32, len(last))
	for txn, lsn := range last {
		m.lastLSN[txn] = lsn
	}
	m.mu.Unlock()

	return last, nil
}

// redo scans the log a second time and re-applies every UPDATE/CLR record
// whose LSN exceeds the current max LSN resident for the group(s) it
// touches, restoring buffer state to "as if all logged effects were
// applied" regardless of which slots survived the crash already flushed.
func (m *Manager) redo() error {
	return m.scanForward(func(lsn int32, rec Record) error {
		switch r := rec.(type) {
		case LogicalUpdateRecord:
			return m.redoLogical(r.Meta, r.Args, lsn)
		case LogicalCLRRecord:
			return m.redoLogical(r.Meta, r.ReversedArgs, lsn)
		case PhysicalUpdateRecord:
			group, err := stage.GroupFromPath(r.BeforeDeltaPath)
			if err != nil {
				return err
			}
			return m.redoGroupGated(r.Meta, group, lsn, func() error {
				return apply.ForwardGroups(m.buf, m.proc, r.Meta, r.Args, int(lsn), []int{group})
			})
		case PPhysicalUpdateRecord:
			after, err := stage.ReadDelta(r.AfterDeltaPath)
			if err != nil {
				return err
			}
			return m.redoGroupGated(r.Meta, after.Group, lsn, func() error {
				return apply.InstallBatch(m.buf, r.Meta, after, int(lsn))
			})
		case PhysicalCLRRecord:
			before, err := stage.ReadDelta(r.BeforeDeltaPath)
			if err != nil {
				return err
			}
			return m.redoGroupGated(r.Meta, before.Group, lsn, func() error {
				return apply.InstallBatch(m.buf, r.Meta, before, int(lsn))
			})
		case PPhysicalCLRRecord:
			before, err := stage.ReadDelta(r.BeforeDeltaPath)
			if err != nil {
				return err
			}
			return m.redoGroupGated(r.Meta, before.Group, lsn, func() error {
				return apply.InstallBatch(m.buf, r.Meta, before, int(lsn))
			})
		}
		return nil
	})
}

// undo sorts the transactions analysis found in flight by descending LSN
// and rolls each back in turn. With single-transaction workloads the order
// is immaterial, but the discipline generalizes to overlapping txns.
func (m *Manager) undo(inFlight map[uint32]int32) error {
	type entry struct {
		txn uint32
		lsn int32
	}
	entries := make([]entry, 0, len(inFlight))
	for txn, lsn := range inFlight {
		entries = append(entries, entry{txn, lsn})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].lsn > entries[j].lsn })

	for _, e := range entries {
		m.log.Info().Uint32("txn", e.txn).Msg("recovery: resuming rollback of in-flight transaction")
		if err := m.undoFrom(e.txn, e.lsn); err != nil {
			return err
		}
	}
	return nil
}

// redoLogical re-applies args to every group it touches whose current max
// LSN trails lsn.
func (m *Manager) redoLogical(meta catalog.Metadata, args catalog.UpdateArgs, lsn int32) error {
	var eligible []int
	for _, g := range apply.TouchedGroups(args, m.batchSize) {
		maxLSN, err := m.buf.GroupMaxLSN(meta, g)
		if err != nil {
			return err
		}
		if int(lsn) > maxLSN {
			eligible = append(eligible, g)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	return apply.ForwardGroups(m.buf, m.proc, meta, args, int(lsn), eligible)
}

// redoGroupGated runs reapply only if group's current max LSN trails lsn,
// the single-group gating redo needs for physical/pure-physical records.
func (m *Manager) redoGroupGated(meta catalog.Metadata, group int, lsn int32, reapply func() error) error {
	maxLSN, err := m.buf.GroupMaxLSN(meta, group)
	if err != nil {
		return err
	}
	if int(lsn) <= maxLSN {
		return nil
	}
	return reapply()
}
