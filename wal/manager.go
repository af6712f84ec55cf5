// Package wal is the log manager (C4), the critical subsystem: it owns the
// single append-only log file, assigns LSNs, drives transaction rollback,
// and drives three-phase crash recovery. Grounded in structure on
// luigitni-simpledb/tx/logrecord.go (a tagged-union record decoded by a
// dispatch switch, a cursor helper for binary fields) and
// luigitni-simpledb/tx/recovery_manager.go (a manager that owns
// commit/rollback/recover and calls back into the buffer manager),
// generalized from a block-paged log with counter LSNs to a flat file
// addressed by byte offset, per original_source/src/Logging/
// logical_log_manager.py's rollback/recover control flow.
package wal

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/luigitni/vtxlog/apply"
	"github.com/luigitni/vtxlog/buffer"
	"github.com/luigitni/vtxlog/catalog"
	"github.com/luigitni/vtxlog/ops"
	"github.com/luigitni/vtxlog/pressure"
	"github.com/luigitni/vtxlog/stage"
)

var (
	// ErrUnknownRecordType aborts recovery: an unrecognized type tag means
	// the log was written by a version of this system we can't interpret.
	ErrUnknownRecordType = errors.New("wal: unknown record type")

	// ErrBrokenChain names a prev_lsn chain that cannot be followed to its
	// expected terminator. No function in this package returns it: a chain
	// that points at an unreadable record surfaces as that record's read or
	// decode error.
	ErrBrokenChain = errors.New("wal: broken prev_lsn chain")
)

const noLSN int32 = -1

// Manager owns the log file and the bookkeeping needed to append records,
// roll a transaction back, and recover the system after a crash.
type Manager struct {
	path      string
	file      *os.File
	buf       *buffer.Manager
	proc      *ops.Processor
	batchSize int
	log       zerolog.Logger

	mu      sync.Mutex
	lastLSN map[uint32]int32
}

// NewManager opens (creating if necessary) the log file at path.
func NewManager(path string, buf *buffer.Manager, proc *ops.Processor, batchSize int) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: opening log %q: %w", path, err)
	}
	return &Manager{
		path:      path,
		file:      f,
		buf:       buf,
		proc:      proc,
		batchSize: batchSize,
		log:       log.With().Str("component", "wal").Logger(),
		lastLSN:   make(map[uint32]int32),
	}, nil
}

// Close releases the underlying log file.
func (m *Manager) Close() error {
	return m.file.Close()
}

// append writes a fully encoded record and returns its LSN (the file offset
// of its first byte). Append errors are fatal: the log is this system's
// source of truth, so a failed append is returned to the caller rather than
// retried or swallowed.
func (m *Manager) append(record []byte) (int32, error) {
	info, err := m.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("wal: stat log: %w", err)
	}
	lsn := int32(info.Size())

	if _, err := m.file.Write(record); err != nil {
		return 0, fmt.Errorf("wal: appending record: %w", err)
	}
	return lsn, nil
}

// Flush fsyncs the log file, making every record appended so far durable.
func (m *Manager) Flush() error {
	if err := m.file.Sync(); err != nil {
		return fmt.Errorf("wal: flushing log: %w", err)
	}
	return nil
}

func (m *Manager) prevLSN(txnID uint32) int32 {
	if lsn, ok := m.lastLSN[txnID]; ok {
		return lsn
	}
	return noLSN
}

// Begin appends a BEGIN record for txnID and returns its LSN.
func (m *Manager) Begin(txnID uint32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(Begin, txnID, prev))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

// LogLogicalUpdate appends a LOGICAL_UPDATE record.
func (m *Manager) LogLogicalUpdate(txnID uint32, meta catalog.Metadata, args catalog.UpdateArgs) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}
	argsBytes, err := args.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(LogicalUpdate, txnID, prev, metaBytes, argsBytes))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

// LogPhysicalUpdate appends a PHYSICAL_UPDATE record carrying the
// before-delta path for one touched group.
func (m *Manager) LogPhysicalUpdate(txnID uint32, meta catalog.Metadata, args catalog.UpdateArgs, beforeDeltaPath string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}
	argsBytes, err := args.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(PhysicalUpdate, txnID, prev, metaBytes, argsBytes, []byte(beforeDeltaPath)))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

// LogPPhysicalUpdate appends a PPHYSICAL_UPDATE record carrying the
// before/after delta paths for one touched group.
func (m *Manager) LogPPhysicalUpdate(txnID uint32, meta catalog.Metadata, beforeDeltaPath, afterDeltaPath string) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(PPhysicalUpdate, txnID, prev, metaBytes, []byte(beforeDeltaPath), []byte(afterDeltaPath)))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

// Commit flushes the log, then appends a COMMIT record and flushes again so
// the commit itself is durable, per spec.md's write-ahead ordering point.
// It clears the transaction's bookkeeping entry.
func (m *Manager) Commit(txnID uint32) (int32, error) {
	if err := m.Flush(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(Commit, txnID, prev))
	if err != nil {
		m.mu.Unlock()
		return 0, err
	}
	delete(m.lastLSN, txnID)
	m.mu.Unlock()

	if err := m.Flush(); err != nil {
		return 0, err
	}
	m.log.Info().Uint32("txn", txnID).Int32("lsn", lsn).Msg("committed")
	return lsn, nil
}

// logAbort appends an ABORT record ahead of rollback; see Rollback, which is
// the caller that actually drives undo.
func (m *Manager) logAbort(txnID uint32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(Abort, txnID, prev))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

func (m *Manager) logLogicalCLR(txnID uint32, meta catalog.Metadata, reversed catalog.UpdateArgs, undoNext int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}
	argsBytes, err := reversed.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(LogicalCLR, txnID, prev, metaBytes, argsBytes, int32Field(undoNext)))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

func (m *Manager) logPhysicalCLR(txnID uint32, meta catalog.Metadata, beforeDeltaPath string, undoNext int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(PhysicalCLR, txnID, prev, metaBytes, []byte(beforeDeltaPath), int32Field(undoNext)))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

func (m *Manager) logPPhysicalCLR(txnID uint32, meta catalog.Metadata, beforeDeltaPath string, undoNext int32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	metaBytes, err := meta.Serialize()
	if err != nil {
		return 0, err
	}

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(PPhysicalCLR, txnID, prev, metaBytes, []byte(beforeDeltaPath), int32Field(undoNext)))
	if err != nil {
		return 0, err
	}
	m.lastLSN[txnID] = lsn
	return lsn, nil
}

func (m *Manager) logTxnEnd(txnID uint32) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.prevLSN(txnID)
	lsn, err := m.append(encodeRecord(TxnEnd, txnID, prev))
	if err != nil {
		return 0, err
	}
	delete(m.lastLSN, txnID)
	return lsn, nil
}

// readAt reads back the record whose first byte is at lsn and decodes it.
func (m *Manager) readAt(lsn int32) (Record, error) {
	lenBuf := make([]byte, 4)
	if _, err := m.file.ReadAt(lenBuf, int64(lsn)); err != nil {
		return nil, fmt.Errorf("wal: reading record length at %d: %w", lsn, err)
	}
	totalLen := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24

	body := make([]byte, totalLen-4)
	if _, err := m.file.ReadAt(body, int64(lsn)+4); err != nil {
		return nil, fmt.Errorf("wal: reading record body at %d: %w", lsn, err)
	}
	return decodeRecord(body)
}

// Rollback is the live-abort entry point: it appends ABORT ahead of the
// undo pass (the chain position captured *before* that append is where the
// walk starts), then undoes every record txnID wrote, then appends TXNEND.
// A crash partway through this walk leaves exactly the ABORT/CLR prefix
// that S5 in spec.md §8 describes; Recover's undo phase resumes the walk
// from wherever it left off via undoFrom, without logging a second ABORT.
func (m *Manager) Rollback(txnID uint32) error {
	m.mu.Lock()
	start := m.prevLSN(txnID)
	m.mu.Unlock()

	if _, err := m.logAbort(txnID); err != nil {
		return err
	}

	return m.undoFrom(txnID, start)
}

// undoFrom walks the prev_lsn/undo_next_lsn chain from lsn, writing a CLR
// for each undoable record and applying its compensating effect, until the
// chain terminates at -1, then appends TXNEND. Shared by the live Rollback
// path (which calls it after logging ABORT) and Recover's undo phase (which
// resumes a rollback that was already in progress at crash time).
func (m *Manager) undoFrom(txnID uint32, lsn int32) error {
	for lsn != noLSN {
		rec, err := m.readAt(lsn)
		if err != nil {
			return err
		}

		next := rec.PrevLSN()

		switch r := rec.(type) {
		case LogicalUpdateRecord:
			reversed, err := m.proc.Reverse(ops.Args{FunctionName: r.Args.FunctionName, Kwargs: r.Args.Kwargs})
			if err != nil {
				return fmt.Errorf("wal: reversing logical update at lsn %d: %w", lsn, err)
			}
			reversedArgs := catalog.NewUpdateArgs(reversed.FunctionName, r.Args.StartFrame, r.Args.EndFrame, reversed.Kwargs)

			clrLSN, err := m.logLogicalCLR(txnID, r.Meta, reversedArgs, r.PrevLSN())
			if err != nil {
				return err
			}
			if pressure.Has(pressure.Point{Location: pressure.LogManagerRollbackAfterCLR, Behavior: pressure.EarlyReturn}) {
				m.log.Info().Uint32("txn", txnID).Msg("pressure point fired: early return after logical CLR")
				return nil
			}
			if _, err := apply.Forward(m.buf, m.proc, r.Meta, reversedArgs, int(clrLSN), m.batchSize); err != nil {
				return err
			}

		case PhysicalUpdateRecord:
			clrLSN, err := m.logPhysicalCLR(txnID, r.Meta, r.BeforeDeltaPath, r.PrevLSN())
			if err != nil {
				return err
			}
			if pressure.Has(pressure.Point{Location: pressure.LogManagerRollbackAfterCLR, Behavior: pressure.EarlyReturn}) {
				m.log.Info().Uint32("txn", txnID).Msg("pressure point fired: early return after physical CLR")
				return nil
			}
			before, err := stage.ReadDelta(r.BeforeDeltaPath)
			if err != nil {
				return err
			}
			if err := apply.InstallBatch(m.buf, r.Meta, before, int(clrLSN)); err != nil {
				return err
			}

		case PPhysicalUpdateRecord:
			clrLSN, err := m.logPPhysicalCLR(txnID, r.Meta, r.BeforeDeltaPath, r.PrevLSN())
			if err != nil {
				return err
			}
			if pressure.Has(pressure.Point{Location: pressure.LogManagerRollbackAfterCLR, Behavior: pressure.EarlyReturn}) {
				m.log.Info().Uint32("txn", txnID).Msg("pressure point fired: early return after pure-physical CLR")
				return nil
			}
			before, err := stage.ReadDelta(r.BeforeDeltaPath)
			if err != nil {
				return err
			}
			if err := apply.InstallBatch(m.buf, r.Meta, before, int(clrLSN)); err != nil {
				return err
			}

		case LogicalCLRRecord:
			next = r.UndoNextLSN
		case PhysicalCLRRecord:
			next = r.UndoNextLSN
		case PPhysicalCLRRecord:
			next = r.UndoNextLSN
		case AbortRecord:
			// nothing to undo; a crash right after ABORT leaves it last in
			// the chain, so recovery's walk starts here
		case BeginRecord:
			// nothing to undo; keep walking to prev (-1, ending the loop)
		default:
			return fmt.Errorf("%w: %s at lsn %d during rollback", ErrUnknownRecordType, rec.Type(), lsn)
		}

		lsn = next
	}

	if _, err := m.logTxnEnd(txnID); err != nil {
		return err
	}
	m.log.Info().Uint32("txn", txnID).Msg("rollback complete")
	return nil
}
