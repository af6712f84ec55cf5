package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/luigitni/vtxlog/catalog"
)

// RecordType tags the ten log record shapes spec.md §3 defines. Mirrors
// luigitni-simpledb/tx/logrecord.go's txType enum and createLogRecord
// dispatch, generalized from six record kinds to ten and from a
// block-paged log to a flat byte-offset-addressed one.
type RecordType uint8

const (
	Begin RecordType = iota
	LogicalUpdate
	PhysicalUpdate
	PPhysicalUpdate
	Commit
	Abort
	TxnEnd
	LogicalCLR
	PhysicalCLR
	PPhysicalCLR
)

func (t RecordType) String() string {
	switch t {
	case Begin:
		return "BEGIN"
	case LogicalUpdate:
		return "LOGICAL_UPDATE"
	case PhysicalUpdate:
		return "PHYSICAL_UPDATE"
	case PPhysicalUpdate:
		return "PPHYSICAL_UPDATE"
	case Commit:
		return "COMMIT"
	case Abort:
		return "ABORT"
	case TxnEnd:
		return "TXNEND"
	case LogicalCLR:
		return "LOGICAL_CLR"
	case PhysicalCLR:
		return "PHYSICAL_CLR"
	case PPhysicalCLR:
		return "PPHYSICAL_CLR"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// headerSize is the length of type(u8) + txn_id(u32) + prev_lsn(i32),
// i.e. everything after total_len and before the fields.
const headerSize = 1 + 4 + 4

// Record is one decoded log entry. Every concrete record type implements
// it; callers type-switch on the concrete record type to reach the per-kind
// fields, the way
// luigitni-simpledb's recovery manager type-switches on Op().
type Record interface {
	Type() RecordType
	TxnID() uint32
	PrevLSN() int32
}

type header struct {
	typ     RecordType
	txnID   uint32
	prevLSN int32
}

func (h header) Type() RecordType  { return h.typ }
func (h header) TxnID() uint32     { return h.txnID }
func (h header) PrevLSN() int32    { return h.prevLSN }

// BeginRecord marks the start of a transaction.
type BeginRecord struct{ header }

// LogicalUpdateRecord is a reversible update logged by operation name and
// arguments; redo/undo re-execute the operation (or its reverse).
type LogicalUpdateRecord struct {
	header
	Meta catalog.Metadata
	Args catalog.UpdateArgs
}

// PhysicalUpdateRecord is a hybrid-physical update: the operation and its
// arguments for redo, plus a before-delta for undo.
type PhysicalUpdateRecord struct {
	header
	Meta            catalog.Metadata
	Args            catalog.UpdateArgs
	BeforeDeltaPath string
}

// PPhysicalUpdateRecord is a pure-physical update: no operation identity is
// kept, only the before/after row content.
type PPhysicalUpdateRecord struct {
	header
	Meta            catalog.Metadata
	BeforeDeltaPath string
	AfterDeltaPath  string
}

// CommitRecord marks a transaction as durably committed.
type CommitRecord struct{ header }

// AbortRecord marks the start of a transaction's rollback (written once by
// Manager.Rollback ahead of its undo pass; recovery's undo never writes it).
type AbortRecord struct{ header }

// TxnEndRecord marks that rollback has been fully applied.
type TxnEndRecord struct{ header }

// LogicalCLRRecord compensates a LogicalUpdateRecord by carrying the
// already-reversed arguments.
type LogicalCLRRecord struct {
	header
	Meta          catalog.Metadata
	ReversedArgs  catalog.UpdateArgs
	UndoNextLSN   int32
}

// PhysicalCLRRecord compensates a PhysicalUpdateRecord by carrying the same
// before-delta path.
type PhysicalCLRRecord struct {
	header
	Meta            catalog.Metadata
	BeforeDeltaPath string
	UndoNextLSN     int32
}

// PPhysicalCLRRecord compensates a PPhysicalUpdateRecord.
type PPhysicalCLRRecord struct {
	header
	Meta            catalog.Metadata
	BeforeDeltaPath string
	UndoNextLSN     int32
}

// encodeRecord serializes a complete record (header + fields) given its
// type, txn id, prev lsn and already-encoded fields, per spec.md §3:
// total_len(u32 LE) | type(u8) | txn_id(u32 LE) | prev_lsn(i32 LE) | fields.
func encodeRecord(typ RecordType, txnID uint32, prevLSN int32, fields ...[]byte) []byte {
	fieldsSize := 0
	for _, f := range fields {
		fieldsSize += fieldSize(len(f))
	}
	totalLen := 4 + headerSize + fieldsSize

	buf := newRecordBuffer(totalLen)
	buf.writeUint32(uint32(totalLen))
	buf.writeByte(byte(typ))
	buf.writeUint32(txnID)
	buf.writeInt32(prevLSN)
	for _, f := range fields {
		buf.writeField(f)
	}
	return buf.bytes
}

// decodeHeader reads type/txn_id/prev_lsn from a record body (the bytes
// after total_len, i.e. starting at offset 0 of what Manager reads back).
func decodeHeader(body []byte) header {
	buf := &recordBuffer{bytes: body}
	typ := RecordType(buf.readByte())
	txnID := buf.readUint32()
	prevLSN := buf.readInt32()
	return header{typ: typ, txnID: txnID, prevLSN: prevLSN}
}

// decodeRecord decodes a full record body (everything after total_len) into
// its concrete type, dispatching on the header's type tag the way
// createLogRecord does in luigitni-simpledb/tx/logrecord.go.
func decodeRecord(body []byte) (Record, error) {
	buf := &recordBuffer{bytes: body}
	typ := RecordType(buf.readByte())
	txnID := buf.readUint32()
	prevLSN := buf.readInt32()
	h := header{typ: typ, txnID: txnID, prevLSN: prevLSN}

	switch typ {
	case Begin:
		return BeginRecord{h}, nil
	case Commit:
		return CommitRecord{h}, nil
	case Abort:
		return AbortRecord{h}, nil
	case TxnEnd:
		return TxnEndRecord{h}, nil
	case LogicalUpdate:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		args, err := catalog.DeserializeUpdateArgs(buf.readField())
		if err != nil {
			return nil, err
		}
		return LogicalUpdateRecord{h, meta, args}, nil
	case PhysicalUpdate:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		args, err := catalog.DeserializeUpdateArgs(buf.readField())
		if err != nil {
			return nil, err
		}
		path := buf.readFieldString()
		return PhysicalUpdateRecord{h, meta, args, path}, nil
	case PPhysicalUpdate:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		before := buf.readFieldString()
		after := buf.readFieldString()
		return PPhysicalUpdateRecord{h, meta, before, after}, nil
	case LogicalCLR:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		args, err := catalog.DeserializeUpdateArgs(buf.readField())
		if err != nil {
			return nil, err
		}
		undoNext := int32(binary.LittleEndian.Uint32(buf.readField()))
		return LogicalCLRRecord{h, meta, args, undoNext}, nil
	case PhysicalCLR:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		path := buf.readFieldString()
		undoNext := int32(binary.LittleEndian.Uint32(buf.readField()))
		return PhysicalCLRRecord{h, meta, path, undoNext}, nil
	case PPhysicalCLR:
		meta, err := catalog.DeserializeMetadata(buf.readField())
		if err != nil {
			return nil, err
		}
		path := buf.readFieldString()
		undoNext := int32(binary.LittleEndian.Uint32(buf.readField()))
		return PPhysicalCLRRecord{h, meta, path, undoNext}, nil
	default:
		return nil, fmt.Errorf("%w: type %d", ErrUnknownRecordType, typ)
	}
}

func int32Field(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}
