package wal

import "encoding/binary"

// recordBuffer is a binary cursor over one log record's bytes, mirroring
// luigitni-simpledb/tx/logrecord.go's recordBuffer but little-endian u32
// lengths and signed i32 LSNs, per the wire layout this log uses.
type recordBuffer struct {
	offset int
	bytes  []byte
}

func newRecordBuffer(size int) *recordBuffer {
	return &recordBuffer{bytes: make([]byte, size)}
}

func (r *recordBuffer) writeUint32(v uint32) {
	binary.LittleEndian.PutUint32(r.bytes[r.offset:], v)
	r.offset += 4
}

func (r *recordBuffer) writeInt32(v int32) {
	binary.LittleEndian.PutUint32(r.bytes[r.offset:], uint32(v))
	r.offset += 4
}

func (r *recordBuffer) writeByte(v byte) {
	r.bytes[r.offset] = v
	r.offset++
}

// writeField writes a len(u32 LE) | bytes field.
func (r *recordBuffer) writeField(v []byte) {
	r.writeUint32(uint32(len(v)))
	copy(r.bytes[r.offset:], v)
	r.offset += len(v)
}

func (r *recordBuffer) writeFieldString(v string) {
	r.writeField([]byte(v))
}

func (r *recordBuffer) readUint32() uint32 {
	v := binary.LittleEndian.Uint32(r.bytes[r.offset:])
	r.offset += 4
	return v
}

func (r *recordBuffer) readInt32() int32 {
	return int32(r.readUint32())
}

func (r *recordBuffer) readByte() byte {
	b := r.bytes[r.offset]
	r.offset++
	return b
}

// readField reads a len(u32 LE) | bytes field.
func (r *recordBuffer) readField() []byte {
	n := int(r.readUint32())
	v := make([]byte, n)
	copy(v, r.bytes[r.offset:r.offset+n])
	r.offset += n
	return v
}

func (r *recordBuffer) readFieldString() string {
	return string(r.readField())
}

// fieldSize returns the on-wire size of a len|bytes field carrying n bytes.
func fieldSize(n int) int {
	return 4 + n
}
