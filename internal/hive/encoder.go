package hive

import (
	"bytes"
	"encoding/binary"
	"sort"
)

// encoder writes the ledger's binary wire format. All integers are little
// endian; lengths and counts are unsigned LEB128 varints.
type encoder struct {
	buf bytes.Buffer
}

func (e *encoder) varint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	e.buf.Write(tmp[:n])
}

func (e *encoder) uint8(v uint8) { e.buf.WriteByte(v) }

func (e *encoder) uint16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	e.buf.Write(tmp[:])
}

func (e *encoder) int16(v int16) { e.uint16(uint16(v)) }

func (e *encoder) uint32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	e.buf.Write(tmp[:])
}

func (e *encoder) int64(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	e.buf.Write(tmp[:])
}

func (e *encoder) bool(v bool) {
	if v {
		e.buf.WriteByte(1)
		return
	}
	e.buf.WriteByte(0)
}

func (e *encoder) string(s string) {
	e.varint(uint64(len(s)))
	e.buf.WriteString(s)
}

func (e *encoder) raw(b []byte) { e.buf.Write(b) }

// accountSet writes a flat_set: sorted, duplicate free.
func (e *encoder) accountSet(names []string) {
	set := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		set = append(set, n)
	}
	sort.Strings(set)
	e.varint(uint64(len(set)))
	for _, n := range set {
		e.string(n)
	}
}

func (e *encoder) asset(a Asset) {
	e.int64(a.Amount)
	e.uint8(a.Precision)
	var sym [7]byte
	copy(sym[:], a.wireSymbol)
	e.raw(sym[:])
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }
