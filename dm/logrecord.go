package dm

import (
	"encoding/binary"
	"fmt"
)

/*
Log records:

    insert: [0] [xid(8)] [pgno(4)] [offset(2)] [raw]
    update: [1] [xid(8)] [uid(8)] [old raw] [new raw]

The old and new raw images of an update are the same length.
*/

const (
	insertType byte = 0
	updateType byte = 1

	typeOffset   = 0
	xidOffset    = typeOffset + 1
	pgnoOffset   = xidOffset + 8
	offOffset    = pgnoOffset + 4
	insertRawOff = offOffset + 2

	uidOffset    = xidOffset + 8
	updateRawOff = uidOffset + 8
)

type logRecord struct {
	typ    byte
	xid    uint64
	pgno   uint32
	off    uint16
	raw    []byte // insert
	oldRaw []byte // update
	newRaw []byte // update
}

func MakeUID(pgno uint32, off uint16) uint64 {
	return uint64(pgno)<<32 | uint64(off)
}

func SplitUID(uid uint64) (uint32, uint16) {
	return uint32(uid >> 32), uint16(uid & 0xFFFF)
}

func encodeInsert(xid uint64, pgno uint32, off uint16, raw []byte) []byte {
	buf := make([]byte, insertRawOff+len(raw))
	buf[typeOffset] = insertType
	binary.BigEndian.PutUint64(buf[xidOffset:], xid)
	binary.BigEndian.PutUint32(buf[pgnoOffset:], pgno)
	binary.BigEndian.PutUint16(buf[offOffset:], off)
	copy(buf[insertRawOff:], raw)
	return buf
}

func encodeUpdate(xid uint64, uid uint64, oldRaw, newRaw []byte) []byte {
	buf := make([]byte, updateRawOff+len(oldRaw)+len(newRaw))
	buf[typeOffset] = updateType
	binary.BigEndian.PutUint64(buf[xidOffset:], xid)
	binary.BigEndian.PutUint64(buf[uidOffset:], uid)
	copy(buf[updateRawOff:], oldRaw)
	copy(buf[updateRawOff+len(oldRaw):], newRaw)
	return buf
}

func decodeRecord(buf []byte) (logRecord, error) {
	if len(buf) < xidOffset+8 {
		return logRecord{}, fmt.Errorf("dm: log record too short: %d bytes", len(buf))
	}

	lr := logRecord{
		typ: buf[typeOffset],
		xid: binary.BigEndian.Uint64(buf[xidOffset:]),
	}
	switch lr.typ {
	case insertType:
		if len(buf) < insertRawOff {
			return logRecord{}, fmt.Errorf("dm: insert log record too short: %d bytes", len(buf))
		}
		lr.pgno = binary.BigEndian.Uint32(buf[pgnoOffset:])
		lr.off = binary.BigEndian.Uint16(buf[offOffset:])
		lr.raw = buf[insertRawOff:]
	case updateType:
		if len(buf) < updateRawOff || (len(buf)-updateRawOff)%2 != 0 {
			return logRecord{}, fmt.Errorf("dm: bad update log record: %d bytes", len(buf))
		}
		lr.pgno, lr.off = SplitUID(binary.BigEndian.Uint64(buf[uidOffset:]))
		n := (len(buf) - updateRawOff) / 2
		lr.oldRaw = buf[updateRawOff : updateRawOff+n]
		lr.newRaw = buf[updateRawOff+n:]
	default:
		return logRecord{}, fmt.Errorf("dm: unknown log record type: %d", lr.typ)
	}
	return lr, nil
}
