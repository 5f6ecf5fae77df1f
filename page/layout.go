package page

import (
	"bytes"
	"encoding/binary"
	"math/rand"
)

/*
Page 1 is the meta page. At open, eight random bytes are written at validCheckOffset; at an
orderly close they are copied to validCheckOffset + validCheckLength. If the two copies differ
at open, the previous shutdown was not clean and recovery must run.

Every other page is a common page: a 2 byte free space offset followed by packed records.
*/

const (
	validCheckOffset = 100
	validCheckLength = 8

	freeOffset = 0
	dataOffset = 2

	// MaxFreeSpace is the free space of an empty common page.
	MaxFreeSpace = Size - dataOffset
)

func InitMeta() []byte {
	buf := make([]byte, Size)
	rand.Read(buf[validCheckOffset : validCheckOffset+validCheckLength])
	return buf
}

func SetMetaOpen(pg *Page) {
	pg.Lock()
	defer pg.Unlock()

	rand.Read(pg.data[validCheckOffset : validCheckOffset+validCheckLength])
	pg.SetDirty(true)
}

func SetMetaClosed(pg *Page) {
	pg.Lock()
	defer pg.Unlock()

	copy(pg.data[validCheckOffset+validCheckLength:],
		pg.data[validCheckOffset:validCheckOffset+validCheckLength])
	pg.SetDirty(true)
}

// CheckMeta returns true if the meta page was stamped by an orderly close.
func CheckMeta(pg *Page) bool {
	pg.Lock()
	defer pg.Unlock()

	return bytes.Equal(pg.data[validCheckOffset:validCheckOffset+validCheckLength],
		pg.data[validCheckOffset+validCheckLength:validCheckOffset+2*validCheckLength])
}

func InitCommon() []byte {
	buf := make([]byte, Size)
	binary.BigEndian.PutUint16(buf[freeOffset:], dataOffset)
	return buf
}

func getFreeOffset(buf []byte) uint16 {
	return binary.BigEndian.Uint16(buf[freeOffset:])
}

func setFreeOffset(buf []byte, off uint16) {
	binary.BigEndian.PutUint16(buf[freeOffset:], off)
}

func FreeOffset(pg *Page) uint16 {
	pg.Lock()
	defer pg.Unlock()

	return getFreeOffset(pg.data)
}

func FreeSpace(pg *Page) int {
	return Size - int(FreeOffset(pg))
}

// Append copies raw to the free space of pg and returns the offset it was written at, and
// the free space remaining.
func Append(pg *Page, raw []byte) (uint16, int) {
	pg.Lock()
	defer pg.Unlock()

	off := getFreeOffset(pg.data)
	copy(pg.data[off:], raw)
	setFreeOffset(pg.data, off+uint16(len(raw)))
	pg.SetDirty(true)
	return off, Size - int(off) - len(raw)
}

// RecoverInsert writes raw at off, extending the free space offset if it now ends past it.
func RecoverInsert(pg *Page, raw []byte, off uint16) {
	pg.Lock()
	defer pg.Unlock()

	copy(pg.data[off:], raw)
	pg.SetDirty(true)

	end := off + uint16(len(raw))
	if getFreeOffset(pg.data) < end {
		setFreeOffset(pg.data, end)
	}
}

// RecoverUpdate writes raw at off without touching the free space offset.
func RecoverUpdate(pg *Page, raw []byte, off uint16) {
	pg.Lock()
	defer pg.Unlock()

	copy(pg.data[off:], raw)
	pg.SetDirty(true)
}
