package dm

import (
	"encoding/binary"
	"sync"

	"github.com/leftmike/mdb/page"
)

/*
A data item is a window into a page:

    [valid(1)] [size(2)] [data(size)]

Valid is 0 for a live item and 1 for an item invalidated when its insert was undone.
*/

const (
	validOffset = 0
	sizeOffset  = validOffset + 1
	dataOffset  = sizeOffset + 2

	itemValid   byte = 0
	itemInvalid byte = 1
)

func wrapRaw(data []byte) []byte {
	raw := make([]byte, dataOffset+len(data))
	raw[validOffset] = itemValid
	binary.BigEndian.PutUint16(raw[sizeOffset:], uint16(len(data)))
	copy(raw[dataOffset:], data)
	return raw
}

type DataItem struct {
	rw     sync.RWMutex
	raw    []byte
	oldRaw []byte
	uid    uint64
	pg     *page.Page
	dm     *DataManager
}

func (di *DataItem) valid() bool {
	return di.raw[validOffset] == itemValid
}

// Data returns the payload of the item; it aliases the page and must only be read with the
// item read locked, or modified between Before and After.
func (di *DataItem) Data() []byte {
	return di.raw[dataOffset:]
}

func (di *DataItem) UID() uint64 {
	return di.uid
}

// Before write locks the item and saves its current image.
func (di *DataItem) Before() {
	di.rw.Lock()
	di.pg.SetDirty(true)
	copy(di.oldRaw, di.raw)
}

// UnBefore restores the image saved by Before and unlocks the item.
func (di *DataItem) UnBefore() {
	copy(di.raw, di.oldRaw)
	di.rw.Unlock()
}

// After logs the change made since Before and unlocks the item.
func (di *DataItem) After(xid uint64) error {
	defer di.rw.Unlock()

	return di.dm.log.Append(encodeUpdate(xid, di.uid, di.oldRaw, di.raw))
}

func (di *DataItem) Lock() {
	di.rw.Lock()
}

func (di *DataItem) Unlock() {
	di.rw.Unlock()
}

func (di *DataItem) RLock() {
	di.rw.RLock()
}

func (di *DataItem) RUnlock() {
	di.rw.RUnlock()
}

func (di *DataItem) Release() error {
	return di.dm.items.Release(di.uid)
}
