package vm

import (
	"encoding/binary"

	"github.com/leftmike/mdb/dm"
)

/*
An entry is one version of a record, stored as the data of a data item:

    [xmin(8)] [xmax(8)] [data]

Xmin is the transaction which created the version and xmax is the transaction which deleted
it, or 0. Only xmax is ever changed.
*/

const (
	xminOffset = 0
	xmaxOffset = xminOffset + 8
	dataOffset = xmaxOffset + 8
)

func wrapEntry(xid uint64, data []byte) []byte {
	buf := make([]byte, dataOffset+len(data))
	binary.BigEndian.PutUint64(buf[xminOffset:], xid)
	copy(buf[dataOffset:], data)
	return buf
}

type entry struct {
	uid uint64
	di  *dm.DataItem
}

func (e *entry) xmin() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()

	return binary.BigEndian.Uint64(e.di.Data()[xminOffset:])
}

func (e *entry) xmax() uint64 {
	e.di.RLock()
	defer e.di.RUnlock()

	return binary.BigEndian.Uint64(e.di.Data()[xmaxOffset:])
}

func (e *entry) data() []byte {
	e.di.RLock()
	defer e.di.RUnlock()

	return append([]byte(nil), e.di.Data()[dataOffset:]...)
}

func (e *entry) setXmax(xid uint64) error {
	e.di.Before()
	binary.BigEndian.PutUint64(e.di.Data()[xmaxOffset:], xid)
	return e.di.After(xid)
}
