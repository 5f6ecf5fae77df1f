package dm

import (
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mdb/cache"
	"github.com/leftmike/mdb/page"
	"github.com/leftmike/mdb/wal"
)

const (
	metaPage = 1

	insertTries = 5
)

var (
	ErrDataTooLarge = errors.New("dm: data too large")
	ErrDatabaseBusy = errors.New("dm: database busy")
)

// StatusStore is the part of the transaction status store used by recovery; it is closed by
// the data manager.
type StatusStore interface {
	IsActive(xid uint64) bool
	Rollback(xid uint64) error
	Close() error
}

// freeSpace tracks the pages which have room for inserts.
type freeSpace interface {
	add(pgno uint32, free int)
	selectPage(n int) (pageInfo, bool)
}

type DataManager struct {
	ss     StatusStore
	pages  *page.Store
	log    *wal.Log
	index  freeSpace
	meta   *page.Page
	items  *cache.Cache[*DataItem]
	logger *log.Logger
}

// MaxDataSize is the largest payload which can be inserted.
const MaxDataSize = page.MaxFreeSpace - dataOffset

func newDataManager(ss StatusStore, pages *page.Store, l *wal.Log,
	logger *log.Logger) *DataManager {

	dm := &DataManager{
		ss:     ss,
		pages:  pages,
		log:    l,
		index:  newPageIndex(),
		logger: logger,
	}
	dm.items = cache.New[*DataItem](0, dm.loadItem, dm.evictItem)
	return dm
}

func Create(dir string, mem int64, ss StatusStore, logger *log.Logger) (*DataManager, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	pages, err := page.Create(dir, mem)
	if err != nil {
		return nil, err
	}
	l, err := wal.Create(dir, logger)
	if err != nil {
		pages.Close()
		return nil, err
	}

	dm := newDataManager(ss, pages, l, logger)
	num, err := pages.NewPage(page.InitMeta())
	if err == nil && num != metaPage {
		err = fmt.Errorf("dm: meta page is %d", num)
	}
	if err == nil {
		dm.meta, err = pages.Get(metaPage)
	}
	if err != nil {
		l.Close()
		pages.Close()
		return nil, err
	}
	return dm, nil
}

// Open opens an existing database, running recovery if it was not closed cleanly.
func Open(dir string, mem int64, ss StatusStore, logger *log.Logger) (*DataManager, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	pages, err := page.Open(dir, mem)
	if err != nil {
		return nil, err
	}
	l, err := wal.Open(dir, logger)
	if err != nil {
		pages.Close()
		return nil, err
	}

	dm := newDataManager(ss, pages, l, logger)
	err = dm.open()
	if err != nil {
		if dm.meta != nil {
			dm.meta.Release()
		}
		l.Close()
		pages.Close()
		return nil, err
	}
	return dm, nil
}

func (dm *DataManager) open() error {
	var err error
	dm.meta, err = dm.pages.Get(metaPage)
	if err != nil {
		return err
	}

	if !page.CheckMeta(dm.meta) {
		dm.logger.Warn("dm: database was not closed cleanly; recovering")
		err = recoverLog(dm.ss, dm.log, dm.pages, dm.logger)
		if err != nil {
			return err
		}
	}

	page.SetMetaOpen(dm.meta)
	err = dm.pages.FlushPage(dm.meta)
	if err != nil {
		return err
	}

	count := dm.pages.PageCount()
	for pgno := uint32(metaPage + 1); pgno <= count; pgno++ {
		pg, err := dm.pages.Get(pgno)
		if err != nil {
			return err
		}
		dm.index.add(pgno, page.FreeSpace(pg))
		err = pg.Release()
		if err != nil {
			return err
		}
	}

	dm.logger.WithField("pages", count).Info("dm: opened")
	return nil
}

func (dm *DataManager) loadItem(uid uint64) (*DataItem, error) {
	pgno, off := SplitUID(uid)
	if pgno <= metaPage || int(off) < 2 || int(off)+dataOffset > page.Size {
		return nil, fmt.Errorf("dm: bad uid: %d", uid)
	}

	pg, err := dm.pages.Get(pgno)
	if err != nil {
		return nil, err
	}

	data := pg.Data()
	end := int(off) + dataOffset + int(binary.BigEndian.Uint16(data[int(off)+sizeOffset:]))
	if end > page.Size {
		pg.Release()
		return nil, fmt.Errorf("dm: bad uid: %d", uid)
	}

	raw := data[off:end]
	return &DataItem{
		raw:    raw,
		oldRaw: make([]byte, len(raw)),
		uid:    uid,
		pg:     pg,
		dm:     dm,
	}, nil
}

func (dm *DataManager) evictItem(di *DataItem) error {
	return di.pg.Release()
}

// Read returns the item at uid, or nil if the item has been invalidated. The item must be
// released.
func (dm *DataManager) Read(uid uint64) (*DataItem, error) {
	di, err := dm.items.Get(uid)
	if err != nil {
		return nil, err
	}
	if !di.valid() {
		di.Release()
		return nil, nil
	}
	return di, nil
}

// Insert logs and then writes data as a new item, returning its uid.
func (dm *DataManager) Insert(xid uint64, data []byte) (uint64, error) {
	raw := wrapRaw(data)
	if len(raw) > page.MaxFreeSpace {
		return 0, fmt.Errorf("%w: %d bytes", ErrDataTooLarge, len(data))
	}

	var pi pageInfo
	var ok bool
	for try := 0; try < insertTries; try++ {
		pi, ok = dm.index.selectPage(len(raw))
		if ok {
			break
		}

		pgno, err := dm.pages.NewPage(page.InitCommon())
		if err != nil {
			return 0, err
		}
		dm.index.add(pgno, page.MaxFreeSpace)
	}
	if !ok {
		return 0, ErrDatabaseBusy
	}

	pg, err := dm.pages.Get(pi.pgno)
	if err != nil {
		dm.index.add(pi.pgno, pi.free)
		return 0, err
	}
	defer func() {
		dm.index.add(pi.pgno, page.FreeSpace(pg))
		pg.Release()
	}()

	err = dm.log.Append(encodeInsert(xid, pi.pgno, page.FreeOffset(pg), raw))
	if err != nil {
		return 0, err
	}

	off, _ := page.Append(pg, raw)
	return MakeUID(pi.pgno, off), nil
}

// Close shuts down in order: items, log, meta page stamp, page store, status store.
func (dm *DataManager) Close() error {
	err := dm.items.Close()

	if syncErr := dm.log.Sync(); syncErr != nil && err == nil {
		err = syncErr
	}
	if closeErr := dm.log.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	page.SetMetaClosed(dm.meta)
	if flushErr := dm.pages.FlushPage(dm.meta); flushErr != nil && err == nil {
		err = flushErr
	}
	dm.meta.Release()

	if closeErr := dm.pages.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if closeErr := dm.ss.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	dm.logger.Info("dm: closed")
	return err
}
