package page

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/leftmike/mdb/cache"
)

const (
	FileName = "mdb.db"

	Size = 8192

	// MinCachePages is the smallest page cache a store can run with.
	MinCachePages = 10
)

var (
	ErrMemTooSmall = errors.New("page: memory budget too small")
)

// Page is a Size byte buffer lent out by a Store; it must not be modified after it is
// released.
type Page struct {
	mutex sync.Mutex
	num   uint32
	data  []byte
	dirty int32
	st    *Store
}

func (pg *Page) Number() uint32 {
	return pg.num
}

func (pg *Page) Data() []byte {
	return pg.data
}

func (pg *Page) Lock() {
	pg.mutex.Lock()
}

func (pg *Page) Unlock() {
	pg.mutex.Unlock()
}

func (pg *Page) SetDirty(dirty bool) {
	var d int32
	if dirty {
		d = 1
	}
	atomic.StoreInt32(&pg.dirty, d)
}

func (pg *Page) Dirty() bool {
	return atomic.LoadInt32(&pg.dirty) != 0
}

func (pg *Page) Release() error {
	return pg.st.Release(pg)
}

type Store struct {
	fileMutex sync.Mutex
	f         *os.File
	pageCount uint32
	pages     *cache.Cache[*Page]
}

func offset(num uint32) int64 {
	return int64(num-1) * Size
}

func newStore(f *os.File, mem int64) (*Store, error) {
	capacity := mem / Size
	if capacity < MinCachePages {
		return nil, fmt.Errorf("%w: %d bytes; need at least %d", ErrMemTooSmall, mem,
			MinCachePages*Size)
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}

	st := &Store{
		f:         f,
		pageCount: uint32(fi.Size() / Size),
	}
	st.pages = cache.New[*Page](int(capacity), st.load, st.evict)
	return st, nil
}

// Create makes an empty page file in dir; mem is the memory budget for cached pages.
func Create(dir string, mem int64) (*Store, error) {
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	st, err := newStore(f, mem)
	if err != nil {
		f.Close()
		return nil, err
	}
	return st, nil
}

func Open(dir string, mem int64) (*Store, error) {
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	st, err := newStore(f, mem)
	if err != nil {
		f.Close()
		return nil, err
	}
	return st, nil
}

func (st *Store) load(key uint64) (*Page, error) {
	pg := &Page{
		num:  uint32(key),
		data: make([]byte, Size),
		st:   st,
	}

	st.fileMutex.Lock()
	defer st.fileMutex.Unlock()

	_, err := st.f.ReadAt(pg.data, offset(pg.num))
	if err != nil {
		return nil, fmt.Errorf("page: reading page %d: %w", pg.num, err)
	}
	return pg, nil
}

func (st *Store) evict(pg *Page) error {
	if !pg.Dirty() {
		return nil
	}
	err := st.flush(pg.num, pg.data)
	if err != nil {
		return err
	}
	pg.SetDirty(false)
	return nil
}

func (st *Store) flush(num uint32, data []byte) error {
	st.fileMutex.Lock()
	defer st.fileMutex.Unlock()

	_, err := st.f.WriteAt(data, offset(num))
	if err != nil {
		return fmt.Errorf("page: writing page %d: %w", num, err)
	}
	return st.f.Sync()
}

// NewPage assigns the next page number and writes init to the file, bypassing the cache.
func (st *Store) NewPage(init []byte) (uint32, error) {
	num := atomic.AddUint32(&st.pageCount, 1)
	return num, st.flush(num, init)
}

func (st *Store) Get(num uint32) (*Page, error) {
	return st.pages.Get(uint64(num))
}

func (st *Store) Release(pg *Page) error {
	return st.pages.Release(uint64(pg.num))
}

// FlushPage writes pg to the file immediately, whether or not it is dirty.
func (st *Store) FlushPage(pg *Page) error {
	return st.flush(pg.num, pg.data)
}

// TruncateTo discards every page after maxNum.
func (st *Store) TruncateTo(maxNum uint32) error {
	st.fileMutex.Lock()
	defer st.fileMutex.Unlock()

	err := st.f.Truncate(offset(maxNum + 1))
	if err != nil {
		return err
	}
	atomic.StoreUint32(&st.pageCount, maxNum)
	return nil
}

func (st *Store) PageCount() uint32 {
	return atomic.LoadUint32(&st.pageCount)
}

func (st *Store) Close() error {
	err := st.pages.Close()
	closeErr := st.f.Close()
	if err == nil {
		err = closeErr
	}
	return err
}
