package tm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

/*
The transaction status file is an 8 byte header holding the number of transactions issued,
followed by one status byte per transaction; the status of xid is at 8 + (xid - 1). Xid 0 is
the super transaction: it is always committed and has no status byte.
*/

const (
	FileName = "mdb.xid"

	SuperXID uint64 = 0

	headerLength = 8

	statusActive    byte = 0
	statusCommitted byte = 1
	statusRollback  byte = 2
)

var (
	ErrBadXIDFile = errors.New("tm: bad xid file")
)

type Manager struct {
	mutex   sync.Mutex
	f       *os.File
	counter uint64
	logger  *log.Logger
}

func Create(dir string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}

	var hdr [headerLength]byte
	_, err = f.WriteAt(hdr[:], 0)
	if err == nil {
		err = f.Sync()
	}
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Manager{
		f:      f,
		logger: logger,
	}, nil
}

func Open(dir string, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	tm := &Manager{
		f:      f,
		logger: logger,
	}
	err = tm.checkCounter()
	if err != nil {
		f.Close()
		return nil, err
	}
	return tm, nil
}

func (tm *Manager) checkCounter() error {
	fi, err := tm.f.Stat()
	if err != nil {
		return err
	}
	if fi.Size() < headerLength {
		return fmt.Errorf("%w: length %d", ErrBadXIDFile, fi.Size())
	}

	var hdr [headerLength]byte
	_, err = tm.f.ReadAt(hdr[:], 0)
	if err != nil {
		return err
	}
	tm.counter = binary.BigEndian.Uint64(hdr[:])
	if position(tm.counter+1) != fi.Size() {
		return fmt.Errorf("%w: counter %d, length %d", ErrBadXIDFile, tm.counter, fi.Size())
	}
	return nil
}

func position(xid uint64) int64 {
	return headerLength + int64(xid-1)
}

func (tm *Manager) writeStatus(xid uint64, status byte) error {
	_, err := tm.f.WriteAt([]byte{status}, position(xid))
	if err != nil {
		return err
	}
	return tm.f.Sync()
}

// Begin reserves the next xid and durably marks it active.
func (tm *Manager) Begin() (uint64, error) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	xid := tm.counter + 1
	err := tm.writeStatus(xid, statusActive)
	if err != nil {
		return 0, err
	}

	var hdr [headerLength]byte
	binary.BigEndian.PutUint64(hdr[:], xid)
	_, err = tm.f.WriteAt(hdr[:], 0)
	if err == nil {
		err = tm.f.Sync()
	}
	if err != nil {
		return 0, err
	}

	tm.counter = xid
	return xid, nil
}

func (tm *Manager) Commit(xid uint64) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	return tm.writeStatus(xid, statusCommitted)
}

func (tm *Manager) Rollback(xid uint64) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	return tm.writeStatus(xid, statusRollback)
}

func (tm *Manager) status(xid uint64) byte {
	var b [1]byte
	_, err := tm.f.ReadAt(b[:], position(xid))
	if err != nil {
		tm.logger.WithError(err).WithField("xid", xid).Panic("tm: reading status")
	}
	return b[0]
}

func (tm *Manager) IsActive(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return tm.status(xid) == statusActive
}

func (tm *Manager) IsCommitted(xid uint64) bool {
	if xid == SuperXID {
		return true
	}
	return tm.status(xid) == statusCommitted
}

func (tm *Manager) IsRollback(xid uint64) bool {
	if xid == SuperXID {
		return false
	}
	return tm.status(xid) == statusRollback
}

// Counter returns the most recently issued xid.
func (tm *Manager) Counter() uint64 {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	return tm.counter
}

func (tm *Manager) Close() error {
	return tm.f.Close()
}
