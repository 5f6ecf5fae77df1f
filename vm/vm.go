package vm

import (
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mdb/cache"
	"github.com/leftmike/mdb/dm"
)

const superXID uint64 = 0

var (
	ErrConcurrentUpdate   = errors.New("vm: concurrent update")
	ErrNullEntry          = errors.New("vm: null entry")
	ErrUnknownTransaction = errors.New("vm: unknown transaction")
	ErrTransactionDone    = errors.New("vm: transaction already completed")
)

// StatusStore records the durable status of transactions.
type StatusStore interface {
	Begin() (uint64, error)
	Commit(xid uint64) error
	Rollback(xid uint64) error
	IsActive(xid uint64) bool
	IsCommitted(xid uint64) bool
	IsRollback(xid uint64) bool
}

// DataStore holds the records which entries are stored in.
type DataStore interface {
	Read(uid uint64) (*dm.DataItem, error)
	Insert(xid uint64, data []byte) (uint64, error)
}

type VersionManager struct {
	ss      StatusStore
	ds      DataStore
	lt      *LockTable
	entries *cache.Cache[*entry]
	logger  *log.Logger

	mutex  sync.Mutex
	active map[uint64]*Transaction
}

func New(ss StatusStore, ds DataStore, logger *log.Logger) *VersionManager {
	if logger == nil {
		logger = log.StandardLogger()
	}

	vm := &VersionManager{
		ss:     ss,
		ds:     ds,
		lt:     NewLockTable(),
		logger: logger,
		active: map[uint64]*Transaction{},
	}
	vm.active[superXID] = newTransaction(superXID, ReadCommitted, nil)
	vm.entries = cache.New[*entry](0, vm.loadEntry, vm.evictEntry)
	return vm
}

func (vm *VersionManager) loadEntry(uid uint64) (*entry, error) {
	di, err := vm.ds.Read(uid)
	if err != nil {
		return nil, err
	} else if di == nil {
		return nil, ErrNullEntry
	}

	di.RLock()
	n := len(di.Data())
	di.RUnlock()
	if n < dataOffset {
		di.Release()
		return nil, fmt.Errorf("vm: record %d is not an entry", uid)
	}

	return &entry{
		uid: uid,
		di:  di,
	}, nil
}

func (vm *VersionManager) evictEntry(e *entry) error {
	return e.di.Release()
}

// getEntry returns nil if there is no valid record at uid.
func (vm *VersionManager) getEntry(uid uint64) (*entry, error) {
	e, err := vm.entries.Get(uid)
	if errors.Is(err, ErrNullEntry) {
		return nil, nil
	}
	return e, err
}

func (vm *VersionManager) releaseEntry(e *entry) {
	vm.entries.Release(e.uid)
}

func (vm *VersionManager) transaction(xid uint64) (*Transaction, error) {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	t, ok := vm.active[xid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	return t, nil
}

// activeTransaction returns the transaction, or the error which caused it to be aborted.
func (vm *VersionManager) activeTransaction(xid uint64) (*Transaction, error) {
	t, err := vm.transaction(xid)
	if err != nil {
		return nil, err
	}
	if err := t.getErr(); err != nil {
		return nil, err
	}
	return t, nil
}

func (vm *VersionManager) Begin(level Level) (uint64, error) {
	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	xid, err := vm.ss.Begin()
	if err != nil {
		return 0, err
	}
	vm.active[xid] = newTransaction(xid, level, vm.active)
	return xid, nil
}

// Read returns the data of the version at uid, or nil if it is not visible to xid.
func (vm *VersionManager) Read(xid, uid uint64) ([]byte, error) {
	t, err := vm.activeTransaction(xid)
	if err != nil {
		return nil, err
	}

	e, err := vm.getEntry(uid)
	if err != nil || e == nil {
		return nil, err
	}
	defer vm.releaseEntry(e)

	if !isVisible(vm.ss, t, e.xmin(), e.xmax()) {
		return nil, nil
	}
	return e.data(), nil
}

// writer returns the transaction for xid if it may write; the super transaction can only read.
func (vm *VersionManager) writer(xid uint64) (*Transaction, error) {
	if xid == superXID {
		return nil, fmt.Errorf("%w: %d can not write", ErrUnknownTransaction, xid)
	}
	return vm.activeTransaction(xid)
}

func (vm *VersionManager) Insert(xid uint64, data []byte) (uint64, error) {
	_, err := vm.writer(xid)
	if err != nil {
		return 0, err
	}

	return vm.ds.Insert(xid, wrapEntry(xid, data))
}

// Delete marks the version at uid as deleted by xid. It returns false if the version is not
// visible to xid, or was already deleted by xid. If deleting would deadlock or skip a
// version, the transaction is aborted and ErrConcurrentUpdate is returned.
func (vm *VersionManager) Delete(xid, uid uint64) (bool, error) {
	t, err := vm.writer(xid)
	if err != nil {
		return false, err
	}

	e, err := vm.getEntry(uid)
	if err != nil || e == nil {
		return false, err
	}
	defer vm.releaseEntry(e)

	if !isVisible(vm.ss, t, e.xmin(), e.xmax()) {
		return false, nil
	}

	err = vm.lt.Acquire(xid, uid)
	if errors.Is(err, ErrDeadlock) {
		vm.logger.WithFields(log.Fields{
			"xid": xid,
			"uid": uid,
		}).Debug("vm: deadlock")
		return false, vm.autoAbort(t)
	} else if err != nil {
		return false, fmt.Errorf("%w: %d", ErrTransactionDone, xid)
	}

	xmax := e.xmax()
	if xmax == xid {
		return false, nil
	}
	if isVersionSkip(vm.ss, t, xmax) {
		return false, vm.autoAbort(t)
	}
	if !isVisible(vm.ss, t, e.xmin(), xmax) {
		return false, nil
	}

	return true, e.setXmax(xid)
}

// autoAbort aborts the transaction because of a conflict; the transaction stays registered,
// returning the error, until it is committed or aborted.
func (vm *VersionManager) autoAbort(t *Transaction) error {
	t.setErr(ErrConcurrentUpdate)
	if t.finish(stateAborted) {
		vm.logger.WithField("xid", t.XID).Debug("vm: transaction aborted")
		err := vm.ss.Rollback(t.XID)
		vm.lt.ReleaseAll(t.XID)
		if err != nil {
			return err
		}
	}
	return ErrConcurrentUpdate
}

func (vm *VersionManager) remove(xid uint64) (*Transaction, error) {
	if xid == superXID {
		return nil, fmt.Errorf("vm: the super transaction can not be completed")
	}

	vm.mutex.Lock()
	defer vm.mutex.Unlock()

	t, ok := vm.active[xid]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTransaction, xid)
	}
	delete(vm.active, xid)
	return t, nil
}

// Commit fails with the error that caused the transaction to be aborted, if it was.
func (vm *VersionManager) Commit(xid uint64) error {
	t, err := vm.remove(xid)
	if err != nil {
		return err
	}

	if err := t.getErr(); err != nil {
		return err
	}
	if !t.finish(stateCommitted) {
		return fmt.Errorf("%w: %d", ErrTransactionDone, xid)
	}

	err = vm.ss.Commit(xid)
	vm.lt.ReleaseAll(xid)
	return err
}

// Abort may be called after the transaction was aborted because of a conflict; it is only
// rolled back once.
func (vm *VersionManager) Abort(xid uint64) error {
	t, err := vm.remove(xid)
	if err != nil {
		return err
	}

	if t.finish(stateAborted) {
		err = vm.ss.Rollback(xid)
		vm.lt.ReleaseAll(xid)
	}
	return err
}

// Close aborts any transactions which are still active.
func (vm *VersionManager) Close() error {
	vm.mutex.Lock()
	var xids []uint64
	for xid := range vm.active {
		if xid != superXID {
			xids = append(xids, xid)
		}
	}
	vm.mutex.Unlock()

	var err error
	for _, xid := range xids {
		if abortErr := vm.Abort(xid); abortErr != nil && err == nil {
			err = abortErr
		}
	}

	if closeErr := vm.entries.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
