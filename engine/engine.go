package engine

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mdb/dm"
	"github.com/leftmike/mdb/index"
	"github.com/leftmike/mdb/tm"
	"github.com/leftmike/mdb/vm"
)

// Engine is an open database: the transaction status store, data manager, and version
// manager for a single directory.
type Engine struct {
	dir    string
	tm     *tm.Manager
	dm     *dm.DataManager
	vm     *vm.VersionManager
	logger *log.Logger
}

// Create makes a new database in dir; mem is the memory budget for the page cache.
func Create(dir string, mem int64, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return nil, err
	}

	mgr, err := tm.Create(dir, logger)
	if err != nil {
		return nil, err
	}
	d, err := dm.Create(dir, mem, mgr, logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	err = writeBoot(dir, 0)
	if err != nil {
		d.Close()
		return nil, err
	}

	logger.WithFields(log.Fields{
		"dir": dir,
		"mem": humanize.IBytes(uint64(mem)),
	}).Info("engine: created")
	return newEngine(dir, mgr, d, logger), nil
}

// Open opens the database in dir, recovering it if it was not closed cleanly.
func Open(dir string, mem int64, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	err := removeBootTemp(dir)
	if err != nil {
		return nil, err
	}
	_, err = readBoot(dir)
	if err != nil {
		return nil, err
	}

	mgr, err := tm.Open(dir, logger)
	if err != nil {
		return nil, err
	}
	d, err := dm.Open(dir, mem, mgr, logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}

	logger.WithFields(log.Fields{
		"dir":  dir,
		"mem":  humanize.IBytes(uint64(mem)),
		"xids": mgr.Counter(),
	}).Info("engine: opened")
	return newEngine(dir, mgr, d, logger), nil
}

func newEngine(dir string, mgr *tm.Manager, d *dm.DataManager, logger *log.Logger) *Engine {
	return &Engine{
		dir:    dir,
		tm:     mgr,
		dm:     d,
		vm:     vm.New(mgr, d, logger),
		logger: logger,
	}
}

// Close aborts any active transactions, then shuts down the data manager: the log is flushed,
// the meta page stamped, the page store closed, and finally the status store closed.
func (e *Engine) Close() error {
	err := e.vm.Close()
	if closeErr := e.dm.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		e.logger.WithError(err).WithField("dir", e.dir).Error("engine: close")
	} else {
		e.logger.WithField("dir", e.dir).Info("engine: closed")
	}
	return err
}

func (e *Engine) Begin(level vm.Level) (uint64, error) {
	return e.vm.Begin(level)
}

func (e *Engine) Commit(xid uint64) error {
	return e.vm.Commit(xid)
}

func (e *Engine) Abort(xid uint64) error {
	return e.vm.Abort(xid)
}

func (e *Engine) Read(xid, uid uint64) ([]byte, error) {
	return e.vm.Read(xid, uid)
}

func (e *Engine) Insert(xid uint64, data []byte) (uint64, error) {
	return e.vm.Insert(xid, data)
}

func (e *Engine) Delete(xid, uid uint64) (bool, error) {
	return e.vm.Delete(xid, uid)
}

func (e *Engine) CreateIndex() (uint64, error) {
	return index.Create(e.dm)
}

func (e *Engine) LoadIndex(boot uint64) (*index.Tree, error) {
	tree, err := index.Load(boot, e.dm)
	if err != nil {
		return nil, fmt.Errorf("engine: load index: %w", err)
	}
	return tree, nil
}

// Boot returns the uid stored in the boot file, or 0 if none has been stored.
func (e *Engine) Boot() (uint64, error) {
	return readBoot(e.dir)
}

func (e *Engine) SetBoot(uid uint64) error {
	return writeBoot(e.dir, uid)
}

func (e *Engine) Logger() *log.Logger {
	return e.logger
}
