package vm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Level int

const (
	ReadCommitted  Level = 0
	RepeatableRead Level = 1
)

func (l Level) String() string {
	switch l {
	case ReadCommitted:
		return "read committed"
	case RepeatableRead:
		return "repeatable read"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

const (
	stateActive int32 = iota
	stateCommitted
	stateAborted
)

type Transaction struct {
	XID      uint64
	Level    Level
	snapshot map[uint64]struct{}
	state    int32

	mutex sync.Mutex
	err   error
}

func newTransaction(xid uint64, level Level, active map[uint64]*Transaction) *Transaction {
	t := &Transaction{
		XID:   xid,
		Level: level,
	}
	if level != ReadCommitted {
		t.snapshot = map[uint64]struct{}{}
		for x := range active {
			if x != superXID {
				t.snapshot[x] = struct{}{}
			}
		}
	}
	return t
}

func (t *Transaction) inSnapshot(xid uint64) bool {
	if xid == superXID {
		return false
	}
	_, ok := t.snapshot[xid]
	return ok
}

// finish moves the transaction out of the active state; it returns false if the transaction
// had already been finished.
func (t *Transaction) finish(state int32) bool {
	return atomic.CompareAndSwapInt32(&t.state, stateActive, state)
}

func (t *Transaction) setErr(err error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.err == nil {
		t.err = err
	}
}

func (t *Transaction) getErr() error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.err
}
