package vm

import (
	"errors"
	"sync"
)

var (
	ErrDeadlock = errors.New("vm: deadlock")

	errWaitWithdrawn = errors.New("vm: lock wait withdrawn")
)

// LockTable tracks which transaction holds the write lock on each record, and which
// transactions are waiting for them. Each transaction waits for at most one record, so the
// wait graph is followed one edge at a time to look for cycles.
type LockTable struct {
	mutex   sync.Mutex
	held    map[uint64][]uint64   // xid -> uids
	owner   map[uint64]uint64     // uid -> xid
	waiting map[uint64][]uint64   // uid -> xids, in arrival order
	waitFor map[uint64]uint64     // xid -> uid
	waitCh  map[uint64]chan error // xid -> wakeup
	stamps  map[uint64]int        // xid -> visit stamp
	stamp   int
}

func NewLockTable() *LockTable {
	return &LockTable{
		held:    map[uint64][]uint64{},
		owner:   map[uint64]uint64{},
		waiting: map[uint64][]uint64{},
		waitFor: map[uint64]uint64{},
		waitCh:  map[uint64]chan error{},
	}
}

// Acquire returns once xid holds the lock on uid, waiting for it if necessary. If waiting
// would deadlock, ErrDeadlock is returned immediately.
func (lt *LockTable) Acquire(xid, uid uint64) error {
	lt.mutex.Lock()

	if x, ok := lt.owner[uid]; !ok {
		lt.owner[uid] = xid
		lt.held[xid] = append(lt.held[xid], uid)
		lt.mutex.Unlock()
		return nil
	} else if x == xid {
		lt.mutex.Unlock()
		return nil
	}

	lt.waitFor[xid] = uid
	lt.waiting[uid] = append(lt.waiting[uid], xid)
	if lt.hasDeadlock() {
		delete(lt.waitFor, xid)
		lt.removeWaiter(uid, xid)
		lt.mutex.Unlock()
		return ErrDeadlock
	}

	ch := make(chan error, 1)
	lt.waitCh[xid] = ch
	lt.mutex.Unlock()

	return <-ch
}

func (lt *LockTable) removeWaiter(uid, xid uint64) {
	xids := lt.waiting[uid]
	for idx, x := range xids {
		if x == xid {
			xids = append(xids[:idx], xids[idx+1:]...)
			break
		}
	}
	if len(xids) == 0 {
		delete(lt.waiting, uid)
	} else {
		lt.waiting[uid] = xids
	}
}

func (lt *LockTable) hasDeadlock() bool {
	lt.stamps = map[uint64]int{}
	lt.stamp = 1
	for xid := range lt.waitFor {
		if lt.stamps[xid] > 0 {
			continue
		}
		lt.stamp += 1
		if lt.dfs(xid) {
			return true
		}
	}
	return false
}

func (lt *LockTable) dfs(xid uint64) bool {
	stamp, ok := lt.stamps[xid]
	if ok && stamp == lt.stamp {
		return true
	} else if ok && stamp < lt.stamp {
		return false
	}
	lt.stamps[xid] = lt.stamp

	uid, ok := lt.waitFor[xid]
	if !ok {
		return false
	}
	owner, ok := lt.owner[uid]
	if !ok {
		return false
	}
	return lt.dfs(owner)
}

// ReleaseAll withdraws any wait by xid, and hands each lock held by xid to the first
// transaction waiting for it.
func (lt *LockTable) ReleaseAll(xid uint64) {
	lt.mutex.Lock()
	defer lt.mutex.Unlock()

	if uid, ok := lt.waitFor[xid]; ok {
		delete(lt.waitFor, xid)
		lt.removeWaiter(uid, xid)
		if ch, ok := lt.waitCh[xid]; ok {
			delete(lt.waitCh, xid)
			ch <- errWaitWithdrawn
		}
	}

	for _, uid := range lt.held[xid] {
		delete(lt.owner, uid)
		lt.handOff(uid)
	}
	delete(lt.held, xid)
}

func (lt *LockTable) handOff(uid uint64) {
	xids := lt.waiting[uid]
	if len(xids) == 0 {
		return
	}

	xid := xids[0]
	if len(xids) == 1 {
		delete(lt.waiting, uid)
	} else {
		lt.waiting[uid] = xids[1:]
	}

	lt.owner[uid] = xid
	lt.held[xid] = append(lt.held[xid], uid)
	delete(lt.waitFor, xid)
	ch := lt.waitCh[xid]
	delete(lt.waitCh, xid)
	ch <- nil
}
