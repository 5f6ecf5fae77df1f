package vm

import (
	"errors"
	"testing"
	"time"
)

func waitForWaiter(t *testing.T, lt *LockTable, xid uint64) {
	t.Helper()

	for i := 0; i < 1000; i++ {
		lt.mutex.Lock()
		_, ok := lt.waitCh[xid]
		lt.mutex.Unlock()
		if ok {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("transaction %d never waited", xid)
}

func acquireAsync(lt *LockTable, xid, uid uint64) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- lt.Acquire(xid, uid)
	}()
	return ch
}

func checkGranted(t *testing.T, ch <-chan error, xid uint64) {
	t.Helper()

	select {
	case err := <-ch:
		if err != nil {
			t.Errorf("Acquire(%d) failed with %s", xid, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Acquire(%d) never granted", xid)
	}
}

func TestLockTableHandOff(t *testing.T) {
	lt := NewLockTable()

	if err := lt.Acquire(1, 100); err != nil {
		t.Fatalf("Acquire(1, 100) failed with %s", err)
	}
	if err := lt.Acquire(1, 100); err != nil {
		t.Errorf("Acquire(1, 100) again failed with %s", err)
	}

	ch2 := acquireAsync(lt, 2, 100)
	waitForWaiter(t, lt, 2)
	ch3 := acquireAsync(lt, 3, 100)
	waitForWaiter(t, lt, 3)

	lt.ReleaseAll(1)
	checkGranted(t, ch2, 2)

	lt.mutex.Lock()
	owner := lt.owner[100]
	held := append([]uint64(nil), lt.held[2]...)
	lt.mutex.Unlock()
	if owner != 2 {
		t.Errorf("owner of 100 got %d want 2", owner)
	}
	if len(held) != 1 || held[0] != 100 {
		t.Errorf("held by 2 got %v want [100]", held)
	}

	lt.ReleaseAll(2)
	checkGranted(t, ch3, 3)
	lt.ReleaseAll(3)

	lt.mutex.Lock()
	defer lt.mutex.Unlock()
	if len(lt.owner) != 0 || len(lt.held) != 0 || len(lt.waiting) != 0 ||
		len(lt.waitFor) != 0 || len(lt.waitCh) != 0 {

		t.Errorf("lock table not empty: %v %v %v %v", lt.owner, lt.held, lt.waiting,
			lt.waitFor)
	}
}

func TestLockTableDeadlock(t *testing.T) {
	lt := NewLockTable()

	for xid := uint64(1); xid <= 3; xid++ {
		if err := lt.Acquire(xid, xid*100); err != nil {
			t.Fatalf("Acquire(%d, %d) failed with %s", xid, xid*100, err)
		}
	}

	ch1 := acquireAsync(lt, 1, 200)
	waitForWaiter(t, lt, 1)
	ch2 := acquireAsync(lt, 2, 300)
	waitForWaiter(t, lt, 2)

	err := lt.Acquire(3, 100)
	if !errors.Is(err, ErrDeadlock) {
		t.Fatalf("Acquire(3, 100) got %v want %s", err, ErrDeadlock)
	}

	lt.mutex.Lock()
	_, waiting := lt.waitFor[3]
	lt.mutex.Unlock()
	if waiting {
		t.Errorf("Acquire(3, 100) left a wait edge after deadlock")
	}

	lt.ReleaseAll(3)
	checkGranted(t, ch2, 2)
	lt.ReleaseAll(2)
	checkGranted(t, ch1, 1)
	lt.ReleaseAll(1)
}

func TestLockTableWithdraw(t *testing.T) {
	lt := NewLockTable()

	if err := lt.Acquire(1, 100); err != nil {
		t.Fatalf("Acquire(1, 100) failed with %s", err)
	}
	ch := acquireAsync(lt, 2, 100)
	waitForWaiter(t, lt, 2)

	lt.ReleaseAll(2)
	select {
	case err := <-ch:
		if err == nil {
			t.Errorf("Acquire(2, 100) after withdraw did not fail")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Acquire(2, 100) never returned")
	}

	lt.ReleaseAll(1)
	if err := lt.Acquire(3, 100); err != nil {
		t.Errorf("Acquire(3, 100) failed with %s", err)
	}
}
