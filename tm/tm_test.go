package tm_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/leftmike/mdb/testutil"
	"github.com/leftmike/mdb/tm"
)

func TestLifecycle(t *testing.T) {
	dir, err := testutil.MakeDir("lifecycle")
	if err != nil {
		t.Fatal(err)
	}

	mgr, err := tm.Create(dir, nil)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}

	if !mgr.IsCommitted(tm.SuperXID) || mgr.IsActive(tm.SuperXID) ||
		mgr.IsRollback(tm.SuperXID) {

		t.Errorf("super transaction is not committed")
	}

	var xids []uint64
	for i := 0; i < 3; i++ {
		xid, err := mgr.Begin()
		if err != nil {
			t.Fatalf("Begin() failed with %s", err)
		}
		if xid != uint64(i+1) {
			t.Errorf("Begin() got %d want %d", xid, i+1)
		}
		if !mgr.IsActive(xid) {
			t.Errorf("IsActive(%d) got false want true", xid)
		}
		xids = append(xids, xid)
	}

	if err := mgr.Commit(xids[0]); err != nil {
		t.Fatalf("Commit(%d) failed with %s", xids[0], err)
	}
	if err := mgr.Rollback(xids[1]); err != nil {
		t.Fatalf("Rollback(%d) failed with %s", xids[1], err)
	}
	if err := mgr.Close(); err != nil {
		t.Fatal(err)
	}

	mgr, err = tm.Open(dir, nil)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", dir, err)
	}
	defer mgr.Close()

	if mgr.Counter() != 3 {
		t.Errorf("Counter() got %d want 3", mgr.Counter())
	}
	if !mgr.IsCommitted(xids[0]) {
		t.Errorf("IsCommitted(%d) got false want true", xids[0])
	}
	if !mgr.IsRollback(xids[1]) {
		t.Errorf("IsRollback(%d) got false want true", xids[1])
	}
	if !mgr.IsActive(xids[2]) {
		t.Errorf("IsActive(%d) got false want true", xids[2])
	}

	xid, err := mgr.Begin()
	if err != nil {
		t.Fatalf("Begin() failed with %s", err)
	}
	if xid != 4 {
		t.Errorf("Begin() got %d want 4", xid)
	}
}

func TestBadXIDFile(t *testing.T) {
	dir, err := testutil.MakeDir("bad")
	if err != nil {
		t.Fatal(err)
	}

	mgr, err := tm.Create(dir, nil)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}
	if _, err := mgr.Begin(); err != nil {
		t.Fatalf("Begin() failed with %s", err)
	}
	mgr.Close()

	f, err := os.OpenFile(filepath.Join(dir, tm.FileName), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0})
	f.Close()

	_, err = tm.Open(dir, nil)
	if !errors.Is(err, tm.ErrBadXIDFile) {
		t.Errorf("Open(%s) got %v want %s", dir, err, tm.ErrBadXIDFile)
	}
}
