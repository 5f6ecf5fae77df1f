package page_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/leftmike/mdb/page"
	"github.com/leftmike/mdb/testutil"
)

const testMem = 16 * page.Size

func TestMemTooSmall(t *testing.T) {
	dir, err := testutil.MakeDir("memtoosmall")
	if err != nil {
		t.Fatal(err)
	}

	_, err = page.Create(dir, page.Size*(page.MinCachePages-1))
	if !errors.Is(err, page.ErrMemTooSmall) {
		t.Errorf("Create(%s) got %v want %s", dir, err, page.ErrMemTooSmall)
	}
}

func TestPages(t *testing.T) {
	dir, err := testutil.MakeDir("pages")
	if err != nil {
		t.Fatal(err)
	}

	st, err := page.Create(dir, testMem)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}

	for i := 1; i <= 3; i++ {
		init := page.InitCommon()
		init[100] = byte(i)
		num, err := st.NewPage(init)
		if err != nil {
			t.Fatalf("NewPage() failed with %s", err)
		}
		if num != uint32(i) {
			t.Errorf("NewPage() got %d want %d", num, i)
		}
	}

	pg, err := st.Get(2)
	if err != nil {
		t.Fatalf("Get(2) failed with %s", err)
	}
	if pg.Data()[100] != 2 {
		t.Errorf("Get(2): got byte %d want 2", pg.Data()[100])
	}
	if page.FreeSpace(pg) != page.MaxFreeSpace {
		t.Errorf("FreeSpace(2) got %d want %d", page.FreeSpace(pg), page.MaxFreeSpace)
	}

	raw := []byte("hello, world")
	off, free := page.Append(pg, raw)
	if off != 2 {
		t.Errorf("Append() got offset %d want 2", off)
	}
	if free != page.MaxFreeSpace-len(raw) {
		t.Errorf("Append() got free %d want %d", free, page.MaxFreeSpace-len(raw))
	}
	if !pg.Dirty() {
		t.Errorf("Append(): page not dirty")
	}
	if err := pg.Release(); err != nil {
		t.Fatalf("Release() failed with %s", err)
	}
	if pg.Dirty() {
		t.Errorf("Release(): page still dirty after eviction")
	}

	if err := st.Close(); err != nil {
		t.Fatal(err)
	}

	st, err = page.Open(dir, testMem)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", dir, err)
	}
	defer st.Close()

	if st.PageCount() != 3 {
		t.Errorf("PageCount() got %d want 3", st.PageCount())
	}

	pg, err = st.Get(2)
	if err != nil {
		t.Fatalf("Get(2) failed with %s", err)
	}
	if !bytes.Equal(pg.Data()[2:2+len(raw)], raw) {
		t.Errorf("Get(2) got %q want %q", pg.Data()[2:2+len(raw)], raw)
	}
	pg.Release()

	if err := st.TruncateTo(1); err != nil {
		t.Fatalf("TruncateTo(1) failed with %s", err)
	}
	if st.PageCount() != 1 {
		t.Errorf("PageCount() got %d want 1", st.PageCount())
	}
	if _, err := st.Get(3); err == nil {
		t.Errorf("Get(3) after truncate did not fail")
	}

	num, err := st.NewPage(page.InitCommon())
	if err != nil {
		t.Fatalf("NewPage() failed with %s", err)
	}
	if num != 2 {
		t.Errorf("NewPage() got %d want 2", num)
	}
}

func TestMeta(t *testing.T) {
	dir, err := testutil.MakeDir("meta")
	if err != nil {
		t.Fatal(err)
	}

	st, err := page.Create(dir, testMem)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}
	defer st.Close()

	if _, err := st.NewPage(page.InitMeta()); err != nil {
		t.Fatalf("NewPage() failed with %s", err)
	}
	pg, err := st.Get(1)
	if err != nil {
		t.Fatalf("Get(1) failed with %s", err)
	}
	defer pg.Release()

	if page.CheckMeta(pg) {
		t.Errorf("CheckMeta() after open got true want false")
	}
	page.SetMetaClosed(pg)
	if !page.CheckMeta(pg) {
		t.Errorf("CheckMeta() after close got false want true")
	}
	page.SetMetaOpen(pg)
	if page.CheckMeta(pg) {
		t.Errorf("CheckMeta() after reopen got true want false")
	}
}

func TestRecoverInsert(t *testing.T) {
	dir, err := testutil.MakeDir("recoverinsert")
	if err != nil {
		t.Fatal(err)
	}

	st, err := page.Create(dir, testMem)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}
	defer st.Close()

	if _, err := st.NewPage(page.InitCommon()); err != nil {
		t.Fatalf("NewPage() failed with %s", err)
	}
	pg, err := st.Get(1)
	if err != nil {
		t.Fatalf("Get(1) failed with %s", err)
	}
	defer pg.Release()

	page.RecoverInsert(pg, []byte("abcd"), 10)
	if page.FreeOffset(pg) != 14 {
		t.Errorf("RecoverInsert(10): got free offset %d want 14", page.FreeOffset(pg))
	}
	page.RecoverInsert(pg, []byte("ab"), 2)
	if page.FreeOffset(pg) != 14 {
		t.Errorf("RecoverInsert(2): got free offset %d want 14", page.FreeOffset(pg))
	}
	page.RecoverUpdate(pg, []byte("xyzw"), 20)
	if page.FreeOffset(pg) != 14 {
		t.Errorf("RecoverUpdate(20): got free offset %d want 14", page.FreeOffset(pg))
	}
}
