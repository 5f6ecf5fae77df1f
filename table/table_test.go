package table_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leftmike/mdb/engine"
	"github.com/leftmike/mdb/page"
	"github.com/leftmike/mdb/table"
	"github.com/leftmike/mdb/testutil"
	"github.com/leftmike/mdb/vm"
)

const testMem = 64 * page.Size

var peopleFields = []table.FieldDef{
	{Name: "id", Type: "int64"},
	{Name: "name", Type: "string"},
	{Name: "age", Type: "int32"},
}

func openCatalog(t *testing.T, e *engine.Engine) *table.Catalog {
	t.Helper()

	cat, err := table.Open(e)
	if err != nil {
		t.Fatalf("Open() failed with %s", err)
	}
	return cat
}

func begin(t *testing.T, cat *table.Catalog, level vm.Level) uint64 {
	t.Helper()

	xid, err := cat.Begin(level)
	if err != nil {
		t.Fatalf("Begin(%s) failed with %s", level, err)
	}
	return xid
}

func commit(t *testing.T, cat *table.Catalog, xid uint64) {
	t.Helper()

	if err := cat.Commit(xid); err != nil {
		t.Fatalf("Commit(%d) failed with %s", xid, err)
	}
}

func lookup(t *testing.T, cat *table.Catalog, xid uint64, name string) *table.Table {
	t.Helper()

	tbl, err := cat.Table(xid, name)
	if err != nil {
		t.Fatalf("Table(%d, %s) failed with %s", xid, name, err)
	}
	return tbl
}

func tableNames(cat *table.Catalog, xid uint64) string {
	var names []string
	for _, tbl := range cat.Tables(xid) {
		names = append(names, tbl.Name())
	}
	return fmt.Sprintf("%v", names)
}

func checkTables(t *testing.T, cat *table.Catalog, xid uint64, want string) {
	t.Helper()

	if got := tableNames(cat, xid); got != want {
		t.Errorf("Tables(%d) got %s want %s", xid, got, want)
	}
}

func insertRows(t *testing.T, tbl *table.Table, xid uint64, rows [][]string) {
	t.Helper()

	for _, row := range rows {
		if err := tbl.Insert(xid, row); err != nil {
			t.Fatalf("Insert(%v) failed with %s", row, err)
		}
	}
}

func checkSelect(t *testing.T, tbl *table.Table, xid uint64, w *table.Where, want string) {
	t.Helper()

	_, rows, err := tbl.Select(xid, nil, w)
	if err != nil {
		t.Fatalf("Select(%d, %v) failed with %s", xid, w, err)
	}
	if got := fmt.Sprintf("%v", rows); got != want {
		t.Errorf("Select(%d, %v) got %s want %s", xid, w, got, want)
	}
}

func where(fld string, op table.Op, val string) *table.Where {
	return &table.Where{
		Left: table.Expr{Field: fld, Op: op, Value: val},
	}
}

func and(w *table.Where, fld string, op table.Op, val string) *table.Where {
	w.Right = &table.Expr{Field: fld, Op: op, Value: val}
	return w
}

func or(w *table.Where, fld string, op table.Op, val string) *table.Where {
	w.Right = &table.Expr{Field: fld, Op: op, Value: val}
	w.Or = true
	return w
}

func createPeople(t *testing.T, name string) (string, *engine.Engine, *table.Catalog) {
	t.Helper()

	dir, err := testutil.MakeDir(name)
	if err != nil {
		t.Fatal(err)
	}
	e, err := engine.Create(dir, testMem, nil)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}
	cat := openCatalog(t, e)

	xid := begin(t, cat, vm.ReadCommitted)
	err = cat.Create(xid, "people", peopleFields, []string{"id", "name"})
	if err != nil {
		t.Fatalf("Create(people) failed with %s", err)
	}
	tbl := lookup(t, cat, xid, "people")
	for id := 1; id <= 10; id++ {
		insertRows(t, tbl, xid, [][]string{
			{fmt.Sprint(id), fmt.Sprintf("name-%d", id), fmt.Sprint(id * 10)},
		})
	}
	commit(t, cat, xid)
	return dir, e, cat
}

func TestCatalog(t *testing.T) {
	dir, err := testutil.MakeDir("catalog")
	if err != nil {
		t.Fatal(err)
	}
	e, err := engine.Create(dir, testMem, nil)
	if err != nil {
		t.Fatalf("Create(%s) failed with %s", dir, err)
	}
	cat := openCatalog(t, e)

	x1 := begin(t, cat, vm.ReadCommitted)
	x2 := begin(t, cat, vm.ReadCommitted)
	err = cat.Create(x1, "people", peopleFields, []string{"id", "name"})
	if err != nil {
		t.Fatalf("Create(people) failed with %s", err)
	}

	cases := []struct {
		name    string
		defs    []table.FieldDef
		indexed []string
		fail    error
	}{
		{name: "people", defs: peopleFields, indexed: []string{"id"}, fail: table.ErrTableExists},
		{name: "t", defs: peopleFields, fail: table.ErrNoIndex},
		{name: "t", indexed: []string{"id"}, fail: table.ErrInvalidField},
		{
			name:    "t",
			defs:    []table.FieldDef{{Name: "id", Type: "float"}},
			indexed: []string{"id"},
			fail:    table.ErrInvalidField,
		},
		{
			name:    "t",
			defs:    []table.FieldDef{{Name: "id", Type: "int32"}, {Name: "id", Type: "int64"}},
			indexed: []string{"id"},
			fail:    table.ErrInvalidField,
		},
		{name: "t", defs: peopleFields, indexed: []string{"nope"}, fail: table.ErrFieldNotFound},
	}
	for _, c := range cases {
		err := cat.Create(x1, c.name, c.defs, c.indexed)
		if !errors.Is(err, c.fail) {
			t.Errorf("Create(%s, %v, %v) got %v want %s", c.name, c.defs, c.indexed, err, c.fail)
		}
	}

	checkTables(t, cat, x1, "[people]")
	checkTables(t, cat, x2, "[]")
	if _, err := cat.Table(x2, "people"); !errors.Is(err, table.ErrTableNotFound) {
		t.Errorf("Table(%d, people) got %v want %s", x2, err, table.ErrTableNotFound)
	}
	commit(t, cat, x1)
	checkTables(t, cat, x2, "[people]")
	commit(t, cat, x2)

	x3 := begin(t, cat, vm.ReadCommitted)
	if err := cat.Create(x3, "gone", peopleFields, []string{"age"}); err != nil {
		t.Fatalf("Create(gone) failed with %s", err)
	}
	checkTables(t, cat, x3, "[gone people]")
	if err := cat.Abort(x3); err != nil {
		t.Fatalf("Abort(%d) failed with %s", x3, err)
	}

	if err := cat.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	e, err = engine.Open(dir, testMem, nil)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", dir, err)
	}
	defer e.Close()
	cat = openCatalog(t, e)
	defer cat.Close()

	x4 := begin(t, cat, vm.ReadCommitted)
	checkTables(t, cat, x4, "[people]")
	tbl := lookup(t, cat, x4, "people")
	want := "people (id int64, name string, age int32) index (id, name)"
	if tbl.String() != want {
		t.Errorf("String() got %s want %s", tbl.String(), want)
	}
	commit(t, cat, x4)
}

func TestWhere(t *testing.T) {
	_, e, cat := createPeople(t, "where")
	defer e.Close()
	defer cat.Close()

	xid := begin(t, cat, vm.ReadCommitted)
	tbl := lookup(t, cat, xid, "people")

	cases := []struct {
		w    *table.Where
		want string
	}{
		{w: where("id", table.Equal, "3"), want: "[[3 name-3 30]]"},
		{w: where("id", table.Less, "3"), want: "[[1 name-1 10] [2 name-2 20]]"},
		{w: where("id", table.Greater, "8"), want: "[[9 name-9 90] [10 name-10 100]]"},
		{
			w:    and(where("id", table.Greater, "2"), "id", table.Less, "5"),
			want: "[[3 name-3 30] [4 name-4 40]]",
		},
		{
			w:    or(where("id", table.Less, "2"), "id", table.Greater, "9"),
			want: "[[1 name-1 10] [10 name-10 100]]",
		},
		{
			w:    or(where("id", table.Less, "3"), "id", table.Equal, "2"),
			want: "[[1 name-1 10] [2 name-2 20]]",
		},
		{w: where("name", table.Equal, "name-7"), want: "[[7 name-7 70]]"},
		{w: where("name", table.Equal, "missing"), want: "[]"},
		{w: where("name", table.Greater, "name-8"), want: "[[9 name-9 90]]"},
		{w: where("age", table.Greater, "70"), want: "[[8 name-8 80] [9 name-9 90] [10 name-10 100]]"},
		{
			w:    or(where("age", table.Equal, "50"), "id", table.Equal, "1"),
			want: "[[1 name-1 10] [5 name-5 50]]",
		},
		{w: and(where("id", table.Equal, "4"), "age", table.Equal, "40"), want: "[[4 name-4 40]]"},
		{w: and(where("id", table.Equal, "4"), "age", table.Equal, "50"), want: "[]"},
		{w: and(where("age", table.Less, "30"), "name", table.Equal, "name-2"),
			want: "[[2 name-2 20]]"},
		{w: where("id", table.Less, "-9223372036854775808"), want: "[]"},
		{w: where("id", table.Greater, "9223372036854775807"), want: "[]"},
	}
	for _, c := range cases {
		checkSelect(t, tbl, xid, c.w, c.want)
	}

	_, rows, err := tbl.Select(xid, nil, nil)
	if err != nil || len(rows) != 10 {
		t.Errorf("Select(%d) got %d rows, %v want 10 rows", xid, len(rows), err)
	}

	cols, rows, err := tbl.Select(xid, []string{"name", "id"}, where("id", table.Equal, "2"))
	if err != nil {
		t.Fatalf("Select(name, id) failed with %s", err)
	}
	if fmt.Sprintf("%v %v", cols, rows) != "[name id] [[name-2 2]]" {
		t.Errorf("Select(name, id) got %v %v want [name id] [[name-2 2]]", cols, rows)
	}

	fails := []struct {
		cols []string
		w    *table.Where
		fail error
	}{
		{cols: []string{"nope"}, fail: table.ErrFieldNotFound},
		{w: where("nope", table.Equal, "1"), fail: table.ErrFieldNotFound},
		{w: where("id", table.Equal, "abc"), fail: table.ErrInvalidValues},
		{w: where("age", table.Equal, "3000000000"), fail: table.ErrInvalidValues},
	}
	for _, f := range fails {
		_, _, err := tbl.Select(xid, f.cols, f.w)
		if !errors.Is(err, f.fail) {
			t.Errorf("Select(%v, %v) got %v want %s", f.cols, f.w, err, f.fail)
		}
	}
	commit(t, cat, xid)
}

func TestUpdateDelete(t *testing.T) {
	dir, e, cat := createPeople(t, "updatedelete")

	x1 := begin(t, cat, vm.ReadCommitted)
	tbl := lookup(t, cat, x1, "people")

	fails := [][]string{
		{"11", "eleven"},
		{"11", "eleven", "110", "extra"},
		{"11", "eleven", "old"},
		{"eleven", "eleven", "110"},
	}
	for _, vals := range fails {
		if err := tbl.Insert(x1, vals); !errors.Is(err, table.ErrInvalidValues) {
			t.Errorf("Insert(%v) got %v want %s", vals, err, table.ErrInvalidValues)
		}
	}

	x2 := begin(t, cat, vm.RepeatableRead)
	checkSelect(t, tbl, x2, where("id", table.Equal, "1"), "[[1 name-1 10]]")

	n, err := tbl.Update(x1, "age", "99", where("id", table.Less, "3"))
	if err != nil || n != 2 {
		t.Errorf("Update(age) got %d, %v want 2", n, err)
	}
	n, err = tbl.Update(x1, "name", "five", where("name", table.Equal, "name-5"))
	if err != nil || n != 1 {
		t.Errorf("Update(name) got %d, %v want 1", n, err)
	}
	if _, err := tbl.Update(x1, "nope", "1", nil); !errors.Is(err, table.ErrFieldNotFound) {
		t.Errorf("Update(nope) got %v want %s", err, table.ErrFieldNotFound)
	}
	if _, err := tbl.Update(x1, "age", "old", nil); !errors.Is(err, table.ErrInvalidValues) {
		t.Errorf("Update(age, old) got %v want %s", err, table.ErrInvalidValues)
	}

	checkSelect(t, tbl, x1, where("age", table.Equal, "99"), "[[1 name-1 99] [2 name-2 99]]")
	checkSelect(t, tbl, x1, where("name", table.Equal, "five"), "[[5 five 50]]")
	checkSelect(t, tbl, x1, where("name", table.Equal, "name-5"), "[]")

	n, err = tbl.Delete(x1, where("id", table.Greater, "8"))
	if err != nil || n != 2 {
		t.Errorf("Delete(id > 8) got %d, %v want 2", n, err)
	}
	commit(t, cat, x1)

	checkSelect(t, tbl, x2, where("id", table.Equal, "1"), "[[1 name-1 10]]")
	checkSelect(t, tbl, x2, where("id", table.Greater, "8"), "[[9 name-9 90] [10 name-10 100]]")
	commit(t, cat, x2)

	if err := cat.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	e, err = engine.Open(dir, testMem, nil)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", dir, err)
	}
	defer e.Close()
	cat = openCatalog(t, e)
	defer cat.Close()

	x3 := begin(t, cat, vm.ReadCommitted)
	tbl = lookup(t, cat, x3, "people")
	checkSelect(t, tbl, x3, nil, "[[1 name-1 99] [2 name-2 99] [3 name-3 30] [4 name-4 40] "+
		"[5 five 50] [6 name-6 60] [7 name-7 70] [8 name-8 80]]")
	checkSelect(t, tbl, x3, where("name", table.Equal, "five"), "[[5 five 50]]")
	commit(t, cat, x3)
}

func TestDrop(t *testing.T) {
	dir, e, cat := createPeople(t, "drop")

	x1 := begin(t, cat, vm.ReadCommitted)
	for _, name := range []string{"a", "b", "c"} {
		if err := cat.Create(x1, name, peopleFields, []string{"id"}); err != nil {
			t.Fatalf("Create(%s) failed with %s", name, err)
		}
	}
	insertRows(t, lookup(t, cat, x1, "a"), x1, [][]string{{"1", "one", "10"}})
	commit(t, cat, x1)

	x2 := begin(t, cat, vm.ReadCommitted)
	x3 := begin(t, cat, vm.ReadCommitted)
	if err := cat.Drop(x2, "b"); err != nil {
		t.Fatalf("Drop(b) failed with %s", err)
	}
	if err := cat.Drop(x2, "b"); !errors.Is(err, table.ErrTableNotFound) {
		t.Errorf("Drop(b) twice got %v want %s", err, table.ErrTableNotFound)
	}
	if err := cat.Drop(x2, "nope"); !errors.Is(err, table.ErrTableNotFound) {
		t.Errorf("Drop(nope) got %v want %s", err, table.ErrTableNotFound)
	}
	checkTables(t, cat, x2, "[c a people]")
	checkTables(t, cat, x3, "[c b a people]")

	if err := cat.Create(x2, "d", peopleFields, []string{"id"}); err != nil {
		t.Fatalf("Create(d) failed with %s", err)
	}
	if err := cat.Create(x3, "d", peopleFields, []string{"id"}); err != nil {
		t.Fatalf("Create(d) failed with %s", err)
	}
	if err := cat.Create(x2, "e", peopleFields, []string{"id"}); err != nil {
		t.Fatalf("Create(e) failed with %s", err)
	}
	if err := cat.Drop(x2, "e"); err != nil {
		t.Fatalf("Drop(e) failed with %s", err)
	}
	commit(t, cat, x2)
	if err := cat.Commit(x3); !errors.Is(err, table.ErrTableExists) {
		t.Errorf("Commit(%d) got %v want %s", x3, err, table.ErrTableExists)
	}

	x4 := begin(t, cat, vm.ReadCommitted)
	checkTables(t, cat, x4, "[d c a people]")
	commit(t, cat, x4)

	if err := cat.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	e, err := engine.Open(dir, testMem, nil)
	if err != nil {
		t.Fatalf("Open(%s) failed with %s", dir, err)
	}
	defer e.Close()
	cat = openCatalog(t, e)
	defer cat.Close()

	x5 := begin(t, cat, vm.ReadCommitted)
	checkTables(t, cat, x5, "[d c a people]")
	checkSelect(t, lookup(t, cat, x5, "a"), x5, nil, "[[1 one 10]]")
	checkSelect(t, lookup(t, cat, x5, "people"), x5, where("id", table.Equal, "7"),
		"[[7 name-7 70]]")
	commit(t, cat, x5)
}
