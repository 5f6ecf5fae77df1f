package table

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leftmike/mdb/engine"
	"github.com/leftmike/mdb/index"
)

/*
A row is stored as a versioned record holding its values in field order. Each indexed field
has a B+Tree from the index key of the field's value to the uids of the versions holding it;
versions which are not visible to a transaction are skipped.
*/

var (
	ErrTableExists   = errors.New("table: table already exists")
	ErrTableNotFound = errors.New("table: table not found")
	ErrFieldNotFound = errors.New("table: field not found")
	ErrInvalidField  = errors.New("table: invalid field")
	ErrInvalidValues = errors.New("table: invalid values")
	ErrNoIndex       = errors.New("table: table has no index")
)

type Field struct {
	Name string
	Type Type

	uid      uint64
	indexUID uint64
	tree     *index.Tree
}

func (fld Field) Indexed() bool {
	return fld.tree != nil
}

func (fld Field) String() string {
	return fld.Name + " " + fld.Type.String()
}

type Table struct {
	e      *engine.Engine
	name   string
	uid    uint64
	fields []Field
	first  int // first indexed field
}

func (tbl *Table) Name() string {
	return tbl.name
}

func (tbl *Table) Fields() []Field {
	return tbl.fields
}

func (tbl *Table) String() string {
	var flds, idx []string
	for _, fld := range tbl.fields {
		flds = append(flds, fld.String())
		if fld.Indexed() {
			idx = append(idx, fld.Name)
		}
	}
	return fmt.Sprintf("%s (%s) index (%s)", tbl.name, strings.Join(flds, ", "),
		strings.Join(idx, ", "))
}

func (tbl *Table) column(name string) (int, error) {
	for col, fld := range tbl.fields {
		if fld.Name == name {
			return col, nil
		}
	}
	return 0, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, tbl.name, name)
}

func (tbl *Table) encodeRow(row Row) []byte {
	var buf []byte
	for _, val := range row {
		buf = appendValue(buf, val)
	}
	return buf
}

func (tbl *Table) decodeRow(buf []byte) (Row, error) {
	row := make(Row, 0, len(tbl.fields))
	for _, fld := range tbl.fields {
		var val Value
		var err error
		val, buf, err = decodeValue(fld.Type, buf)
		if err != nil {
			return nil, fmt.Errorf("table: %s: %s", tbl.name, err)
		}
		row = append(row, val)
	}
	return row, nil
}

// insertRow stores a new version of row and adds it to every index.
func (tbl *Table) insertRow(xid uint64, row Row) error {
	uid, err := tbl.e.Insert(xid, tbl.encodeRow(row))
	if err != nil {
		return err
	}

	for col, fld := range tbl.fields {
		if fld.tree == nil {
			continue
		}
		err = fld.tree.Insert(indexKey(row[col]), uid)
		if err != nil {
			return err
		}
	}
	return nil
}

// Insert adds a row; there must be one value for each field, in field order.
func (tbl *Table) Insert(xid uint64, vals []string) error {
	if len(vals) != len(tbl.fields) {
		return fmt.Errorf("%w: %s has %d fields; got %d values", ErrInvalidValues, tbl.name,
			len(tbl.fields), len(vals))
	}

	row := make(Row, 0, len(vals))
	for col, s := range vals {
		val, err := tbl.fields[col].Type.parse(s)
		if err != nil {
			return err
		}
		row = append(row, val)
	}
	return tbl.insertRow(xid, row)
}

type version struct {
	uid uint64
	row Row
}

// visible returns the versions which xid can see and which match w.
func (tbl *Table) visible(xid uint64, w *Where) ([]version, error) {
	p, err := tbl.compile(w)
	if err != nil {
		return nil, err
	}

	var vers []version
	seen := map[uint64]struct{}{}
	for _, r := range tbl.ranges(p) {
		uids, err := tbl.fields[r.col].tree.SearchRange(r.lo, r.hi)
		if err != nil {
			return nil, err
		}

		for _, uid := range uids {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}

			buf, err := tbl.e.Read(xid, uid)
			if err != nil {
				return nil, err
			} else if buf == nil {
				continue
			}
			row, err := tbl.decodeRow(buf)
			if err != nil {
				return nil, err
			}
			if p.match(row) {
				vers = append(vers, version{uid: uid, row: row})
			}
		}
	}
	return vers, nil
}

// Select returns the names of the columns and the matching rows. If cols is empty, every
// field is returned.
func (tbl *Table) Select(xid uint64, cols []string, w *Where) ([]string, []Row, error) {
	var idx []int
	if len(cols) == 0 {
		for col, fld := range tbl.fields {
			cols = append(cols, fld.Name)
			idx = append(idx, col)
		}
	} else {
		for _, name := range cols {
			col, err := tbl.column(name)
			if err != nil {
				return nil, nil, err
			}
			idx = append(idx, col)
		}
	}

	vers, err := tbl.visible(xid, w)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]Row, 0, len(vers))
	for _, ver := range vers {
		row := make(Row, 0, len(idx))
		for _, col := range idx {
			row = append(row, ver.row[col])
		}
		rows = append(rows, row)
	}
	return cols, rows, nil
}

// Delete deletes the matching rows, returning the number deleted.
func (tbl *Table) Delete(xid uint64, w *Where) (int, error) {
	vers, err := tbl.visible(xid, w)
	if err != nil {
		return 0, err
	}

	var cnt int
	for _, ver := range vers {
		ok, err := tbl.e.Delete(xid, ver.uid)
		if err != nil {
			return cnt, err
		}
		if ok {
			cnt += 1
		}
	}
	return cnt, nil
}

// Update sets field to val in the matching rows; each row is deleted and a new version
// inserted.
func (tbl *Table) Update(xid uint64, field, val string, w *Where) (int, error) {
	col, err := tbl.column(field)
	if err != nil {
		return 0, err
	}
	v, err := tbl.fields[col].Type.parse(val)
	if err != nil {
		return 0, err
	}

	vers, err := tbl.visible(xid, w)
	if err != nil {
		return 0, err
	}

	var cnt int
	for _, ver := range vers {
		ok, err := tbl.e.Delete(xid, ver.uid)
		if err != nil {
			return cnt, err
		}
		if !ok {
			continue
		}

		row := append(Row(nil), ver.row...)
		row[col] = v
		err = tbl.insertRow(xid, row)
		if err != nil {
			return cnt, err
		}
		cnt += 1
	}
	return cnt, nil
}

func (tbl *Table) close() error {
	var err error
	for _, fld := range tbl.fields {
		if fld.tree == nil {
			continue
		}
		if closeErr := fld.tree.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
