package session

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/leftmike/mdb/table"
	"github.com/leftmike/mdb/vm"
)

var (
	ErrNestedTransaction = errors.New("session: transaction already active")
	ErrNoTransaction     = errors.New("session: no active transaction")
	ErrSyntax            = errors.New("session: syntax error")
)

// Executor runs statements for a single client; it is not safe for concurrent use.
type Executor struct {
	cat *table.Catalog
	xid uint64
}

func NewExecutor(cat *table.Catalog) *Executor {
	return &Executor{
		cat: cat,
	}
}

// Close aborts the active transaction, if any.
func (ex *Executor) Close() error {
	if ex.xid == 0 {
		return nil
	}
	xid := ex.xid
	ex.xid = 0
	return ex.cat.Abort(xid)
}

func (ex *Executor) InTransaction() bool {
	return ex.xid != 0
}

type runFunc func(xid uint64) (string, error)

// Execute runs one statement and returns its output. Outside of an explicit transaction,
// the statement runs in its own read committed transaction.
func (ex *Executor) Execute(stmt string) (string, error) {
	s, err := parse(stmt)
	if err != nil {
		return "", err
	}

	switch s := s.(type) {
	case nil:
		return "", nil
	case beginStmt:
		return ex.begin(s.level)
	case commitStmt:
		return ex.commit()
	case abortStmt:
		return ex.abort()
	case showStmt:
		return ex.run(ex.show)
	case createStmt:
		return ex.run(func(xid uint64) (string, error) {
			err := ex.cat.Create(xid, s.table, s.fields, s.indexed)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("create %s\n", s.table), nil
		})
	case dropStmt:
		return ex.run(func(xid uint64) (string, error) {
			err := ex.cat.Drop(xid, s.table)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("drop %s\n", s.table), nil
		})
	case selectStmt:
		return ex.run(func(xid uint64) (string, error) {
			return ex.selectRows(xid, s)
		})
	case insertStmt:
		return ex.run(func(xid uint64) (string, error) {
			tbl, err := ex.cat.Table(xid, s.table)
			if err != nil {
				return "", err
			}
			err = tbl.Insert(xid, s.values)
			if err != nil {
				return "", err
			}
			return "1 rows inserted\n", nil
		})
	case deleteStmt:
		return ex.run(func(xid uint64) (string, error) {
			tbl, err := ex.cat.Table(xid, s.table)
			if err != nil {
				return "", err
			}
			cnt, err := tbl.Delete(xid, s.where)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d rows deleted\n", cnt), nil
		})
	case updateStmt:
		return ex.run(func(xid uint64) (string, error) {
			tbl, err := ex.cat.Table(xid, s.table)
			if err != nil {
				return "", err
			}
			cnt, err := tbl.Update(xid, s.field, s.value, s.where)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d rows updated\n", cnt), nil
		})
	}
	panic(fmt.Sprintf("session: unexpected statement %T", s))
}

func (ex *Executor) run(fn runFunc) (string, error) {
	if ex.xid != 0 {
		return fn(ex.xid)
	}

	xid, err := ex.cat.Begin(vm.ReadCommitted)
	if err != nil {
		return "", err
	}
	out, err := fn(xid)
	if err != nil {
		aerr := ex.cat.Abort(xid)
		if aerr != nil {
			err = fmt.Errorf("%s; abort: %s", err, aerr)
		}
		return "", err
	}
	return out, ex.cat.Commit(xid)
}

func (ex *Executor) begin(level vm.Level) (string, error) {
	if ex.xid != 0 {
		return "", ErrNestedTransaction
	}

	xid, err := ex.cat.Begin(level)
	if err != nil {
		return "", err
	}
	ex.xid = xid
	return fmt.Sprintf("begin %d (%s)\n", xid, level), nil
}

func (ex *Executor) commit() (string, error) {
	if ex.xid == 0 {
		return "", ErrNoTransaction
	}

	xid := ex.xid
	ex.xid = 0
	err := ex.cat.Commit(xid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("commit %d\n", xid), nil
}

func (ex *Executor) abort() (string, error) {
	if ex.xid == 0 {
		return "", ErrNoTransaction
	}

	xid := ex.xid
	ex.xid = 0
	err := ex.cat.Abort(xid)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("abort %d\n", xid), nil
}

func newTableWriter(buf *bytes.Buffer, hdr []string) *tablewriter.Table {
	tw := tablewriter.NewWriter(buf)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(hdr)
	return tw
}

func (ex *Executor) show(xid uint64) (string, error) {
	var buf bytes.Buffer
	tw := newTableWriter(&buf, []string{"table", "fields", "index"})
	tables := ex.cat.Tables(xid)
	for _, tbl := range tables {
		var flds, idx []string
		for _, fld := range tbl.Fields() {
			flds = append(flds, fld.String())
			if fld.Indexed() {
				idx = append(idx, fld.Name)
			}
		}
		tw.Append([]string{tbl.Name(), strings.Join(flds, ", "), strings.Join(idx, ", ")})
	}
	tw.Render()
	fmt.Fprintf(&buf, "(%d tables)\n", len(tables))
	return buf.String(), nil
}

func (ex *Executor) selectRows(xid uint64, s selectStmt) (string, error) {
	tbl, err := ex.cat.Table(xid, s.table)
	if err != nil {
		return "", err
	}
	cols, rows, err := tbl.Select(xid, s.fields, s.where)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	tw := newTableWriter(&buf, cols)
	for _, row := range rows {
		vals := make([]string, 0, len(row))
		for _, val := range row {
			vals = append(vals, fmt.Sprint(val))
		}
		tw.Append(vals)
	}
	tw.Render()
	fmt.Fprintf(&buf, "(%d rows)\n", len(rows))
	return buf.String(), nil
}
