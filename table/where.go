package table

import (
	"fmt"
	"math"
)

type Op int

const (
	Equal Op = iota
	Less
	Greater
)

func (op Op) String() string {
	switch op {
	case Equal:
		return "="
	case Less:
		return "<"
	case Greater:
		return ">"
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Expr compares a field with a literal value.
type Expr struct {
	Field string
	Op    Op
	Value string
}

func (x Expr) String() string {
	return fmt.Sprintf("%s %s %s", x.Field, x.Op, x.Value)
}

// Where is one expression, or two joined by and (or by or, if Or is set).
type Where struct {
	Left  Expr
	Right *Expr
	Or    bool
}

type cond struct {
	col int
	op  Op
	val Value
}

func (c cond) match(row Row) bool {
	cmp := compareValues(row[c.col], c.val)
	switch c.op {
	case Equal:
		return cmp == 0
	case Less:
		return cmp < 0
	case Greater:
		return cmp > 0
	}
	return false
}

type predicate struct {
	conds []cond
	or    bool
}

// match reports whether row satisfies p; a nil predicate matches every row.
func (p *predicate) match(row Row) bool {
	if p == nil {
		return true
	}
	for _, c := range p.conds {
		if c.match(row) == p.or {
			return p.or
		}
	}
	return !p.or
}

// keyRange is the keys from lo to hi inclusive in the index of column col.
type keyRange struct {
	col    int
	lo, hi int64
}

// maxIndexKey is the largest key which may be stored in an index.
const maxIndexKey = math.MaxInt64 - 1

func (tbl *Table) compile(w *Where) (*predicate, error) {
	if w == nil {
		return nil, nil
	}

	exprs := []Expr{w.Left}
	if w.Right != nil {
		exprs = append(exprs, *w.Right)
	}
	p := &predicate{
		or: w.Or && w.Right != nil,
	}
	for _, x := range exprs {
		col, err := tbl.column(x.Field)
		if err != nil {
			return nil, err
		}
		val, err := tbl.fields[col].Type.parse(x.Value)
		if err != nil {
			return nil, err
		}
		p.conds = append(p.conds, cond{col: col, op: x.Op, val: val})
	}
	return p, nil
}

// condRange returns the range of index keys which holds every row matching c, if the column
// of c is indexed and the index can answer op.
func (tbl *Table) condRange(c cond) (keyRange, bool) {
	fld := tbl.fields[c.col]
	if fld.tree == nil {
		return keyRange{}, false
	}

	key := indexKey(c.val)
	if fld.Type == String {
		// Hashed keys only preserve equality.
		if c.op != Equal {
			return keyRange{}, false
		}
		return keyRange{col: c.col, lo: key, hi: key}, true
	}

	r := keyRange{col: c.col, lo: key, hi: key}
	switch c.op {
	case Less:
		r.lo = math.MinInt64
		if key == math.MinInt64 {
			r.lo, r.hi = 1, 0
		} else {
			r.hi = key - 1
		}
	case Greater:
		r.hi = maxIndexKey
		if key >= maxIndexKey {
			r.lo, r.hi = 1, 0
		} else {
			r.lo = key + 1
		}
	}
	return r, true
}

// ranges returns the index ranges which together hold every row matching p. Without a
// usable index, every key of the first indexed column is scanned.
func (tbl *Table) ranges(p *predicate) []keyRange {
	all := []keyRange{{col: tbl.first, lo: math.MinInt64, hi: maxIndexKey}}
	if p == nil {
		return all
	}

	if p.or {
		var rs []keyRange
		for _, c := range p.conds {
			r, ok := tbl.condRange(c)
			if !ok {
				return all
			}
			rs = append(rs, r)
		}
		return rs
	}

	var found bool
	var r keyRange
	for _, c := range p.conds {
		cr, ok := tbl.condRange(c)
		if !ok {
			continue
		}
		if !found {
			r = cr
			found = true
		} else if cr.col == r.col {
			if cr.lo > r.lo {
				r.lo = cr.lo
			}
			if cr.hi < r.hi {
				r.hi = cr.hi
			}
		}
	}
	if !found {
		return all
	}
	return []keyRange{r}
}
