package session

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/leftmike/mdb/table"
	"github.com/leftmike/mdb/vm"
)

type tokenKind int

const (
	wordToken tokenKind = iota
	stringToken
	symbolToken
)

type token struct {
	kind tokenKind
	s    string
}

func isSymbol(r rune) bool {
	return strings.ContainsRune(",()=<>*", r)
}

// tokenize splits a statement into words, quoted strings, and symbols. A quote inside a
// quoted string is written twice.
func tokenize(stmt string) ([]token, error) {
	var toks []token
	rs := []rune(stmt)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i += 1
		case isSymbol(r):
			toks = append(toks, token{kind: symbolToken, s: string(r)})
			i += 1
		case r == '\'' || r == '"':
			var sb strings.Builder
			i += 1
			for {
				if i == len(rs) {
					return nil, fmt.Errorf("%w: unterminated string", ErrSyntax)
				}
				if rs[i] == r {
					if i+1 < len(rs) && rs[i+1] == r {
						sb.WriteRune(r)
						i += 2
						continue
					}
					i += 1
					break
				}
				sb.WriteRune(rs[i])
				i += 1
			}
			toks = append(toks, token{kind: stringToken, s: sb.String()})
		default:
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) && !isSymbol(rs[i]) && rs[i] != '\'' &&
				rs[i] != '"' {
				i += 1
			}
			toks = append(toks, token{kind: wordToken, s: string(rs[start:i])})
		}
	}
	return toks, nil
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool {
	return p.pos == len(p.toks)
}

func (p *parser) peek() (token, bool) {
	if p.done() {
		return token{}, false
	}
	return p.toks[p.pos], true
}

// optional consumes the next token if it is the keyword or symbol s.
func (p *parser) optional(s string) bool {
	tok, ok := p.peek()
	if !ok || tok.kind == stringToken || !strings.EqualFold(tok.s, s) {
		return false
	}
	p.pos += 1
	return true
}

func (p *parser) expect(s string) error {
	if !p.optional(s) {
		return p.unexpected("expected " + s)
	}
	return nil
}

func (p *parser) unexpected(msg string) error {
	tok, ok := p.peek()
	if !ok {
		return fmt.Errorf("%w: %s at end of statement", ErrSyntax, msg)
	}
	return fmt.Errorf("%w: %s at %q", ErrSyntax, msg, tok.s)
}

// name consumes an identifier.
func (p *parser) name(what string) (string, error) {
	tok, ok := p.peek()
	if !ok || tok.kind != wordToken {
		return "", p.unexpected("expected " + what)
	}
	p.pos += 1
	return tok.s, nil
}

// value consumes a literal: a word or a quoted string.
func (p *parser) value() (string, error) {
	tok, ok := p.peek()
	if !ok || tok.kind == symbolToken {
		return "", p.unexpected("expected a value")
	}
	p.pos += 1
	return tok.s, nil
}

func (p *parser) end() error {
	if !p.done() {
		return p.unexpected("expected end of statement")
	}
	return nil
}

type beginStmt struct {
	level vm.Level
}

type commitStmt struct{}

type abortStmt struct{}

type showStmt struct{}

type createStmt struct {
	table   string
	fields  []table.FieldDef
	indexed []string
}

type dropStmt struct {
	table string
}

type selectStmt struct {
	table  string
	fields []string
	where  *table.Where
}

type insertStmt struct {
	table  string
	values []string
}

type deleteStmt struct {
	table string
	where *table.Where
}

type updateStmt struct {
	table string
	field string
	value string
	where *table.Where
}

// parse returns one of the statement types above, or nil for an empty statement.
func parse(stmt string) (interface{}, error) {
	toks, err := tokenize(stmt)
	if err != nil {
		return nil, err
	} else if len(toks) == 0 {
		return nil, nil
	}

	p := &parser{toks: toks}
	var s interface{}
	switch {
	case p.optional("begin"):
		s, err = p.parseBegin()
	case p.optional("commit"):
		s = commitStmt{}
	case p.optional("abort"), p.optional("rollback"):
		s = abortStmt{}
	case p.optional("show"):
		p.optional("tables")
		s = showStmt{}
	case p.optional("create"):
		s, err = p.parseCreate()
	case p.optional("drop"):
		s, err = p.parseDrop()
	case p.optional("select"):
		s, err = p.parseSelect()
	case p.optional("insert"):
		s, err = p.parseInsert()
	case p.optional("delete"):
		s, err = p.parseDelete()
	case p.optional("update"):
		s, err = p.parseUpdate()
	default:
		return nil, fmt.Errorf("%w: unknown statement: %s", ErrSyntax, toks[0].s)
	}
	if err != nil {
		return nil, err
	}
	if err := p.end(); err != nil {
		return nil, err
	}
	return s, nil
}

// begin [isolation level] [read committed | repeatable read]
func (p *parser) parseBegin() (interface{}, error) {
	if p.optional("isolation") {
		if err := p.expect("level"); err != nil {
			return nil, err
		}
	} else if p.done() {
		return beginStmt{level: vm.ReadCommitted}, nil
	}

	if p.optional("read") {
		if err := p.expect("committed"); err != nil {
			return nil, err
		}
		return beginStmt{level: vm.ReadCommitted}, nil
	} else if p.optional("repeatable") {
		if err := p.expect("read"); err != nil {
			return nil, err
		}
		return beginStmt{level: vm.RepeatableRead}, nil
	}
	return nil, p.unexpected("expected read committed or repeatable read")
}

// create table <name> <field> <type> [, <field> <type> ...] (index <field> [<field> ...])
func (p *parser) parseCreate() (interface{}, error) {
	if err := p.expect("table"); err != nil {
		return nil, err
	}
	var s createStmt
	var err error
	s.table, err = p.name("a table name")
	if err != nil {
		return nil, err
	}

	for {
		var def table.FieldDef
		def.Name, err = p.name("a field name")
		if err != nil {
			return nil, err
		}
		def.Type, err = p.name("a field type")
		if err != nil {
			return nil, err
		}
		s.fields = append(s.fields, def)
		if !p.optional(",") {
			break
		}
	}

	if err := p.expect("("); err != nil {
		return nil, err
	}
	if err := p.expect("index"); err != nil {
		return nil, err
	}
	for !p.optional(")") {
		fld, err := p.name("an indexed field")
		if err != nil {
			return nil, err
		}
		s.indexed = append(s.indexed, fld)
		p.optional(",")
	}
	return s, nil
}

// drop table <name>
func (p *parser) parseDrop() (interface{}, error) {
	if err := p.expect("table"); err != nil {
		return nil, err
	}
	name, err := p.name("a table name")
	if err != nil {
		return nil, err
	}
	return dropStmt{table: name}, nil
}

// select (* | <field> [, <field> ...]) from <table> [where ...]
func (p *parser) parseSelect() (interface{}, error) {
	var s selectStmt
	if !p.optional("*") {
		for {
			fld, err := p.name("a field name or *")
			if err != nil {
				return nil, err
			}
			s.fields = append(s.fields, fld)
			if !p.optional(",") {
				break
			}
		}
	}

	if err := p.expect("from"); err != nil {
		return nil, err
	}
	var err error
	s.table, err = p.name("a table name")
	if err != nil {
		return nil, err
	}
	s.where, err = p.parseWhere(false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// insert into <table> values <value> [[,] <value> ...]
func (p *parser) parseInsert() (interface{}, error) {
	if err := p.expect("into"); err != nil {
		return nil, err
	}
	var s insertStmt
	var err error
	s.table, err = p.name("a table name")
	if err != nil {
		return nil, err
	}
	if err := p.expect("values"); err != nil {
		return nil, err
	}

	for !p.done() {
		val, err := p.value()
		if err != nil {
			return nil, err
		}
		s.values = append(s.values, val)
		p.optional(",")
	}
	if len(s.values) == 0 {
		return nil, p.unexpected("expected values")
	}
	return s, nil
}

// delete from <table> where ...
func (p *parser) parseDelete() (interface{}, error) {
	if err := p.expect("from"); err != nil {
		return nil, err
	}
	var s deleteStmt
	var err error
	s.table, err = p.name("a table name")
	if err != nil {
		return nil, err
	}
	s.where, err = p.parseWhere(true)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// update <table> set <field> = <value> [where ...]
func (p *parser) parseUpdate() (interface{}, error) {
	var s updateStmt
	var err error
	s.table, err = p.name("a table name")
	if err != nil {
		return nil, err
	}
	if err := p.expect("set"); err != nil {
		return nil, err
	}
	s.field, err = p.name("a field name")
	if err != nil {
		return nil, err
	}
	if err := p.expect("="); err != nil {
		return nil, err
	}
	s.value, err = p.value()
	if err != nil {
		return nil, err
	}
	s.where, err = p.parseWhere(false)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// where <expr> [(and | or) <expr>]
func (p *parser) parseWhere(required bool) (*table.Where, error) {
	if !p.optional("where") {
		if required {
			return nil, p.unexpected("expected where")
		}
		return nil, nil
	}

	var w table.Where
	var err error
	w.Left, err = p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.optional("or") {
		w.Or = true
	} else if !p.optional("and") {
		return &w, nil
	}
	right, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	w.Right = &right
	return &w, nil
}

// <field> (= | < | >) <value>
func (p *parser) parseExpr() (table.Expr, error) {
	var x table.Expr
	var err error
	x.Field, err = p.name("a field name")
	if err != nil {
		return x, err
	}

	switch {
	case p.optional("="):
		x.Op = table.Equal
	case p.optional("<"):
		x.Op = table.Less
	case p.optional(">"):
		x.Op = table.Greater
	default:
		return x, p.unexpected("expected =, <, or >")
	}

	x.Value, err = p.value()
	return x, err
}
