package table

import (
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mdb/engine"
	"github.com/leftmike/mdb/vm"
)

/*
The catalog is a chain of table records starting at the uid in the boot file:

    table: [name] [next table uid(8)] [field uid(8)] ...
    field: [name] [type] [index boot uid(8)]

Names and types are encoded as strings. An index boot uid of 0 means the field is not
indexed; the next table uid of the last table is 0.

Tables created or dropped by a transaction are only seen by that transaction until it
commits. At commit, new table records are linked in front of the chain; if any tables were
dropped, the whole chain is written again. The boot file is replaced once the transaction
has committed.
*/

const superXID uint64 = 0

type FieldDef struct {
	Name string
	Type string
}

type changes struct {
	created []*Table // newest first
	dropped map[string]struct{}
}

type Catalog struct {
	e      *engine.Engine
	logger *log.Logger

	mutex   sync.Mutex
	tables  []*Table // in chain order
	retired []*Table
	pending map[uint64]*changes
}

// Open loads the catalog of tables from the boot chain of e.
func Open(e *engine.Engine) (*Catalog, error) {
	cat := &Catalog{
		e:       e,
		logger:  e.Logger(),
		pending: map[uint64]*changes{},
	}

	uid, err := e.Boot()
	if err != nil {
		return nil, err
	}
	for uid != 0 {
		tbl, next, err := cat.loadTable(uid)
		if err != nil {
			cat.Close()
			return nil, err
		}
		cat.tables = append(cat.tables, tbl)
		uid = next
	}

	cat.logger.WithField("tables", len(cat.tables)).Info("table: catalog loaded")
	return cat, nil
}

func (cat *Catalog) readRecord(uid uint64) ([]byte, error) {
	buf, err := cat.e.Read(superXID, uid)
	if err != nil {
		return nil, err
	} else if buf == nil {
		return nil, fmt.Errorf("table: missing catalog record %d", uid)
	}
	return buf, nil
}

func encodeTable(tbl *Table, next uint64) []byte {
	buf := appendString(nil, tbl.name)
	buf = binary.BigEndian.AppendUint64(buf, next)
	for _, fld := range tbl.fields {
		buf = binary.BigEndian.AppendUint64(buf, fld.uid)
	}
	return buf
}

func encodeField(fld Field) []byte {
	buf := appendString(nil, fld.Name)
	buf = appendString(buf, fld.Type.String())
	return binary.BigEndian.AppendUint64(buf, fld.indexUID)
}

func (cat *Catalog) loadTable(uid uint64) (*Table, uint64, error) {
	buf, err := cat.readRecord(uid)
	if err != nil {
		return nil, 0, err
	}
	name, buf, err := decodeString(buf)
	if err != nil {
		return nil, 0, err
	}
	if len(buf) < 8 || len(buf)%8 != 0 {
		return nil, 0, fmt.Errorf("table: %s: bad table record %d", name, uid)
	}
	next := binary.BigEndian.Uint64(buf)

	tbl := &Table{
		e:     cat.e,
		name:  name,
		uid:   uid,
		first: -1,
	}
	for buf = buf[8:]; len(buf) > 0; buf = buf[8:] {
		fld, err := cat.loadField(binary.BigEndian.Uint64(buf))
		if err != nil {
			tbl.close()
			return nil, 0, fmt.Errorf("table: %s: %w", name, err)
		}
		if fld.tree != nil && tbl.first < 0 {
			tbl.first = len(tbl.fields)
		}
		tbl.fields = append(tbl.fields, fld)
	}
	if tbl.first < 0 {
		tbl.close()
		return nil, 0, fmt.Errorf("%w: %s", ErrNoIndex, name)
	}
	return tbl, next, nil
}

func (cat *Catalog) loadField(uid uint64) (Field, error) {
	buf, err := cat.readRecord(uid)
	if err != nil {
		return Field{}, err
	}
	name, buf, err := decodeString(buf)
	if err != nil {
		return Field{}, err
	}
	typName, buf, err := decodeString(buf)
	if err != nil {
		return Field{}, err
	}
	typ, err := ParseType(typName)
	if err != nil {
		return Field{}, err
	}
	if len(buf) != 8 {
		return Field{}, fmt.Errorf("bad field record %d", uid)
	}

	fld := Field{
		Name:     name,
		Type:     typ,
		uid:      uid,
		indexUID: binary.BigEndian.Uint64(buf),
	}
	if fld.indexUID != 0 {
		fld.tree, err = cat.e.LoadIndex(fld.indexUID)
		if err != nil {
			return Field{}, err
		}
	}
	return fld, nil
}

// lookup must be called with the mutex held.
func (cat *Catalog) lookup(xid uint64, name string) *Table {
	if ch, ok := cat.pending[xid]; ok {
		for _, tbl := range ch.created {
			if tbl.name == name {
				return tbl
			}
		}
		if _, ok := ch.dropped[name]; ok {
			return nil
		}
	}
	for _, tbl := range cat.tables {
		if tbl.name == name {
			return tbl
		}
	}
	return nil
}

// Table returns the table called name as seen by xid.
func (cat *Catalog) Table(xid uint64, name string) (*Table, error) {
	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	tbl := cat.lookup(xid, name)
	if tbl == nil {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return tbl, nil
}

// Tables returns the tables seen by xid, newest first.
func (cat *Catalog) Tables(xid uint64) []*Table {
	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	var tables []*Table
	ch := cat.pending[xid]
	if ch != nil {
		tables = append(tables, ch.created...)
	}
	for _, tbl := range cat.tables {
		if ch != nil {
			if _, ok := ch.dropped[tbl.name]; ok {
				continue
			}
		}
		tables = append(tables, tbl)
	}
	return tables
}

func (cat *Catalog) changes(xid uint64) *changes {
	ch, ok := cat.pending[xid]
	if !ok {
		ch = &changes{
			dropped: map[string]struct{}{},
		}
		cat.pending[xid] = ch
	}
	return ch
}

func checkFields(defs []FieldDef, indexed []string) ([]Field, map[string]bool, error) {
	if len(defs) == 0 {
		return nil, nil, fmt.Errorf("%w: no fields", ErrInvalidField)
	}

	var flds []Field
	names := map[string]bool{}
	for _, def := range defs {
		if _, ok := names[def.Name]; ok {
			return nil, nil, fmt.Errorf("%w: duplicate field %s", ErrInvalidField, def.Name)
		}
		typ, err := ParseType(def.Type)
		if err != nil {
			return nil, nil, err
		}
		names[def.Name] = false
		flds = append(flds, Field{Name: def.Name, Type: typ})
	}

	if len(indexed) == 0 {
		return nil, nil, ErrNoIndex
	}
	for _, name := range indexed {
		if _, ok := names[name]; !ok {
			return nil, nil, fmt.Errorf("%w: index on %s", ErrFieldNotFound, name)
		}
		names[name] = true
	}
	return flds, names, nil
}

// Create adds a table for xid; at least one of the fields must be indexed.
func (cat *Catalog) Create(xid uint64, name string, defs []FieldDef, indexed []string) error {
	flds, idx, err := checkFields(defs, indexed)
	if err != nil {
		return err
	}

	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	if cat.lookup(xid, name) != nil {
		return fmt.Errorf("%w: %s", ErrTableExists, name)
	}

	tbl := &Table{
		e:     cat.e,
		name:  name,
		first: -1,
	}
	for _, fld := range flds {
		if idx[fld.Name] {
			fld.indexUID, err = cat.e.CreateIndex()
			if err == nil {
				fld.tree, err = cat.e.LoadIndex(fld.indexUID)
			}
			if err != nil {
				tbl.close()
				return err
			}
			if tbl.first < 0 {
				tbl.first = len(tbl.fields)
			}
		}

		fld.uid, err = cat.e.Insert(xid, encodeField(fld))
		if err != nil {
			if fld.tree != nil {
				fld.tree.Close()
			}
			tbl.close()
			return err
		}
		tbl.fields = append(tbl.fields, fld)
	}

	ch := cat.changes(xid)
	ch.created = append([]*Table{tbl}, ch.created...)
	return nil
}

// Drop removes the table called name for xid.
func (cat *Catalog) Drop(xid uint64, name string) error {
	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	tbl := cat.lookup(xid, name)
	if tbl == nil {
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}

	ch := cat.changes(xid)
	for i, created := range ch.created {
		if created == tbl {
			ch.created = append(ch.created[:i:i], ch.created[i+1:]...)
			return tbl.close()
		}
	}
	ch.dropped[name] = struct{}{}
	return nil
}

func (cat *Catalog) Begin(level vm.Level) (uint64, error) {
	return cat.e.Begin(level)
}

// apply returns the tables in chain order after ch; it must be called with the mutex held.
func (cat *Catalog) apply(ch *changes) ([]*Table, error) {
	tables := append([]*Table(nil), ch.created...)
	found := 0
	for _, tbl := range cat.tables {
		if _, ok := ch.dropped[tbl.name]; ok {
			found += 1
			continue
		}
		for _, created := range ch.created {
			if created.name == tbl.name {
				return nil, fmt.Errorf("%w: %s", ErrTableExists, tbl.name)
			}
		}
		tables = append(tables, tbl)
	}
	if found != len(ch.dropped) {
		return nil, fmt.Errorf("%w: dropped by another transaction", ErrTableNotFound)
	}
	return tables, nil
}

// link writes the table records which change when tables replaces the current chain and
// returns their uids along with the new head of the chain.
func (cat *Catalog) link(xid uint64, tables []*Table, ch *changes) ([]uint64, uint64, error) {
	n := len(tables)
	var next uint64
	if len(ch.dropped) == 0 {
		n = len(ch.created)
		if len(cat.tables) > 0 {
			next = cat.tables[0].uid
		}
	}

	uids := make([]uint64, n)
	for i := n - 1; i >= 0; i-- {
		uid, err := cat.e.Insert(xid, encodeTable(tables[i], next))
		if err != nil {
			return nil, 0, err
		}
		uids[i] = uid
		next = uid
	}
	return uids, next, nil
}

func discard(ch *changes) {
	for _, tbl := range ch.created {
		tbl.close()
	}
}

// Commit commits xid, making the tables it created and dropped visible to every transaction.
func (cat *Catalog) Commit(xid uint64) error {
	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	ch, ok := cat.pending[xid]
	if !ok {
		return cat.e.Commit(xid)
	}
	delete(cat.pending, xid)

	tables, err := cat.apply(ch)
	if err != nil {
		discard(ch)
		cat.e.Abort(xid)
		return err
	}
	uids, head, err := cat.link(xid, tables, ch)
	if err != nil {
		discard(ch)
		cat.e.Abort(xid)
		return err
	}
	err = cat.e.Commit(xid)
	if err != nil {
		discard(ch)
		return err
	}

	for i, uid := range uids {
		tables[i].uid = uid
	}
	for _, tbl := range cat.tables {
		if _, ok := ch.dropped[tbl.name]; ok {
			cat.retired = append(cat.retired, tbl)
		}
	}
	cat.tables = tables

	cat.logger.WithFields(log.Fields{
		"xid":     xid,
		"created": len(ch.created),
		"dropped": len(ch.dropped),
	}).Info("table: catalog changed")
	err = cat.e.SetBoot(head)
	if err != nil {
		return fmt.Errorf("table: boot: %w", err)
	}
	return nil
}

// Abort aborts xid, discarding the tables it created.
func (cat *Catalog) Abort(xid uint64) error {
	cat.mutex.Lock()
	ch, ok := cat.pending[xid]
	delete(cat.pending, xid)
	cat.mutex.Unlock()

	if ok {
		discard(ch)
	}
	return cat.e.Abort(xid)
}

// Close closes the indexes of every table; the engine is left open.
func (cat *Catalog) Close() error {
	cat.mutex.Lock()
	defer cat.mutex.Unlock()

	var err error
	closeAll := func(tables []*Table) {
		for _, tbl := range tables {
			if closeErr := tbl.close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}
	}
	closeAll(cat.tables)
	closeAll(cat.retired)
	for _, ch := range cat.pending {
		closeAll(ch.created)
	}
	cat.tables = nil
	cat.retired = nil
	cat.pending = map[uint64]*changes{}
	return err
}
