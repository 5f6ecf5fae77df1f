package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/leftmike/mdb/dm"
)

const superXID uint64 = 0

var (
	ErrReservedKey = errors.New("index: key is reserved")
)

// DataStore holds the nodes of a tree; nodes are inserted and updated by the super
// transaction.
type DataStore interface {
	Read(uid uint64) (*dm.DataItem, error)
	Insert(xid uint64, data []byte) (uint64, error)
}

// Tree is a B+Tree from int64 keys to uids. The boot record holds the uid of the root; it is
// replaced when the root splits. Keys may repeat; nothing is ever removed.
type Tree struct {
	ds        DataStore
	bootUID   uint64
	boot      *dm.DataItem
	bootMutex sync.Mutex

	// Inserts are serialized; searches run concurrently with them.
	insertMutex sync.Mutex
}

// split is the result of a node splitting: right was split off from left and holds the
// keys from key.
type split struct {
	left  uint64
	key   int64
	right uint64
}

// Create stores an empty tree and returns the uid of its boot record.
func Create(ds DataStore) (uint64, error) {
	root, err := ds.Insert(superXID, newNode(true, 0, 0))
	if err != nil {
		return 0, err
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], root)
	return ds.Insert(superXID, buf[:])
}

func Load(bootUID uint64, ds DataStore) (*Tree, error) {
	di, err := ds.Read(bootUID)
	if err != nil {
		return nil, err
	} else if di == nil {
		return nil, fmt.Errorf("index: missing boot record %d", bootUID)
	}

	return &Tree{
		ds:      ds,
		bootUID: bootUID,
		boot:    di,
	}, nil
}

func (t *Tree) BootUID() uint64 {
	return t.bootUID
}

func (t *Tree) rootUID() uint64 {
	t.bootMutex.Lock()
	defer t.bootMutex.Unlock()

	t.boot.RLock()
	defer t.boot.RUnlock()
	return binary.BigEndian.Uint64(t.boot.Data())
}

func (t *Tree) updateRoot(left, right uint64, key int64) error {
	t.bootMutex.Lock()
	defer t.bootMutex.Unlock()

	root, err := t.ds.Insert(superXID, newRoot(left, right, key))
	if err != nil {
		return err
	}

	t.boot.Before()
	binary.BigEndian.PutUint64(t.boot.Data(), root)
	return t.boot.After(superXID)
}

func (t *Tree) readNode(uid uint64, fn func(n node)) error {
	di, err := t.ds.Read(uid)
	if err != nil {
		return err
	} else if di == nil {
		return fmt.Errorf("index: missing node %d", uid)
	}
	defer di.Release()

	di.RLock()
	defer di.RUnlock()
	fn(node(di.Data()))
	return nil
}

// writeNode calls fn with the node locked for writing. The change is logged if fn returns
// true, and undone if it returns false or an error.
func (t *Tree) writeNode(uid uint64, fn func(n node) (bool, error)) error {
	di, err := t.ds.Read(uid)
	if err != nil {
		return err
	} else if di == nil {
		return fmt.Errorf("index: missing node %d", uid)
	}
	defer di.Release()

	di.Before()
	changed, err := fn(node(di.Data()))
	if err != nil || !changed {
		di.UnBefore()
		return err
	}
	return di.After(superXID)
}

func (t *Tree) isLeaf(uid uint64) (bool, error) {
	var leaf bool
	err := t.readNode(uid, func(n node) {
		leaf = n.leaf()
	})
	return leaf, err
}

// searchNext returns the child of the internal node uid, or one of its siblings, to descend
// into for key.
func (t *Tree) searchNext(uid uint64, key int64) (uint64, error) {
	for {
		var next, sibling uint64
		err := t.readNode(uid, func(n node) {
			next, sibling = n.searchNext(key)
		})
		if err != nil {
			return 0, err
		}
		if next != 0 {
			return next, nil
		}
		if sibling == 0 {
			return 0, fmt.Errorf("index: key %d past the end of node %d", key, uid)
		}
		uid = sibling
	}
}

func (t *Tree) searchLeaf(uid uint64, key int64) (uint64, error) {
	for {
		leaf, err := t.isLeaf(uid)
		if err != nil {
			return 0, err
		}
		if leaf {
			return uid, nil
		}
		uid, err = t.searchNext(uid, key)
		if err != nil {
			return 0, err
		}
	}
}

func (t *Tree) Search(key int64) ([]uint64, error) {
	return t.SearchRange(key, key)
}

// SearchRange returns the uids stored under keys from lo to hi inclusive, in key order.
func (t *Tree) SearchRange(lo, hi int64) ([]uint64, error) {
	if lo > hi {
		return nil, nil
	}

	uid, err := t.searchLeaf(t.rootUID(), lo)
	if err != nil {
		return nil, err
	}

	var uids []uint64
	for uid != 0 {
		var found []uint64
		err := t.readNode(uid, func(n node) {
			found, uid = n.searchRange(lo, hi)
		})
		if err != nil {
			return nil, err
		}
		uids = append(uids, found...)
	}
	return uids, nil
}

func (t *Tree) Insert(key int64, uid uint64) error {
	if key == maxKey {
		return fmt.Errorf("%w: %d", ErrReservedKey, key)
	}

	t.insertMutex.Lock()
	defer t.insertMutex.Unlock()

	root := t.rootUID()
	s, err := t.insert(root, key, uid)
	if err != nil {
		return err
	}
	if s != nil {
		return t.updateRoot(s.left, s.right, s.key)
	}
	return nil
}

func (t *Tree) insert(nodeUID uint64, key int64, uid uint64) (*split, error) {
	leaf, err := t.isLeaf(nodeUID)
	if err != nil {
		return nil, err
	}
	if leaf {
		return t.insertAndSplit(nodeUID, func(n node) bool {
			return n.insertLeaf(key, uid)
		})
	}

	next, err := t.searchNext(nodeUID, key)
	if err != nil {
		return nil, err
	}
	s, err := t.insert(next, key, uid)
	if err != nil || s == nil {
		return nil, err
	}
	return t.insertAndSplit(nodeUID, func(n node) bool {
		return n.insertChild(s.left, s.key, s.right)
	})
}

// insertAndSplit applies ins to nodeUID, or the first of its siblings which accepts it, and
// splits that node if it is full.
func (t *Tree) insertAndSplit(nodeUID uint64, ins func(n node) bool) (*split, error) {
	for {
		var s *split
		var sibling uint64
		err := t.writeNode(nodeUID, func(n node) (bool, error) {
			if !ins(n) {
				sibling = n.sibling()
				if sibling == 0 {
					return false, fmt.Errorf("index: no place for insert in node %d", nodeUID)
				}
				return false, nil
			}
			if !n.needSplit() {
				return true, nil
			}

			right := n.splitRight()
			rightUID, err := t.ds.Insert(superXID, right)
			if err != nil {
				return false, err
			}
			n.setSibling(rightUID)
			s = &split{
				left:  nodeUID,
				key:   right.key(0),
				right: rightUID,
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		if sibling == 0 {
			return s, nil
		}
		nodeUID = sibling
	}
}

func (t *Tree) Close() error {
	return t.boot.Release()
}
