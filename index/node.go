package index

import (
	"encoding/binary"
	"math"
)

/*
A node is stored as a data item:

    [leaf(1)] [count(2)] [sibling(8)] ([son(8)] [key(8)]) * maxSlots

In a leaf, son i is the uid stored under key i. In an internal node, son i is the child
holding keys up to key i, and the last key is math.MaxInt64. Sibling is the uid of the next
node to the right at the same level, or 0.
*/

const (
	balance  = 32
	maxSlots = balance*2 + 2

	leafOffset    = 0
	countOffset   = leafOffset + 1
	siblingOffset = countOffset + 2
	slotsOffset   = siblingOffset + 8

	slotSize = 16

	nodeSize = slotsOffset + slotSize*maxSlots

	maxKey = math.MaxInt64
)

type node []byte

func newNode(leaf bool, count int, sibling uint64) node {
	n := make(node, nodeSize)
	n.setLeaf(leaf)
	n.setCount(count)
	n.setSibling(sibling)
	return n
}

// newRoot returns an internal node with two children: left holds keys up to key.
func newRoot(left, right uint64, key int64) node {
	n := newNode(false, 2, 0)
	n.setSon(0, left)
	n.setKey(0, key)
	n.setSon(1, right)
	n.setKey(1, maxKey)
	return n
}

func (n node) leaf() bool {
	return n[leafOffset] == 1
}

func (n node) setLeaf(leaf bool) {
	if leaf {
		n[leafOffset] = 1
	} else {
		n[leafOffset] = 0
	}
}

func (n node) count() int {
	return int(binary.BigEndian.Uint16(n[countOffset:]))
}

func (n node) setCount(count int) {
	binary.BigEndian.PutUint16(n[countOffset:], uint16(count))
}

func (n node) sibling() uint64 {
	return binary.BigEndian.Uint64(n[siblingOffset:])
}

func (n node) setSibling(uid uint64) {
	binary.BigEndian.PutUint64(n[siblingOffset:], uid)
}

func (n node) son(k int) uint64 {
	return binary.BigEndian.Uint64(n[slotsOffset+k*slotSize:])
}

func (n node) setSon(k int, uid uint64) {
	binary.BigEndian.PutUint64(n[slotsOffset+k*slotSize:], uid)
}

func (n node) key(k int) int64 {
	return int64(binary.BigEndian.Uint64(n[slotsOffset+k*slotSize+8:]))
}

func (n node) setKey(k int, key int64) {
	binary.BigEndian.PutUint64(n[slotsOffset+k*slotSize+8:], uint64(key))
}

// shift moves slots k and above one slot to the right.
func (n node) shift(k int) {
	start := slotsOffset + k*slotSize
	end := slotsOffset + n.count()*slotSize
	copy(n[start+slotSize:end+slotSize], n[start:end])
}

// searchNext returns the child to descend into for key, or 0 and the sibling if key is past
// the last key of the node.
func (n node) searchNext(key int64) (uint64, uint64) {
	for k := 0; k < n.count(); k++ {
		if key <= n.key(k) {
			return n.son(k), 0
		}
	}
	return 0, n.sibling()
}

// searchRange returns the uids in a leaf with keys from lo to hi, and the sibling if the scan
// should continue there.
func (n node) searchRange(lo, hi int64) ([]uint64, uint64) {
	count := n.count()
	k := 0
	for k < count && n.key(k) < lo {
		k += 1
	}

	var uids []uint64
	for k < count && n.key(k) <= hi {
		uids = append(uids, n.son(k))
		k += 1
	}

	if k == count {
		return uids, n.sibling()
	}
	return uids, 0
}

// insertLeaf adds (key, uid) to a leaf. It returns false if key belongs to the right of this
// leaf, in which case the caller must continue with the sibling.
func (n node) insertLeaf(key int64, uid uint64) bool {
	count := n.count()
	k := 0
	for k < count && n.key(k) < key {
		k += 1
	}
	if k == count && n.sibling() != 0 {
		return false
	}

	n.shift(k)
	n.setKey(k, key)
	n.setSon(k, uid)
	n.setCount(count + 1)
	return true
}

// insertChild adds right, split off from the child left, to an internal node. Left keeps the
// keys up to key and right takes over the old key of left. It returns false if left is not
// in this node because the node was split, in which case the caller must continue with the
// sibling.
func (n node) insertChild(left uint64, key int64, right uint64) bool {
	count := n.count()
	k := 0
	for k < count && n.son(k) != left {
		k += 1
	}
	if k == count {
		return false
	}

	kk := n.key(k)
	n.setKey(k, key)
	n.shift(k + 1)
	n.setKey(k+1, kk)
	n.setSon(k+1, right)
	n.setCount(count + 1)
	return true
}

func (n node) needSplit() bool {
	return n.count() == balance*2
}

// splitRight moves the upper half of the node to a new node, which is returned; the caller
// must store it and then point the sibling of this node at it.
func (n node) splitRight() node {
	right := newNode(n.leaf(), balance, n.sibling())
	copy(right[slotsOffset:], n[slotsOffset+balance*slotSize:slotsOffset+2*balance*slotSize])
	n.setCount(balance)
	return right
}
