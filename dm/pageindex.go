package dm

import (
	"sync"

	"github.com/google/btree"

	"github.com/leftmike/mdb/page"
)

const (
	intervals = 40
	threshold = page.Size / intervals
)

// pageInfo is a page waiting in the free space index; pages are ordered by bucket (free space
// divided by threshold) and then by the order in which they were added.
type pageInfo struct {
	bucket int
	seq    uint64
	pgno   uint32
	free   int
}

func (pi pageInfo) Less(item btree.Item) bool {
	pi2 := item.(pageInfo)
	if pi.bucket < pi2.bucket {
		return true
	} else if pi.bucket > pi2.bucket {
		return false
	}
	return pi.seq < pi2.seq
}

// pageIndex is the free space index. A page is either in the index or checked out by exactly
// one inserter.
type pageIndex struct {
	mutex sync.Mutex
	tree  *btree.BTree
	seq   uint64
}

func newPageIndex() *pageIndex {
	return &pageIndex{
		tree: btree.New(16),
	}
}

func bucket(free int) int {
	b := free / threshold
	if b > intervals {
		b = intervals
	}
	return b
}

func (pi *pageIndex) add(pgno uint32, free int) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	pi.seq += 1
	pi.tree.ReplaceOrInsert(pageInfo{
		bucket: bucket(free),
		seq:    pi.seq,
		pgno:   pgno,
		free:   free,
	})
}

// selectPage removes and returns a page with at least n bytes free. The search starts one
// bucket above n so that any page found there fits; the top bucket spans a range so its pages
// are checked.
func (pi *pageIndex) selectPage(n int) (pageInfo, bool) {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	start := n/threshold + 1
	if start > intervals {
		start = intervals
	}

	var found pageInfo
	var ok bool
	pi.tree.AscendGreaterOrEqual(pageInfo{bucket: start},
		func(item btree.Item) bool {
			info := item.(pageInfo)
			if info.free >= n {
				found = info
				ok = true
				return false
			}
			return true
		})
	if ok {
		pi.tree.Delete(found)
	}
	return found, ok
}

func (pi *pageIndex) len() int {
	pi.mutex.Lock()
	defer pi.mutex.Unlock()

	return pi.tree.Len()
}
