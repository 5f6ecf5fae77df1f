package dm

import (
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/mdb/page"
	"github.com/leftmike/mdb/wal"
)

func scanLog(l *wal.Log, fn func(lr logRecord) error) error {
	l.Rewind()
	for {
		buf, err := l.Next()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		lr, err := decodeRecord(buf)
		if err != nil {
			return err
		}
		err = fn(lr)
		if err != nil {
			return err
		}
	}
}

func applyRecord(pages *page.Store, lr logRecord, redo bool) error {
	pg, err := pages.Get(lr.pgno)
	if err != nil {
		return err
	}
	defer pg.Release()

	switch lr.typ {
	case insertType:
		raw := lr.raw
		if !redo {
			raw = append([]byte(nil), lr.raw...)
			raw[validOffset] = itemInvalid
		}
		page.RecoverInsert(pg, raw, lr.off)
	case updateType:
		if redo {
			page.RecoverUpdate(pg, lr.newRaw, lr.off)
		} else {
			page.RecoverUpdate(pg, lr.oldRaw, lr.off)
		}
	}
	return nil
}

// recoverLog brings the page store back in line with the log: pages past the last one
// referenced by the log are discarded, records of completed transactions are redone in log
// order, then records of transactions which were active at the crash are undone in reverse
// order and those transactions are marked rolled back.
func recoverLog(ss StatusStore, l *wal.Log, pages *page.Store, logger *log.Logger) error {
	maxPgno := uint32(metaPage)
	err := scanLog(l, func(lr logRecord) error {
		if lr.pgno > maxPgno {
			maxPgno = lr.pgno
		}
		return nil
	})
	if err != nil {
		return err
	}

	if maxPgno < pages.PageCount() {
		logger.WithFields(log.Fields{
			"pages":    pages.PageCount(),
			"truncate": maxPgno,
		}).Info("dm: truncating pages")
	}
	err = pages.TruncateTo(maxPgno)
	if err != nil {
		return err
	}

	var redone int
	err = scanLog(l, func(lr logRecord) error {
		if ss.IsActive(lr.xid) {
			return nil
		}
		redone += 1
		return applyRecord(pages, lr, true)
	})
	if err != nil {
		return err
	}

	active := map[uint64][]logRecord{}
	var xids []uint64
	err = scanLog(l, func(lr logRecord) error {
		if !ss.IsActive(lr.xid) {
			return nil
		}
		if _, ok := active[lr.xid]; !ok {
			xids = append(xids, lr.xid)
		}
		active[lr.xid] = append(active[lr.xid], lr)
		return nil
	})
	if err != nil {
		return err
	}

	var undone int
	for _, xid := range xids {
		lrs := active[xid]
		for idx := len(lrs) - 1; idx >= 0; idx-- {
			undone += 1
			err = applyRecord(pages, lrs[idx], false)
			if err != nil {
				return err
			}
		}
		err = ss.Rollback(xid)
		if err != nil {
			return err
		}
	}

	logger.WithFields(log.Fields{
		"redone":       redone,
		"undone":       undone,
		"transactions": len(xids),
	}).Info("dm: recovered")
	return nil
}
