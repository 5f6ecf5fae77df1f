package vm

// isVisible returns true if the version created by xmin and deleted by xmax (or 0) is
// visible to t.
func isVisible(ss StatusStore, t *Transaction, xmin, xmax uint64) bool {
	if t.Level == ReadCommitted {
		return readCommitted(ss, t, xmin, xmax)
	}
	return repeatableRead(ss, t, xmin, xmax)
}

func readCommitted(ss StatusStore, t *Transaction, xmin, xmax uint64) bool {
	xid := t.XID
	if xmin == xid && xmax == 0 {
		return true
	}

	if ss.IsCommitted(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != xid && !ss.IsCommitted(xmax) {
			return true
		}
	}
	return false
}

func repeatableRead(ss StatusStore, t *Transaction, xmin, xmax uint64) bool {
	xid := t.XID
	if xmin == xid && xmax == 0 {
		return true
	}

	if ss.IsCommitted(xmin) && xmin < xid && !t.inSnapshot(xmin) {
		if xmax == 0 {
			return true
		}
		if xmax != xid {
			if !ss.IsCommitted(xmax) || xmax > xid || t.inSnapshot(xmax) {
				return true
			}
		}
	}
	return false
}

// isVersionSkip returns true if deleting the version would skip over a version deleted by a
// transaction which t can not see.
func isVersionSkip(ss StatusStore, t *Transaction, xmax uint64) bool {
	if t.Level == ReadCommitted {
		return false
	}
	return ss.IsCommitted(xmax) && (xmax > t.XID || t.inSnapshot(xmax))
}
