package cleaner

import (
	"github.com/ValentinKolb/btcache/lib/tree"
)

// LocalTracker accumulates obsolete log space found during one eviction
// attempt. It is not safe for concurrent use.
type LocalTracker struct {
	files map[uint32]*FileSummary
}

// NewLocalTracker creates an empty tracker
func NewLocalTracker() *LocalTracker {
	return &LocalTracker{files: make(map[uint32]*FileSummary)}
}

// CountObsolete records that the entry at lsn, of the given size, is no
// longer referenced
func (t *LocalTracker) CountObsolete(lsn tree.LSN, size int64) {
	if lsn == tree.NullLSN {
		return
	}
	fs, ok := t.files[lsn.File()]
	if !ok {
		fs = &FileSummary{File: lsn.File()}
		t.files[lsn.File()] = fs
	}
	fs.ObsoleteEntries++
	fs.ObsoleteBytes += size
}

// IsEmpty reports whether nothing was counted
func (t *LocalTracker) IsEmpty() bool { return len(t.files) == 0 }

// Reset drops all counts
func (t *LocalTracker) Reset() {
	clear(t.files)
}
