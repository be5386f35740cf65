package cleaner

import (
	"sort"
	"sync/atomic"

	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/puzpuzpuz/xsync/v3"
)

// SummaryOverhead is the budgeted size of one file summary
const SummaryOverhead int64 = 96

// FileSummary is the utilization of one log file
type FileSummary struct {
	File            uint32
	TotalEntries    int64
	TotalBytes      int64
	ObsoleteEntries int64
	ObsoleteBytes   int64
}

// Utilization returns the live share of the file in percent
func (s FileSummary) Utilization() int {
	if s.TotalBytes <= 0 {
		return 100
	}
	live := s.TotalBytes - s.ObsoleteBytes
	if live < 0 {
		live = 0
	}
	return int(live * 100 / s.TotalBytes)
}

// Profile is the utilization profile of an environment.
//
// Thread-safety: all methods are safe for concurrent use.
type Profile struct {
	files  *xsync.MapOf[uint32, *summary]
	memory atomic.Int64

	// reports changes of the memory used by summaries
	budget func(delta int64)
}

type summary struct {
	totalEntries    atomic.Int64
	totalBytes      atomic.Int64
	obsoleteEntries atomic.Int64
	obsoleteBytes   atomic.Int64
}

// NewProfile creates an empty profile. budget is called with every change
// of the memory used by the profile and may be nil.
func NewProfile(budget func(delta int64)) *Profile {
	if budget == nil {
		budget = func(int64) {}
	}
	return &Profile{files: xsync.NewMapOf[uint32, *summary](), budget: budget}
}

func (p *Profile) fileSummary(file uint32) *summary {
	s, loaded := p.files.LoadOrCompute(file, func() *summary { return &summary{} })
	if !loaded {
		p.memory.Add(SummaryOverhead)
		p.budget(SummaryOverhead)
	}
	return s
}

// CountWritten records a newly appended log entry
func (p *Profile) CountWritten(lsn tree.LSN, size int64) {
	s := p.fileSummary(lsn.File())
	s.totalEntries.Add(1)
	s.totalBytes.Add(size)
}

// FlushLocalTracker merges the counts of a local tracker and resets it
func (p *Profile) FlushLocalTracker(t *LocalTracker) error {
	for file, fs := range t.files {
		s := p.fileSummary(file)
		s.obsoleteEntries.Add(fs.ObsoleteEntries)
		s.obsoleteBytes.Add(fs.ObsoleteBytes)
	}
	t.Reset()
	return nil
}

// EvictMemory drops the summaries of files without live data and returns
// the number of bytes released. Such files only wait for the cleaner to
// delete them, their summaries are rebuilt on demand.
func (p *Profile) EvictMemory() int64 {
	var freed int64
	p.files.Range(func(file uint32, s *summary) bool {
		total := s.totalBytes.Load()
		if total > 0 && s.obsoleteBytes.Load() >= total {
			if _, ok := p.files.LoadAndDelete(file); ok {
				freed += SummaryOverhead
			}
		}
		return true
	})
	if freed > 0 {
		p.memory.Add(-freed)
		p.budget(-freed)
	}
	return freed
}

// MemoryUsage returns the memory charged for summaries
func (p *Profile) MemoryUsage() int64 { return p.memory.Load() }

// Summaries returns a snapshot of all file summaries sorted by file
func (p *Profile) Summaries() []FileSummary {
	var out []FileSummary
	p.files.Range(func(file uint32, s *summary) bool {
		out = append(out, FileSummary{
			File:            file,
			TotalEntries:    s.totalEntries.Load(),
			TotalBytes:      s.totalBytes.Load(),
			ObsoleteEntries: s.obsoleteEntries.Load(),
			ObsoleteBytes:   s.obsoleteBytes.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out
}
