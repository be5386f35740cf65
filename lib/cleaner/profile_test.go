package cleaner

import (
	"testing"

	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushLocalTracker(t *testing.T) {
	var charged int64
	p := NewProfile(func(delta int64) { charged += delta })

	p.CountWritten(tree.MakeLSN(1, 0), 100)
	p.CountWritten(tree.MakeLSN(1, 100), 50)
	p.CountWritten(tree.MakeLSN(2, 0), 80)

	lt := NewLocalTracker()
	lt.CountObsolete(tree.MakeLSN(1, 0), 100)
	lt.CountObsolete(tree.NullLSN, 999)
	require.False(t, lt.IsEmpty())
	require.NoError(t, p.FlushLocalTracker(lt))
	assert.True(t, lt.IsEmpty())

	sums := p.Summaries()
	require.Len(t, sums, 2)
	assert.Equal(t, FileSummary{File: 1, TotalEntries: 2, TotalBytes: 150, ObsoleteEntries: 1, ObsoleteBytes: 100}, sums[0])
	assert.Equal(t, 33, sums[0].Utilization())
	assert.Equal(t, 100, sums[1].Utilization())

	assert.Equal(t, 2*SummaryOverhead, p.MemoryUsage())
	assert.Equal(t, p.MemoryUsage(), charged)
}

func TestEvictMemoryDropsObsoleteFiles(t *testing.T) {
	var charged int64
	p := NewProfile(func(delta int64) { charged += delta })

	p.CountWritten(tree.MakeLSN(1, 0), 100)
	p.CountWritten(tree.MakeLSN(2, 0), 100)

	lt := NewLocalTracker()
	lt.CountObsolete(tree.MakeLSN(1, 0), 100)
	require.NoError(t, p.FlushLocalTracker(lt))

	assert.Equal(t, SummaryOverhead, p.EvictMemory())
	assert.Zero(t, p.EvictMemory())
	require.Len(t, p.Summaries(), 1)
	assert.Equal(t, uint32(2), p.Summaries()[0].File)
	assert.Equal(t, SummaryOverhead, charged)
}
