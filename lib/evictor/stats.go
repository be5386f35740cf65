package evictor

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	vmetrics "github.com/VictoriaMetrics/metrics"
	gometrics "github.com/rcrowley/go-metrics"
)

// Statistics is a snapshot of the evictor counters
type Statistics struct {
	Passes                int64 `json:"passes" yaml:"passes"`
	NodesScanned          int64 `json:"nodes_scanned" yaml:"nodes_scanned"`
	NodesSelected         int64 `json:"nodes_selected" yaml:"nodes_selected"`
	NodesEvicted          int64 `json:"nodes_evicted" yaml:"nodes_evicted"`
	RootNodesEvicted      int64 `json:"root_nodes_evicted" yaml:"root_nodes_evicted"`
	BINsStripped          int64 `json:"bins_stripped" yaml:"bins_stripped"`
	RequiredBytesLastPass int64 `json:"required_bytes_last_pass" yaml:"required_bytes_last_pass"`

	Runs          int64         `json:"runs" yaml:"runs"`
	RunTimeMean   time.Duration `json:"run_time_mean" yaml:"run_time_mean"`
	RunTimeP99    time.Duration `json:"run_time_p99" yaml:"run_time_p99"`
	BatchBytesP50 float64       `json:"batch_bytes_p50" yaml:"batch_bytes_p50"`
	BatchBytesP99 float64       `json:"batch_bytes_p99" yaml:"batch_bytes_p99"`
}

// stats holds the counters of one evictor. Counters are exported in
// Prometheus format, latencies and batch sizes are kept in samples for
// percentiles.
type stats struct {
	set *vmetrics.Set

	passes           *vmetrics.Counter
	nodesScanned     *vmetrics.Counter
	nodesSelected    *vmetrics.Counter
	nodesEvicted     *vmetrics.Counter
	rootNodesEvicted *vmetrics.Counter
	binsStripped     *vmetrics.Counter
	requiredLastPass atomic.Int64

	mu         sync.Mutex
	runTime    gometrics.Timer
	batchBytes gometrics.Histogram
}

func newStats(name string, residentNodes func() float64, cacheUsage func() float64) *stats {
	s := &stats{set: vmetrics.NewSet()}
	metric := func(m string) string {
		return fmt.Sprintf(`btcache_evictor_%s{evictor=%q}`, m, name)
	}

	s.passes = s.set.NewCounter(metric("passes_total"))
	s.nodesScanned = s.set.NewCounter(metric("nodes_scanned_total"))
	s.nodesSelected = s.set.NewCounter(metric("nodes_selected_total"))
	s.nodesEvicted = s.set.NewCounter(metric("nodes_evicted_total"))
	s.rootNodesEvicted = s.set.NewCounter(metric("root_nodes_evicted_total"))
	s.binsStripped = s.set.NewCounter(metric("bins_stripped_total"))
	s.set.NewGauge(metric("required_bytes_last_pass"), func() float64 {
		return float64(s.requiredLastPass.Load())
	})
	s.set.NewGauge(metric("resident_nodes"), residentNodes)
	s.set.NewGauge(metric("cache_usage_bytes"), cacheUsage)

	s.resetSamples()
	return s
}

func (s *stats) resetSamples() {
	s.mu.Lock()
	s.runTime = gometrics.NewTimer()
	s.batchBytes = gometrics.NewHistogram(gometrics.NewUniformSample(1028))
	s.mu.Unlock()
}

func (s *stats) observeRun(start time.Time) {
	s.mu.Lock()
	s.runTime.UpdateSince(start)
	s.mu.Unlock()
}

func (s *stats) observeBatch(freed int64) {
	s.mu.Lock()
	s.batchBytes.Update(freed)
	s.mu.Unlock()
}

func (s *stats) load(clear bool) Statistics {
	st := Statistics{
		Passes:                int64(s.passes.Get()),
		NodesScanned:          int64(s.nodesScanned.Get()),
		NodesSelected:         int64(s.nodesSelected.Get()),
		NodesEvicted:          int64(s.nodesEvicted.Get()),
		RootNodesEvicted:      int64(s.rootNodesEvicted.Get()),
		BINsStripped:          int64(s.binsStripped.Get()),
		RequiredBytesLastPass: s.requiredLastPass.Load(),
	}

	s.mu.Lock()
	st.Runs = s.runTime.Count()
	st.RunTimeMean = time.Duration(s.runTime.Mean())
	st.RunTimeP99 = time.Duration(s.runTime.Percentile(0.99))
	st.BatchBytesP50 = s.batchBytes.Percentile(0.5)
	st.BatchBytesP99 = s.batchBytes.Percentile(0.99)
	s.mu.Unlock()

	if clear {
		for _, c := range []*vmetrics.Counter{
			s.passes, s.nodesScanned, s.nodesSelected,
			s.nodesEvicted, s.rootNodesEvicted, s.binsStripped,
		} {
			c.Set(0)
		}
		s.requiredLastPass.Store(0)
		s.resetSamples()
	}
	return st
}

func (s *stats) writePrometheus(w io.Writer) {
	s.set.WritePrometheus(w)
}
