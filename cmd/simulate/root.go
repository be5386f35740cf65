package simulate

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/btcache/cmd/util"
	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const simDatabase = "sim"

var (
	SimulateCmd = &cobra.Command{
		Use:     "simulate",
		Short:   "Run an in-process workload against a shared cache",
		Long:    "Opens a shared cache with several environments, inserts, reads and deletes keys from parallel goroutines and prints the throughput of every phase together with the eviction statistics of each environment.",
		PreRunE: processSimConfig,
		RunE:    run,
	}
	simEnvironments = 2
	simThreads      = 8
	simKeys         = 50_000
	simValueSize    = 100
	simSkip         = make([]string, 0)
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// a small default cache so the workload has to evict
	util.SetupCacheFlags(SimulateCmd, 4<<20)

	key := "envs"
	SimulateCmd.Flags().Int(key, simEnvironments, util.WrapString("Number of environments sharing the cache"))
	key = "threads"
	SimulateCmd.Flags().Int(key, simThreads, util.WrapString("Number of goroutines per phase"))
	key = "keys"
	SimulateCmd.Flags().Int(key, simKeys, util.WrapString("Number of distinct keys per environment"))
	key = "value-size"
	SimulateCmd.Flags().Int(key, simValueSize, util.WrapString("Size of the values in bytes"))
	key = "skip"
	SimulateCmd.Flags().String(key, "", util.WrapString("Phases to skip (comma separated - e.g. get,delete)"))
	key = "csv"
	SimulateCmd.Flags().String(key, "", util.WrapString("Optional path to save the phase results as CSV"))
}

func processSimConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	simEnvironments = viper.GetInt("envs")
	simThreads = viper.GetInt("threads")
	simKeys = viper.GetInt("keys")
	simValueSize = viper.GetInt("value-size")
	simSkip = strings.Split(viper.GetString("skip"), ",")

	if simEnvironments < 1 || simThreads < 1 || simKeys < 1 {
		return fmt.Errorf("envs, threads and keys must be positive")
	}
	return nil
}

func run(_ *cobra.Command, _ []string) error {
	bc, ec, err := util.GetCacheConfig()
	if err != nil {
		return err
	}
	cache, err := env.NewSharedCache("simulate", bc, ec)
	if err != nil {
		return err
	}
	defer cache.Close()

	envs := make([]*env.Environment, simEnvironments)
	for i := range envs {
		cfg := env.DefaultConfig()
		cfg.Name = fmt.Sprintf("env-%d", i)
		if envs[i], err = cache.Open(cfg); err != nil {
			return err
		}
		if _, err = envs[i].CreateDatabase(simDatabase, tree.DefaultDatabaseConfig()); err != nil {
			return err
		}
	}
	cache.Start()

	fmt.Println("In-process eviction workload")
	fmt.Println()
	fmt.Printf("Cache: %d bytes, environments: %d, threads: %d, keys: %d, value size: %d\n",
		bc.MaxMemory, simEnvironments, simThreads, simKeys, simValueSize)
	fmt.Println()

	w := &workload{envs: envs, value: make([]byte, simValueSize)}
	results := make(map[string]testing.BenchmarkResult)
	for _, phase := range []struct {
		name string
		op   func(e *env.Environment, key []byte) error
	}{
		{"put", w.put},
		{"get", w.get},
		{"mixed", w.mixed},
		{"delete", w.delete},
	} {
		if shouldSkip(phase.name) {
			printResult(phase.name, testing.BenchmarkResult{})
			continue
		}
		res := w.benchmark(phase.op)
		if w.err.Load() != nil {
			return *w.err.Load()
		}
		results[phase.name] = res
		printResult(phase.name, res)
	}

	fmt.Println()
	for _, e := range envs {
		st := e.Stats(false)
		fmt.Printf("%-10s tree %9d bytes  nodes %6d  evicted %6d  stripped %6d  runs %4d\n",
			st.Name, st.TreeUsage, st.ResidentNodes, st.Evictor.NodesEvicted, st.Evictor.BINsStripped, st.Evictor.Runs)
	}
	dist := cache.Budget().Distribution()
	fmt.Printf("%-10s cache %8d / %d bytes  distribution quality %.2f (min/max %.2f)\n",
		"shared", cache.Budget().CacheUsage(), cache.Budget().MaxMemory(), dist.Quality, dist.MinMaxRatio)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, bc.MaxMemory); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Workload
// --------------------------------------------------------------------------

type workload struct {
	envs    []*env.Environment
	value   []byte
	counter atomic.Uint64
	err     atomic.Pointer[error]
}

// benchmark runs op from simThreads goroutines, spreading the operations
// over all environments and keys
func (w *workload) benchmark(op func(e *env.Environment, key []byte) error) testing.BenchmarkResult {
	return testing.Benchmark(func(b *testing.B) {
		b.SetParallelism(simThreads)
		b.ResetTimer()
		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				n := w.counter.Add(1)
				e := w.envs[n%uint64(len(w.envs))]
				key := []byte(fmt.Sprintf("sim-%09d", (n/uint64(len(w.envs)))%uint64(simKeys)))
				if err := op(e, key); err != nil {
					w.err.CompareAndSwap(nil, &err)
					return
				}
			}
		})
	})
}

func (w *workload) put(e *env.Environment, key []byte) error {
	return e.Put(simDatabase, key, w.value)
}

func (w *workload) get(e *env.Environment, key []byte) error {
	_, _, err := e.Get(simDatabase, key)
	return err
}

func (w *workload) mixed(e *env.Environment, key []byte) error {
	switch key[len(key)-1] % 4 {
	case 0:
		return w.put(e, key)
	case 1:
		_, err := e.Delete(simDatabase, key)
		return err
	default:
		return w.get(e, key)
	}
}

func (w *workload) delete(e *env.Environment, key []byte) error {
	_, err := e.Delete(simDatabase, key)
	return err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(phase string) bool {
	for _, skip := range simSkip {
		if phase == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a phase in a formatted way
func printResult(phase string, result testing.BenchmarkResult) {
	if result.N == 0 {
		fmt.Printf("%-20sskipped\n", phase)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", phase, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes the phase results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, maxMemory int64) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Phase", "NsPerOp", "DurationPerOp", "OpsPerSec",
		"MaxMemory", "Environments", "Threads", "Keys", "ValueSize",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	phases := make([]string, 0, len(results))
	for phase := range results {
		phases = append(phases, phase)
	}
	sort.Strings(phases)

	for _, phase := range phases {
		nsPerOp := math.Max(float64(results[phase].NsPerOp()), 1)
		row := []string{
			phase,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			strconv.FormatInt(maxMemory, 10),
			strconv.Itoa(simEnvironments),
			strconv.Itoa(simThreads),
			strconv.Itoa(simKeys),
			strconv.Itoa(simValueSize),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for phase %s: %v", phase, err)
		}
	}
	return nil
}
