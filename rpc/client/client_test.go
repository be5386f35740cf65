package client

import (
	"context"
	"io"
	"testing"

	"github.com/ValentinKolb/btcache/lib/budget"
	"github.com/ValentinKolb/btcache/lib/env"
	"github.com/ValentinKolb/btcache/lib/evictor"
	"github.com/ValentinKolb/btcache/lib/tree"
	"github.com/ValentinKolb/btcache/rpc/common"
	"github.com/ValentinKolb/btcache/rpc/serializer"
	"github.com/ValentinKolb/btcache/rpc/server"
	"github.com/ValentinKolb/btcache/rpc/transport"
	"github.com/ansel1/merry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopback connects a client transport directly to a server transport
type loopback struct {
	handler transport.ServerHandleFunc
	metrics transport.MetricsWriteFunc
	ready   chan struct{}
}

func (l *loopback) RegisterHandler(h transport.ServerHandleFunc)  { l.handler = h }
func (l *loopback) RegisterMetrics(m transport.MetricsWriteFunc) { l.metrics = m }

func (l *loopback) Listen(ctx context.Context, _ common.ServerConfig) error {
	close(l.ready)
	<-ctx.Done()
	return nil
}

func (l *loopback) Connect(common.ClientConfig) error { return nil }
func (l *loopback) Send(shardId uint64, req []byte) ([]byte, error) {
	return l.handler(shardId, req), nil
}
func (l *loopback) Close() error { return nil }

type fixture struct {
	cache *env.SharedCache
	envs  map[string]*env.Environment
	lb    *loopback
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bc := budget.DefaultConfig()
	bc.MaxMemory = 256 << 10
	bc.LogBufferBytes = 0
	bc.EvictBytes = budget.MinEvictBytes
	cache, err := env.NewSharedCache("test", bc, evictor.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	f := &fixture{cache: cache, envs: map[string]*env.Environment{}, lb: &loopback{ready: make(chan struct{})}}
	for _, name := range []string{"a", "b"} {
		cfg := env.DefaultConfig()
		cfg.Name = name
		e, err := cache.Open(cfg)
		require.NoError(t, err)
		_, err = e.CreateDatabase("db", tree.DatabaseConfig{MaxEntries: 16})
		require.NoError(t, err)
		f.envs[name] = e
	}

	srv := server.NewRPCServer(common.ServerConfig{
		Endpoint: "loopback",
		LogLevel: "info",
		Shards: []common.ServerShard{
			{ShardID: 1, Environment: "a"},
			{ShardID: 2, Environment: "b"},
		},
	}, cache, f.lb, serializer.NewJSONSerializer())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	<-f.lb.ready
	return f
}

func (f *fixture) client(t *testing.T, shard uint64) IAdminClient {
	t.Helper()
	c, err := NewRPCAdminClient(shard, common.ClientConfig{}, f.lb, serializer.NewJSONSerializer())
	require.NoError(t, err)
	return c
}

func TestAdminStats(t *testing.T) {
	f := newFixture(t)
	a := f.envs["a"]
	for i := 0; i < 50; i++ {
		require.NoError(t, a.Put("db", []byte{byte(i)}, []byte("value")))
	}

	stats, err := f.client(t, 1).Stats(false)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "a", stats.Name)
	assert.Equal(t, a.ID(), stats.ID)
	assert.Equal(t, a.Budget().TreeUsage(), stats.TreeUsage)
	assert.Equal(t, a.Log().Stats().LeafWrites, stats.Log.LeafWrites)

	other, err := f.client(t, 2).Stats(false)
	require.NoError(t, err)
	assert.Equal(t, "b", other.Name)
}

func TestAdminEvictAndResize(t *testing.T) {
	f := newFixture(t)
	a := f.envs["a"]
	value := make([]byte, 100)
	for i := 0; i < 1200; i++ {
		require.NoError(t, a.Put("db", []byte{byte(i >> 8), byte(i)}, value))
	}

	c := f.client(t, 1)
	require.NoError(t, c.Resize(budget.MinMaxMemory))
	assert.Equal(t, int64(budget.MinMaxMemory), f.cache.Budget().MaxMemory())

	stats, err := c.Evict()
	require.NoError(t, err)
	assert.Positive(t, stats.Evictor.Runs)
	assert.LessOrEqual(t, f.cache.Budget().CacheUsage(), f.cache.Budget().MaxMemory()+4096)

	err = c.Resize(1)
	require.Error(t, err)
	assert.True(t, merry.Is(err, ErrRemote))

	// the daemon is not running, so an alert finds nothing to wake
	ok, err := c.Alert()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdminUnknownShard(t *testing.T) {
	f := newFixture(t)
	_, err := f.client(t, 99).Stats(false)
	require.Error(t, err)
	assert.True(t, merry.Is(err, ErrRemote))
	assert.Contains(t, err.Error(), "shard 99 not found")
}

func TestAdminMetrics(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.lb.metrics)

	r, w := io.Pipe()
	go func() {
		f.lb.metrics(w)
		_ = w.Close()
	}()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Contains(t, string(out), `btcache_environment_tree_usage_bytes{environment="a"}`)
	assert.Contains(t, string(out), "btcache_shared_distribution_quality")
}

func TestProtocolMismatch(t *testing.T) {
	lb := &loopback{handler: func(uint64, []byte) []byte { return []byte(`{"msg_type":"alert","ok":true}`) }}
	c, err := NewRPCAdminClient(1, common.ClientConfig{}, lb, serializer.NewJSONSerializer())
	require.NoError(t, err)

	_, err = c.Stats(false)
	assert.True(t, merry.Is(err, ErrProtocol))

	lb.handler = func(uint64, []byte) []byte { return []byte("not json") }
	_, err = c.Evict()
	assert.True(t, merry.Is(err, ErrProtocol))
	assert.NoError(t, c.Close())
}
