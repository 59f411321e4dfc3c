package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/server/v3/embed"
	"go.etcd.io/etcd/server/v3/etcdserver/api/v3client"
)

func TestEtcdManager(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an embedded etcd")
	}
	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"
	etcd, err := embed.StartEtcd(cfg)
	require.NoError(t, err)
	select {
	case <-etcd.Server.ReadyNotify():
	case <-time.After(10 * time.Second):
		etcd.Close()
		t.Fatal("etcd took too long to start")
	}
	cli := v3client.New(etcd.Server)
	defer func() {
		cli.Close()
		etcd.Close()
		<-etcd.Server.StopNotify()
	}()

	ctx := context.Background()
	a := NewEtcdManager(cli, "/locks", 5*time.Second, nil)
	b := NewEtcdManager(cli, "/locks", 5*time.Second, nil)
	require.NoError(t, a.Start())
	require.NoError(t, b.Start())
	defer b.Stop()

	ok, err := a.Acquire(ctx, DatasetKey("d1"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, DatasetKey("d1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Release(ctx, DatasetKey("d1")))
	ok, err = b.Acquire(ctx, DatasetKey("d1"))
	require.NoError(t, err)
	assert.False(t, ok, "release by a non owner must not drop the lease")

	// stopping a revokes its lease and frees its keys
	a.Stop()
	ok, err = b.Acquire(ctx, DatasetKey("d1"))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, b.Release(ctx, DatasetKey("d1")))
	resp, err := cli.Get(ctx, "/locks/dataset:d1")
	require.NoError(t, err)
	assert.Zero(t, resp.Count)
}
