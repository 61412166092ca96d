package redwire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/cluster"
)

func fakeNodeFactory() func(Config) (*Client, error) {
	return func(cfg Config) (*Client, error) {
		return newWithDialer(cfg, pipeDialer(), nil)
	}
}

func TestClusterClientRoutesByKeySlot(t *testing.T) {
	cc := newClusterClient(Config{
		Capacity:     StrictMax(2),
		RetryTimeout: time.Second,
	}, []cluster.Shard{{NodeId: "node-a:6379", Low: 0, High: 16383}}, fakeNodeFactory())
	t.Cleanup(func() { _ = cc.Close() })

	reply, err := cc.Do(context.Background(), "foo", "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Resp2.Message)
}

// movedOnceThenOKDialer answers the first command on "node-a" with a MOVED
// redirect to "node-b", and every command on "node-b" with OK.
func movedOnceThenOKDialer() func(Config) (*Client, error) {
	return func(cfg Config) (*Client, error) {
		addr := cfg.InitialAddresses[0]
		dial := pipeDialer()
		if addr == "node-a:6379" {
			dial = movedPipeDialer()
		}
		return newWithDialer(cfg, dial, nil)
	}
}

func TestClusterClientFollowsMovedRedirect(t *testing.T) {
	cc := newClusterClient(Config{
		Capacity:     StrictMax(2),
		RetryTimeout: time.Second,
	}, []cluster.Shard{{NodeId: "node-a:6379", Low: 0, High: 16383}}, movedOnceThenOKDialer())
	t.Cleanup(func() { _ = cc.Close() })

	reply, err := cc.Do(context.Background(), "foo", "GET", "foo")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Resp2.Message)

	node, ok := cc.lookup(cluster.KeySlot([]byte("foo")))
	require.True(t, ok)
	assert.Equal(t, cluster.NodeId("node-b:6379"), node)
}

func TestClusterClientNoShardForSlot(t *testing.T) {
	cc := newClusterClient(Config{Capacity: StrictMax(2)}, nil, fakeNodeFactory())
	t.Cleanup(func() { _ = cc.Close() })

	_, err := cc.Do(context.Background(), "foo", "GET", "foo")
	require.Error(t, err)
}
