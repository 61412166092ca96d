package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// instantDialer builds a Ready connection with no real socket: Connection.Open
// transitions straight to Ready when called with no credentials and no db.
func instantDialer() Dialer {
	return func(ctx context.Context, addr string) (*connection.Connection, error) {
		c := connection.New(addr, pipeline.RESP2Decoder{}, logging.NewNoop(), metrics.NewNoop())
		if err := c.Open(nil, nil); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Dial == nil {
		cfg.Dial = instantDialer()
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestLeaseServesIdleConnectionBeforeDialingNew(t *testing.T) {
	p := newTestPool(t, Config{
		Addresses: []string{"127.0.0.1:6379"},
		Capacity:  StrictMax(2),
	})
	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	l.Release()
	time.Sleep(10 * time.Millisecond)

	idle, leased := p.Stats()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 0, leased)

	l2, err := p.Lease(context.Background())
	require.NoError(t, err)
	assert.Same(t, l.Conn(), l2.Conn())
	l2.Release()
}

func TestStrictMaxTimesOutThenGrantsOnRelease(t *testing.T) {
	p := newTestPool(t, Config{
		Addresses:    []string{"127.0.0.1:6379"},
		Capacity:     StrictMax(2),
		RetryTimeout: 50 * time.Millisecond,
	})
	l1, err := p.Lease(context.Background())
	require.NoError(t, err)
	l2, err := p.Lease(context.Background())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Lease(context.Background())
	elapsed := time.Since(start)
	require.Error(t, err)
	assert.IsType(t, &rerror.TimedOutWaitingForConnectionError{}, err)
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)

	l1.Release()
	l3, err := p.Lease(context.Background())
	require.NoError(t, err)
	l3.Release()
	l2.Release()
}

func TestNoAvailableConnectionTargets(t *testing.T) {
	p := newTestPool(t, Config{
		Addresses: nil,
		Capacity:  StrictMax(1),
	})
	_, err := p.Lease(context.Background())
	require.Error(t, err)
	assert.IsType(t, &rerror.NoAvailableConnectionTargetsError{}, err)
}

func TestPreservedMaxClosesExcessIdleOnReturn(t *testing.T) {
	p := newTestPool(t, Config{
		Addresses: []string{"127.0.0.1:6379"},
		Capacity:  PreservedMax(1),
	})
	l1, err := p.Lease(context.Background())
	require.NoError(t, err)
	l2, err := p.Lease(context.Background())
	require.NoError(t, err)

	l1.Release()
	l2.Release()
	time.Sleep(10 * time.Millisecond)

	idle, leased := p.Stats()
	assert.Equal(t, 1, idle)
	assert.Equal(t, 0, leased)
}

func TestPoolCloseFailsWaitersAndLaterLeases(t *testing.T) {
	p := newTestPool(t, Config{
		Addresses:    []string{"127.0.0.1:6379"},
		Capacity:     StrictMax(1),
		RetryTimeout: time.Second,
	})
	l1, err := p.Lease(context.Background())
	require.NoError(t, err)

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.Lease(context.Background())
		waitErr <- err
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, p.Close())
	err = <-waitErr
	require.Error(t, err)
	assert.IsType(t, &rerror.PoolClosedError{}, err)

	_, err = p.Lease(context.Background())
	require.Error(t, err)
	assert.IsType(t, &rerror.PoolClosedError{}, err)
	_ = l1
}
