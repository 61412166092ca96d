package redwire

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/pool"
)

// fakeOKServer answers every inbound write with a fixed simple-string
// reply, enough to exercise the Client's lease/submit/release path without
// a real server.
func fakeOKServer(conn net.Conn) {
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if _, err := conn.Write([]byte("+OK\r\n")); err != nil {
				return
			}
		}
	}()
}

// fakeMovedServer answers every inbound write with a MOVED redirect of
// slot 12182 (the slot of key "foo") to node-b:6379, for exercising
// ClusterClient's redirect-following path.
func fakeMovedServer(conn net.Conn) {
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			if _, err := conn.Write([]byte("-MOVED 12182 node-b:6379\r\n")); err != nil {
				return
			}
		}
	}()
}

func movedPipeDialer() pool.Dialer {
	return func(ctx context.Context, addr string) (*connection.Connection, error) {
		clientSide, serverSide := net.Pipe()
		fakeMovedServer(serverSide)
		c := connection.New(addr, pipeline.RESP2Decoder{}, logging.NewNoop(), metrics.NewNoop())
		c.AttachRaw(clientSide)
		if err := c.Open(nil, nil); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func pipeDialer() pool.Dialer {
	return func(ctx context.Context, addr string) (*connection.Connection, error) {
		clientSide, serverSide := net.Pipe()
		fakeOKServer(serverSide)
		c := connection.New(addr, pipeline.RESP2Decoder{}, logging.NewNoop(), metrics.NewNoop())
		c.AttachRaw(clientSide)
		if err := c.Open(nil, nil); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := newWithDialer(Config{
		InitialAddresses: []string{"stub:0"},
		Capacity:         StrictMax(4),
		RetryTimeout:     time.Second,
	}, pipeDialer(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClientDoReturnsServerReply(t *testing.T) {
	c := newTestClient(t)
	reply, err := c.Do(context.Background(), "SET", "foo", "3")
	require.NoError(t, err)
	require.NotNil(t, reply.Resp2)
	assert.False(t, reply.IsServerError())
	assert.Equal(t, "OK", reply.Resp2.Message)
}

func TestClientDoSequenceReturnsLastReply(t *testing.T) {
	c := newTestClient(t)
	reply, err := c.DoSequence(context.Background(), []string{"ASKING"}, []string{"GET", "foo"})
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Resp2.Message)

	time.Sleep(10 * time.Millisecond)
	_, leased := c.Stats()
	assert.Equal(t, 0, leased)
}
