package connection

import (
	"net"
	"testing"

	"github.com/panjf2000/gnet/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/pipeline"
)

// mockConn is a hand-rolled gnet.Conn test double for exercising a
// Connection without a real socket.
type mockConn struct {
	gnet.Conn
	written []byte
	buf     []byte
	closed  bool
	ctx     interface{}
}

func (m *mockConn) Write(buf []byte) (int, error) {
	m.written = append(m.written, buf...)
	return len(buf), nil
}

func (m *mockConn) AsyncWrite(buf []byte, callback gnet.AsyncCallback) error {
	m.written = append(m.written, buf...)
	return nil
}

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func (m *mockConn) Next(n int) ([]byte, error) {
	if len(m.buf) == 0 {
		return nil, nil
	}
	if n == -1 || n > len(m.buf) {
		buf := m.buf
		m.buf = nil
		return buf, nil
	}
	buf := m.buf[:n]
	m.buf = m.buf[n:]
	return buf, nil
}

func (m *mockConn) Context() interface{}     { return m.ctx }
func (m *mockConn) SetContext(v interface{}) { m.ctx = v }
func (m *mockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6379}
}

func TestSubmitRejectedBeforeReady(t *testing.T) {
	conn := New("127.0.0.1:6379", pipeline.RESP2Decoder{}, nil, nil)
	_, err := conn.Submit([]byte("*1\r\n$4\r\nPING\r\n"))
	require.Error(t, err)
}

func TestOpenWithoutCredentialsReachesReady(t *testing.T) {
	conn := New("127.0.0.1:6379", pipeline.RESP2Decoder{}, nil, nil)
	mock := &mockConn{}
	conn.Attach(mock)

	require.NoError(t, conn.Open(nil, nil))
	assert.Equal(t, Ready, conn.State())

	_, err := conn.Submit([]byte("*1\r\n$4\r\nPING\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "*1\r\n$4\r\nPING\r\n", string(mock.written))
}

func TestOnTrafficResolvesRepliesInOrder(t *testing.T) {
	conn := New("127.0.0.1:6379", pipeline.RESP2Decoder{}, nil, nil)
	mock := &mockConn{}
	conn.Attach(mock)
	require.NoError(t, conn.Open(nil, nil))

	cc1, err := conn.Submit([]byte("*1\r\n$3\r\nGET\r\n"))
	require.NoError(t, err)
	cc2, err := conn.Submit([]byte("*1\r\n$3\r\nGET\r\n"))
	require.NoError(t, err)

	mock.buf = []byte("+one\r\n+two\r\n")
	action := conn.onTraffic(mock)
	assert.Equal(t, gnet.None, action)

	<-cc1.Done()
	<-cc2.Done()
	r1, err := cc1.Result()
	require.NoError(t, err)
	assert.Equal(t, "one", r1.Resp2.Message)
	r2, _ := cc2.Result()
	assert.Equal(t, "two", r2.Resp2.Message)
}

func TestOnCloseFailsQueuedRepliesAndRunsHook(t *testing.T) {
	conn := New("127.0.0.1:6379", pipeline.RESP2Decoder{}, nil, nil)
	mock := &mockConn{}
	conn.Attach(mock)
	require.NoError(t, conn.Open(nil, nil))

	cc, err := conn.Submit([]byte("*1\r\n$3\r\nGET\r\n"))
	require.NoError(t, err)

	hookCalled := false
	conn.OnUnexpectedClose(func(*Connection, error) { hookCalled = true })

	conn.onClose(assertErr("boom"))

	<-cc.Done()
	_, err = cc.Result()
	assert.Error(t, err)
	assert.True(t, hookCalled)
	assert.Equal(t, Closed, conn.State())
}

func TestQuiesceDoesNotRunUnexpectedCloseHook(t *testing.T) {
	conn := New("127.0.0.1:6379", pipeline.RESP2Decoder{}, nil, nil)
	mock := &mockConn{}
	conn.Attach(mock)
	require.NoError(t, conn.Open(nil, nil))

	hookCalled := false
	conn.OnUnexpectedClose(func(*Connection, error) { hookCalled = true })

	// A caller-initiated Quiesce/Close puts the connection into
	// Quiescing before the transport actually tears down; onClose must
	// recognize that and skip the unexpected-close hook.
	conn.setState(Quiescing)
	conn.onClose(nil)
	assert.False(t, hookCalled)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
