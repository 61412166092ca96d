package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/resp"
)

type bufWriter struct {
	written [][]byte
	failNext bool
}

func (w *bufWriter) Write(b []byte) (int, error) {
	if w.failNext {
		w.failNext = false
		return 0, assertError("write failed")
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	w.written = append(w.written, cp)
	return len(b), nil
}

type assertError string

func (e assertError) Error() string { return string(e) }

func TestHandlerOrderingFIFO(t *testing.T) {
	w := &bufWriter{}
	h := NewHandler(RESP2Decoder{}, w)

	cc1, err := h.Submit(resp.NewCommand("GET", "a").Encode(nil))
	require.NoError(t, err)
	cc2, err := h.Submit(resp.NewCommand("GET", "b").Encode(nil))
	require.NoError(t, err)
	cc3, err := h.Submit(resp.NewCommand("GET", "c").Encode(nil))
	require.NoError(t, err)

	assert.Equal(t, 3, h.Pending())

	buf := resp.Encode(nil, resp.BulkStringValue([]byte("1")))
	buf = resp.Encode(buf, resp.BulkStringValue([]byte("2")))
	buf = resp.Encode(buf, resp.BulkStringValue([]byte("3")))

	for buf != nil && len(buf) > 0 {
		n, err := h.Dispatch(buf)
		require.NoError(t, err)
		buf = buf[n:]
	}

	<-cc1.Done()
	<-cc2.Done()
	<-cc3.Done()

	r1, err := cc1.Result()
	require.NoError(t, err)
	assert.Equal(t, "1", string(r1.Resp2.Native.(resp.Value).Bytes))

	r2, _ := cc2.Result()
	assert.Equal(t, "2", string(r2.Resp2.Native.(resp.Value).Bytes))

	r3, _ := cc3.Result()
	assert.Equal(t, "3", string(r3.Resp2.Native.(resp.Value).Bytes))
}

func TestHandlerServerErrorFailsOnlyHead(t *testing.T) {
	w := &bufWriter{}
	h := NewHandler(RESP2Decoder{}, w)

	cc1, _ := h.Submit(resp.NewCommand("GET", "a").Encode(nil))
	cc2, _ := h.Submit(resp.NewCommand("GET", "b").Encode(nil))

	buf := resp.Encode(nil, resp.ErrorValue("ERR no such key"))
	buf = resp.Encode(buf, resp.BulkStringValue([]byte("ok")))
	for len(buf) > 0 {
		n, err := h.Dispatch(buf)
		require.NoError(t, err)
		buf = buf[n:]
	}

	<-cc1.Done()
	_, err := cc1.Result()
	require.Error(t, err)

	<-cc2.Done()
	r2, err := cc2.Result()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(r2.Resp2.Native.(resp.Value).Bytes))
}

func TestHandlerFramingErrorFailsAllQueued(t *testing.T) {
	w := &bufWriter{}
	h := NewHandler(RESP2Decoder{}, w)

	cc1, _ := h.Submit(resp.NewCommand("GET", "a").Encode(nil))
	cc2, _ := h.Submit(resp.NewCommand("GET", "b").Encode(nil))

	_, err := h.Dispatch([]byte("X\r\n"))
	require.Error(t, err)

	<-cc1.Done()
	<-cc2.Done()
	_, err1 := cc1.Result()
	_, err2 := cc2.Result()
	assert.Error(t, err1)
	assert.Error(t, err2)

	_, err = h.Submit(resp.NewCommand("GET", "c").Encode(nil))
	assert.Error(t, err)
}

func TestHandlerNeedMoreConsumesNothing(t *testing.T) {
	w := &bufWriter{}
	h := NewHandler(RESP2Decoder{}, w)
	_, _ = h.Submit(resp.NewCommand("GET", "a").Encode(nil))

	n, err := h.Dispatch([]byte("$5\r\nhel"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, h.Pending())
}

func TestSubmitFailsWhenWriteFails(t *testing.T) {
	w := &bufWriter{failNext: true}
	h := NewHandler(RESP2Decoder{}, w)

	cc, err := h.Submit(resp.NewCommand("GET", "a").Encode(nil))
	require.Error(t, err)
	require.NotNil(t, cc)
	_, resErr := cc.Result()
	assert.Error(t, resErr)
	assert.Equal(t, 0, h.Pending())
}
