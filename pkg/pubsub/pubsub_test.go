package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/redwire/pkg/pipeline"
	"github.com/IceFireDB/redwire/pkg/resp"
	"github.com/IceFireDB/redwire/pkg/resp3"
)

type bufWriter struct {
	written [][]byte
}

func (w *bufWriter) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	w.written = append(w.written, cp)
	return len(b), nil
}

func TestMultiplexerRoutesMessageAndPassesOthersThrough(t *testing.T) {
	w := &bufWriter{}
	h := pipeline.NewHandler(pipeline.RESP2Decoder{}, w)
	mux := New(pipeline.RESP2Decoder{}, h, w)

	var got Message
	require.NoError(t, mux.Subscribe("news", func(m Message) { got = m }))
	assert.False(t, mux.Idle())

	cc, err := h.Submit(resp.NewCommand("GET", "x").Encode(nil))
	require.NoError(t, err)

	confirm := resp.Encode(nil, resp.ArrayValue([]resp.Value{
		resp.BulkStringValue([]byte("subscribe")),
		resp.BulkStringValue([]byte("news")),
		resp.IntegerValue(1),
	}))
	n, err := mux.Dispatch(confirm)
	require.NoError(t, err)
	assert.Equal(t, len(confirm), n)
	assert.Equal(t, KindSubscribe, got.Kind)
	assert.Equal(t, "news", got.Channel)
	assert.Equal(t, 1, h.Pending())

	message := resp.Encode(nil, resp.ArrayValue([]resp.Value{
		resp.BulkStringValue([]byte("message")),
		resp.BulkStringValue([]byte("news")),
		resp.BulkStringValue([]byte("hello")),
	}))
	n, err = mux.Dispatch(message)
	require.NoError(t, err)
	assert.Equal(t, len(message), n)
	assert.Equal(t, KindMessage, got.Kind)
	assert.Equal(t, "hello", string(got.Payload))
	assert.Equal(t, 1, h.Pending(), "regular command reply should still be queued")

	cmdReply := resp.Encode(nil, resp.BulkStringValue([]byte("value")))
	_, err = mux.Dispatch(cmdReply)
	require.NoError(t, err)
	<-cc.Done()
	reply, err := cc.Result()
	require.NoError(t, err)
	assert.Equal(t, "value", string(reply.Resp2.Native.(resp.Value).Bytes))
}

func TestMultiplexerUnsubscribeRemovesReceiver(t *testing.T) {
	w := &bufWriter{}
	h := pipeline.NewHandler(pipeline.RESP2Decoder{}, w)
	mux := New(pipeline.RESP2Decoder{}, h, w)

	require.NoError(t, mux.Subscribe("news", func(Message) {}))
	require.NoError(t, mux.Unsubscribe("news"))
	assert.True(t, mux.Idle())
}

func TestMultiplexerOnPushFallbackForNonPubSubShape(t *testing.T) {
	w := &bufWriter{}
	h := pipeline.NewHandler(pipeline.RESP2Decoder{}, w)
	mux := New(pipeline.RESP3Decoder{}, h, w)

	var pushed resp3.Value
	mux.OnPush(func(v resp3.Value) { pushed = v })

	buf := []byte(">2\r\n+invalidate\r\n*1\r\n$3\r\nkey\r\n")
	n, err := mux.Dispatch(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, resp3.KindPush, pushed.Kind)
}
