package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

func TestBufferWriteReadRoundTrip(t *testing.T) {
	assert := assert.New(t)

	q := New("roundtrip", NewPooledFactory())
	b, code := q.CreateBuffer(nil, 16)
	assert.Equal(status.OK, code)

	data := []byte("hello world")
	assert.Equal(status.OK, b.Write(data))

	out := make([]byte, len(data))
	n, code := b.Read(out)
	assert.Equal(status.OK, code)
	assert.Equal(len(data), n)
	assert.Equal(data, out)
	assert.Equal(len(data), b.ReadOffset())
	assert.Equal(len(data), b.WriteOffset())
}

func TestBufferWriteZeroLengthIsNoop(t *testing.T) {
	assert := assert.New(t)

	q := New("zero", NewPooledFactory())
	b, _ := q.CreateBuffer(nil, 8)

	assert.Equal(status.OK, b.Write(nil))
	assert.Equal(0, b.WriteOffset())
}

func TestBufferWritePastCapacityClamps(t *testing.T) {
	assert := assert.New(t)

	q := New("clamp", NewPooledFactory())
	b, _ := q.CreateBuffer(nil, 4)

	code := b.Write([]byte("too much data"))
	assert.Equal(status.OK, code)
	assert.Equal(4, b.WriteOffset())
	assert.Equal([]byte("too "), b.Bytes())
}

func TestSetReadyThenPopReadyReturnsSameBuffer(t *testing.T) {
	assert := assert.New(t)

	q := New("single", NewPooledFactory())
	b, _ := q.CreateBuffer([]byte("x"), 1)

	q.SetReady(b)
	assert.True(q.HasReady())

	popped := q.PopReady()
	assert.Same(b, popped)
	assert.False(q.HasReady())
}

func TestPopOnEmptyListReturnsNil(t *testing.T) {
	assert := assert.New(t)

	q := New("empty", NewPooledFactory())
	assert.Nil(q.PopReady())
	assert.Nil(q.PopInProgress())
	assert.Nil(q.PopDone())
}

func TestRollbackPreservesOrder(t *testing.T) {
	assert := assert.New(t)

	q := New("rollback", NewPooledFactory())
	b1, _ := q.CreateBuffer([]byte("1"), 1)
	b2, _ := q.CreateBuffer([]byte("2"), 1)
	b3, _ := q.CreateBuffer([]byte("3"), 1)

	q.SetReady(b1)
	q.SetReady(b2)
	q.SetReady(b3)

	q.SetInProgress(q.PopReady())
	q.SetInProgress(q.PopReady())
	q.SetInProgress(q.PopReady())

	q.Rollback()

	assert.False(q.HasInProgress())
	assert.Same(b1, q.PopReady())
	assert.Same(b2, q.PopReady())
	assert.Same(b3, q.PopReady())
}

func TestAbortFiresCallbackButKeepsBuffer(t *testing.T) {
	assert := assert.New(t)

	q := New("abort", NewPooledFactory())
	b, _ := q.CreateBuffer([]byte("x"), 1)

	fired := 0
	var gotCode status.Status
	b.SetAbortCallback(func(ctx interface{}, code status.Status) {
		fired++
		gotCode = code
	}, nil)

	q.SetInProgress(b)
	q.Abort()

	assert.Equal(1, fired)
	assert.Equal(status.Aborted, gotCode)

	still := q.PopInProgress()
	assert.Same(b, still)
}

func TestReleaseFiresAbortOnceAndFreesMemory(t *testing.T) {
	assert := assert.New(t)

	q := New("release", NewPooledFactory())
	b, _ := q.CreateBuffer([]byte("x"), 1)

	fired := 0
	b.SetAbortCallback(func(ctx interface{}, code status.Status) {
		fired++
	}, nil)

	q.SetReady(b)
	q.Release(b)

	assert.Equal(1, fired)
	assert.False(q.HasReady())

	q.Abort()
	assert.Equal(1, fired, "callback must be nulled after first fire")
}
