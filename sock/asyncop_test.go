package sock

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

func TestAsyncOpPendingZeroAtRest(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	assert.Equal(int32(0), op.Pending())
}

func TestAsyncOpDriveInvokesBeginUntilFalse(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	calls := 0
	op.begin = func(op *AsyncOp) bool {
		calls++
		return calls < 3
	}
	op.Drive()
	assert.Equal(3, calls)
	assert.Equal(int32(0), op.Pending())
}

func TestAsyncOpDriveIsNoopWhilePending(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	called := false
	op.begin = func(op *AsyncOp) bool {
		called = true
		return false
	}
	atomic.StoreInt32(&op.pending, 1)
	op.Drive()
	assert.False(called)
}

func TestAsyncOpOnCompletionBracketsPendingBackToZero(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	completeCalls := 0
	op.begin = func(op *AsyncOp) bool { return false }
	op.complete = func(op *AsyncOp, code status.Status, n int) {
		completeCalls++
		atomic.AddInt32(&op.pending, -1)
	}

	// The flavor begin that submitted this operation left pending at 1.
	atomic.StoreInt32(&op.pending, 1)
	op.onCompletion(status.OK, 5)

	assert.Equal(1, completeCalls)
	assert.Equal(int32(0), op.Pending())
}

func TestAsyncOpOnCompletionRedrivesWhileBeginKeepsReturningTrue(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	beginCalls := 0
	op.begin = func(op *AsyncOp) bool {
		beginCalls++
		return beginCalls < 4
	}
	op.complete = func(op *AsyncOp, code status.Status, n int) {
		atomic.AddInt32(&op.pending, -1)
	}

	// The flavor begin that submitted this operation left pending at 1.
	atomic.StoreInt32(&op.pending, 1)
	op.onCompletion(status.OK, 0)

	assert.Equal(4, beginCalls)
	assert.Equal(int32(0), op.Pending())
}

func TestCloseShimBeginPreservesPendingAndRunsCloseCheck(t *testing.T) {
	assert := assert.New(t)
	s := New(ClientInterface{}, &fakeDialer{}, &fakeResolver{})

	op := &s.openOp
	atomic.StoreInt32(&op.pending, 1)
	atomic.StoreInt32(&s.closeRequested, 1)

	again := closeShimBegin(op)

	assert.False(again)
	assert.Equal(int32(1), op.Pending())
	assert.Equal(int32(1), atomic.LoadInt32(&s.closedFired))
}

func TestNoopBeginAlwaysReturnsFalseAndTouchesNothing(t *testing.T) {
	assert := assert.New(t)
	op := &AsyncOp{}
	again := noopBegin(op)
	assert.False(again)
	assert.Equal(int32(0), op.Pending())
}
