package sock

import (
	"sync/atomic"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// beginFunc starts one unit of work. It returns true if the caller should
// loop and try another begin immediately, draining without tail recursion.
// In this engine every begin defers its OS call to a
// descriptor method that always completes through a callback (onCompletion,
// or accept's own equivalent bracket), so begin itself always returns false;
// the loop-again behavior lives entirely in that callback's re-drive after a
// flavor's complete runs.
type beginFunc func(op *AsyncOp) bool

// completeFunc is the flavor-specific terminator: dispatches the matching
// end_* event and clears op-scoped state. It must decrement pending exactly
// once before returning.
type completeFunc func(op *AsyncOp, code status.Status, n int)

// AsyncOp represents one outstanding asynchronous I/O operation bound to a
// Socket. Polymorphism is by operation flavor: begin/complete are a tagged
// pair of closures set once at construction, generalized slightly to allow
// two legitimate in-place swaps: the close-shim on teardown, and
// shutdown-silence on one direction.
type AsyncOp struct {
	Sock *Socket

	pending int32 // atomic; >0 while the OS owns the op or onCompletion's re-drive loop runs; Drive's loop starts at 0 and each begin raises it before submitting work

	begin    beginFunc
	complete completeFunc

	// Operation-scoped state, valid only between begin and complete.
	Buffer  []byte
	Addr    Address
	HasAddr bool
	Flags   int
	OpCtx   interface{}
}

// Pending returns the current pending count. At every quiescent point this
// must be zero.
func (op *AsyncOp) Pending() int32 {
	return atomic.LoadInt32(&op.pending)
}

// Drive is the only place begin is invoked outside a completion callback: if
// pending is zero, repeatedly invoke begin until it returns false.
func (op *AsyncOp) Drive() {
	if atomic.LoadInt32(&op.pending) != 0 {
		return
	}
	for op.begin(op) {
	}
}

// onCompletion is the single entry point from the OS completion notification
// subsystem (stack.Notifier): increment pending, run the flavor complete,
// re-drive while begin keeps returning true, then decrement pending on
// exit. This brackets the inner begin-increment/complete-decrement pair so
// pending never transiently reads zero while a completion is still being
// processed on this goroutine.
func (op *AsyncOp) onCompletion(code status.Status, n int) {
	atomic.AddInt32(&op.pending, 1)
	op.complete(op, code, n)
	for op.begin(op) {
	}
	atomic.AddInt32(&op.pending, -1)
}

func (op *AsyncOp) reset() {
	op.Buffer = nil
	op.Addr = Address{}
	op.HasAddr = false
	op.Flags = 0
	op.OpCtx = nil
}

// closeShimBegin replaces begin during teardown. It decrements pending
// (so a concurrently-settling sibling op's close_check sees the true
// quiesced count), runs close_check, then restores the decrement before
// returning false — the outer onCompletion that invoked this shim still
// owes its own exit decrement, and that decrement must be paired with a
// real increment somewhere or the counter goes negative. Grounded in
// pal_sk_win.c's pal_socket_async_close_begin, which does the same
// dec/assert-zero/inc dance for the same reason.
func closeShimBegin(op *AsyncOp) bool {
	atomic.AddInt32(&op.pending, -1)
	op.Sock.closeCheck()
	atomic.AddInt32(&op.pending, 1)
	return false
}

// noopBegin is installed on send_op for a listener (a passive stream socket
// never sends on its own) and on whichever direction shutdown() has
// silenced.
func noopBegin(op *AsyncOp) bool {
	return false
}

// installCloseShim swaps an op's begin to the close-shim exactly once. It is
// one of the two legitimate in-place begin swaps this engine allows.
func (op *AsyncOp) installCloseShim() {
	op.begin = closeShimBegin
}
