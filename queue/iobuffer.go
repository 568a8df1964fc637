package queue

import (
	"container/list"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

type bufferState int

const (
	stateDetached bufferState = iota
	stateReady
	stateInProgress
	stateDone
)

// AbortFunc is the one-shot callback an IoBuffer carries while queued. It is
// nulled out the moment it fires, by Abort or by Release, whichever comes
// first — firing it twice is not possible.
type AbortFunc func(ctx interface{}, code status.Status)

// IoBuffer is a single payload-carrying node of an IoQueue: a header plus a
// contiguous payload region, tracked by the owning queue's state lists.
// Grounded in original_source's io_queue_buffer_t (io_queue.c), translated
// from an embedded-header-plus-trailing-bytes C allocation into a Go struct
// holding a []byte slice obtained from the queue's Factory.
type IoBuffer struct {
	queue  *IoQueue
	state  bufferState
	list   *list.List
	elem   *list.Element
	code   status.Status
	cb     AbortFunc
	ctx    interface{}
	buf    []byte
	rdOff  int
	wrOff  int
}

// Len reports the buffer's total capacity (its payload length).
func (b *IoBuffer) Len() int { return len(b.buf) }

// ReadOffset and WriteOffset expose the current cursor positions so callers
// and tests can assert 0 <= read <= write <= length.
func (b *IoBuffer) ReadOffset() int  { return b.rdOff }
func (b *IoBuffer) WriteOffset() int { return b.wrOff }

// Code returns the result code last stashed on this buffer (set_done callers
// use this to record the outcome of the operation that produced it).
func (b *IoBuffer) Code() status.Status { return b.code }

// SetCode stashes a result code on the buffer.
func (b *IoBuffer) SetCode(code status.Status) { b.code = code }

// SetAbortCallback attaches (or replaces) the callback fired by Abort or
// Release. Passing a nil cb detaches it.
func (b *IoBuffer) SetAbortCallback(cb AbortFunc, ctx interface{}) {
	b.cb = cb
	b.ctx = ctx
}

// Write copies data into the payload starting at the write cursor, clamping
// to whatever room remains — never an error, per spec: "Writes past the end
// are clamped (not an error)".
func (b *IoBuffer) Write(data []byte) status.Status {
	if len(data) == 0 {
		return status.OK
	}
	avail := len(b.buf) - b.wrOff
	if avail <= 0 {
		return status.OK
	}
	n := len(data)
	if n > avail {
		n = avail
	}
	copy(b.buf[b.wrOff:], data[:n])
	b.wrOff += n
	return status.OK
}

// Read copies up to len(dst) bytes starting at the read cursor into dst,
// bounded by the buffer's total length (not by the write cursor — matching
// io_queue_buffer_read's min(length-read_offset, len) in the original; a
// caller that only reads up to what it wrote never observes the
// difference). Returns the number of bytes copied.
func (b *IoBuffer) Read(dst []byte) (int, status.Status) {
	if len(dst) == 0 {
		return 0, status.OK
	}
	avail := len(b.buf) - b.rdOff
	if avail <= 0 {
		return 0, status.OK
	}
	n := len(dst)
	if n > avail {
		n = avail
	}
	copy(dst, b.buf[b.rdOff:b.rdOff+n])
	b.rdOff += n
	return n, status.OK
}

// Bytes exposes the raw payload region, mainly for tests and for callers
// that want to hand the whole buffer to a socket send without copying.
func (b *IoBuffer) Bytes() []byte { return b.buf }

func (b *IoBuffer) fireAbort(code status.Status) {
	cb := b.cb
	ctx := b.ctx
	b.cb = nil
	b.ctx = nil
	if cb != nil {
		cb(ctx, code)
	}
}

func (b *IoBuffer) detach() {
	if b.list != nil {
		b.list.Remove(b.elem)
		b.list = nil
		b.elem = nil
		b.state = stateDetached
	}
}
