// Package queue implements IoQueue: the tri-state (ready / in-progress /
// done) buffer queue that serializes payloads flowing through a Socket.
// Grounded directly in original_source/src/io_queue.c, translated from its
// lock-plus-three-DLIST_ENTRY shape into a single mutex guarding three
// container/list.List state lists.
package queue

import (
	"container/list"
	"sync"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// IoQueue is a triple of doubly-linked lists guarded by a single lock, plus
// an owning buffer factory.
type IoQueue struct {
	name    string
	mu      sync.Mutex
	factory Factory
	ready   *list.List
	inProg  *list.List
	done    *list.List
}

// New allocates a queue backed by factory. name is carried only for
// diagnostics (it mirrors io_queue_create's name parameter, which upstream
// feeds into the dynamic pool's debug label).
func New(name string, factory Factory) *IoQueue {
	if factory == nil {
		factory = NewPooledFactory()
	}
	return &IoQueue{
		name:    name,
		factory: factory,
		ready:   list.New(),
		inProg:  list.New(),
		done:    list.New(),
	}
}

// CreateBuffer allocates a buffer of length bytes from the queue's factory,
// optionally seeding it with payload, and returns it detached from every
// list.
func (q *IoQueue) CreateBuffer(payload []byte, length int) (*IoBuffer, status.Status) {
	if length < 0 {
		return nil, status.Fault
	}
	buf := q.factory.New(length)
	if length > 0 && buf == nil {
		return nil, status.OutOfMemory
	}
	b := &IoBuffer{queue: q, buf: buf, code: status.OK}
	if len(payload) > 0 {
		b.Write(payload)
	}
	return b, status.OK
}

func (q *IoQueue) push(b *IoBuffer, target *list.List, st bufferState) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b.detach()
	b.elem = target.PushBack(b)
	b.list = target
	b.state = st
}

// SetReady moves b to the tail of the ready list.
func (q *IoQueue) SetReady(b *IoBuffer) { q.push(b, q.ready, stateReady) }

// SetInProgress moves b to the tail of the in-progress list.
func (q *IoQueue) SetInProgress(b *IoBuffer) { q.push(b, q.inProg, stateInProgress) }

// SetDone moves b to the tail of the done list.
func (q *IoQueue) SetDone(b *IoBuffer) { q.push(b, q.done, stateDone) }

func (q *IoQueue) peek(l *list.List) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return l.Len() > 0
}

// HasReady, HasInProgress, HasDone report whether the named list is
// non-empty.
func (q *IoQueue) HasReady() bool      { return q.peek(q.ready) }
func (q *IoQueue) HasInProgress() bool { return q.peek(q.inProg) }
func (q *IoQueue) HasDone() bool       { return q.peek(q.done) }

func (q *IoQueue) pop(l *list.List) *IoBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	front := l.Front()
	if front == nil {
		return nil
	}
	l.Remove(front)
	b := front.Value.(*IoBuffer)
	b.list = nil
	b.elem = nil
	b.state = stateDetached
	return b
}

// PopReady, PopInProgress, PopDone remove and return the head of the named
// list, or nil if it is empty.
func (q *IoQueue) PopReady() *IoBuffer      { return q.pop(q.ready) }
func (q *IoQueue) PopInProgress() *IoBuffer { return q.pop(q.inProg) }
func (q *IoQueue) PopDone() *IoBuffer       { return q.pop(q.done) }

// Rollback moves every in-progress buffer to the head of ready, preserving
// their relative order; in-progress is empty afterward. Used when a batch
// sent to an external worker needs to be retried as a unit.
func (q *IoQueue) Rollback() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for e := q.inProg.Back(); e != nil; {
		prev := e.Prev()
		b := e.Value.(*IoBuffer)
		q.inProg.Remove(e)
		elem := q.ready.PushFront(b)
		b.elem = elem
		b.list = q.ready
		b.state = stateReady
		e = prev
	}
}

// Abort visits every node in all three lists and fires its attached abort
// callback with status.Aborted; the nodes stay exactly where they are.
func (q *IoQueue) Abort() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range [3]*list.List{q.done, q.inProg, q.ready} {
		for e := l.Front(); e != nil; e = e.Next() {
			e.Value.(*IoBuffer).fireAbort(status.Aborted)
		}
	}
}

// Release detaches b from whatever list it's in, fires its abort callback
// if one is still attached, and returns its payload memory to the factory.
func (q *IoQueue) Release(b *IoBuffer) {
	q.mu.Lock()
	b.detach()
	q.mu.Unlock()

	b.fireAbort(status.Aborted)
	if b.buf != nil {
		q.factory.Release(b.buf)
	}
	b.buf = nil
	b.queue = nil
}

// ReleaseAll tears down every buffer currently held by the queue, across all
// three lists.
func (q *IoQueue) ReleaseAll() {
	for {
		b := q.PopDone()
		if b == nil {
			break
		}
		q.releaseDetached(b)
	}
	for {
		b := q.PopInProgress()
		if b == nil {
			break
		}
		q.releaseDetached(b)
	}
	for {
		b := q.PopReady()
		if b == nil {
			break
		}
		q.releaseDetached(b)
	}
}

func (q *IoQueue) releaseDetached(b *IoBuffer) {
	b.fireAbort(status.Aborted)
	if b.buf != nil {
		q.factory.Release(b.buf)
	}
	b.buf = nil
	b.queue = nil
}
