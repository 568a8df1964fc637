package sock

import (
	"sync/atomic"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// This file carries the five non-connect operation flavors' begin/complete
// closures, generalized from GoWSASend/GoWSARecv/GoWSASendTo/GoWSARecvFrom
// (tx_extd.go) goroutine-plus-result pattern and GoAccept (conn_basic.go).
// Every begin here always returns false: the OS call is handed to the
// Descriptor, which always completes through a callback (AsyncOp.onCompletion
// for send/recv/sendto/recvfrom, acceptBegin's own bracket for accept),
// normalizing "sync success" into the same uniform completion path as
// "async pending".

func sendBegin(op *AsyncOp) bool {
	s := op.Sock
	io := &IOArgs{}
	s.dispatch(EventBeginSend, io, status.OK)
	if io.Buffer == nil {
		return false
	}
	op.Buffer = io.Buffer
	op.Flags = io.Flags
	op.OpCtx = io.OpCtx

	atomic.AddInt32(&op.pending, 1)
	s.descriptor.Send(op.Buffer, op.Flags, func(n int, code status.Status) {
		op.onCompletion(code, n)
	})
	return false
}

func sendComplete(op *AsyncOp, code status.Status, n int) {
	io := &IOArgs{Buffer: op.Buffer, N: n, Flags: op.Flags, OpCtx: op.OpCtx}
	op.reset()
	op.Sock.dispatch(EventEndSend, io, code)
	atomic.AddInt32(&op.pending, -1)
}

func sendToBegin(op *AsyncOp) bool {
	s := op.Sock
	io := &IOArgs{}
	s.dispatch(EventBeginSend, io, status.OK)
	if io.Buffer == nil {
		return false
	}
	op.Buffer = io.Buffer
	op.Flags = io.Flags
	op.OpCtx = io.OpCtx
	op.Addr = io.Addr
	op.HasAddr = io.HasAddr

	atomic.AddInt32(&op.pending, 1)
	s.descriptor.SendTo(op.Buffer, op.Addr, op.Flags, func(n int, code status.Status) {
		op.onCompletion(code, n)
	})
	return false
}

func sendToComplete(op *AsyncOp, code status.Status, n int) {
	io := &IOArgs{Buffer: op.Buffer, N: n, Flags: op.Flags, OpCtx: op.OpCtx, Addr: op.Addr, HasAddr: op.HasAddr}
	op.reset()
	op.Sock.dispatch(EventEndSend, io, code)
	atomic.AddInt32(&op.pending, -1)
}

func recvBegin(op *AsyncOp) bool {
	s := op.Sock
	io := &IOArgs{}
	s.dispatch(EventBeginRecv, io, status.OK)
	if io.Buffer == nil {
		return false
	}
	op.Buffer = io.Buffer
	op.OpCtx = io.OpCtx

	atomic.AddInt32(&op.pending, 1)
	s.descriptor.Recv(op.Buffer, io.Flags, func(n int, flags int, code status.Status) {
		op.Flags = flags
		op.onCompletion(code, n)
	})
	return false
}

func recvComplete(op *AsyncOp, code status.Status, n int) {
	data := op.Buffer
	if n >= 0 && n <= len(data) {
		data = data[:n]
	}
	io := &IOArgs{Buffer: data, N: n, Flags: op.Flags, OpCtx: op.OpCtx}
	op.reset()
	op.Sock.dispatch(EventEndRecv, io, code)
	atomic.AddInt32(&op.pending, -1)
}

func recvFromBegin(op *AsyncOp) bool {
	s := op.Sock
	io := &IOArgs{}
	s.dispatch(EventBeginRecv, io, status.OK)
	if io.Buffer == nil {
		return false
	}
	op.Buffer = io.Buffer
	op.OpCtx = io.OpCtx

	atomic.AddInt32(&op.pending, 1)
	s.descriptor.RecvFrom(op.Buffer, io.Flags, func(n int, from Address, flags int, code status.Status) {
		op.Flags = flags
		// recvfrom's source address translates on success only; on
		// failure it is left unset and end_recv sees a null address.
		if code == status.OK {
			op.Addr = from
			op.HasAddr = true
		}
		op.onCompletion(code, n)
	})
	return false
}

func recvFromComplete(op *AsyncOp, code status.Status, n int) {
	data := op.Buffer
	if n >= 0 && n <= len(data) {
		data = data[:n]
	}
	io := &IOArgs{Buffer: data, N: n, Flags: op.Flags, OpCtx: op.OpCtx, Addr: op.Addr, HasAddr: op.HasAddr}
	op.reset()
	op.Sock.dispatch(EventEndRecv, io, code)
	atomic.AddInt32(&op.pending, -1)
}

// acceptBegin/acceptComplete are kept out of the stored begin/complete-field
// convention that send/recv/sendto/recvfrom use: the accept flavor's
// payload is a newly-constructed Socket, not a (status, byte-count) pair,
// so it drives its own pending bracket instead of going through
// AsyncOp.onCompletion.
func acceptBegin(op *AsyncOp) bool {
	s := op.Sock
	io := &IOArgs{}
	s.dispatch(EventBeginAccept, io, status.OK)
	if io.Accepted == nil {
		return false
	}
	template := *io.Accepted
	opCtx := io.OpCtx

	atomic.AddInt32(&op.pending, 1)
	s.descriptor.Accept(func(accepted Descriptor, peer Address, code status.Status) {
		atomic.AddInt32(&op.pending, 1)
		acceptComplete(op, template, opCtx, accepted, peer, code)
		for op.begin(op) {
		}
		atomic.AddInt32(&op.pending, -1)
	})
	return false
}

func acceptComplete(op *AsyncOp, template ClientInterface, opCtx interface{}, accepted Descriptor, peer Address, code status.Status) {
	s := op.Sock
	io := &IOArgs{OpCtx: opCtx}
	if code != status.OK || accepted == nil {
		if accepted != nil {
			accepted.Close()
		}
		s.dispatch(EventEndAccept, io, code)
		atomic.AddInt32(&op.pending, -1)
		return
	}

	child := newAcceptedSocket(template, accepted, peer, s.dialer, s.resolver)
	io.AcceptedSocket = child
	io.Addr = peer
	io.HasAddr = true
	s.dispatch(EventEndAccept, io, status.OK)
	atomic.AddInt32(&op.pending, -1)
}
