package sock

import (
	"sync"
	"sync/atomic"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/telemetry"
)

// closeSentinel substitutes for a nil close context so close_check's "is a
// close in progress" test still triggers for a context-free close — the
// same substitution original_source/pal_sk_win.c makes with a (void*)-1
// sentinel when op_context is NULL.
var closeSentinel = new(struct{})

// Socket owns three AsyncOps (open, send, recv), tracks its descriptor and
// cached local/peer addresses, and orchestrates open/close lifecycle.
// Generalized from SocketState (registry.go), a Winsock-handle record,
// into the engine's own type, and from pal_sk_win.c's pal_socket_t for the
// close/pending bookkeeping.
type Socket struct {
	itf      ClientInterface
	dialer   Dialer
	resolver Resolver

	descriptor Descriptor

	addrMu   sync.RWMutex
	local    Address
	hasLocal bool
	peer     Address
	hasPeer  bool

	openOp AsyncOp
	sendOp AsyncOp
	recvOp AsyncOp

	closeRequested int32 // atomic bool
	closedFired    int32 // atomic bool, CAS-guarded so `closed` fires once
	closeCtx       atomic.Value

	// resolvedAddrs/cursor are owned only during an open() cascade: exactly
	// one of {address-list present, descriptor valid} holds at any
	// quiescent point.
	resolvedAddrs []Address
	cursor        int
}

// New allocates a Socket, remembers its ClientInterface, and wires each
// AsyncOp's begin/complete to the flavor itf.Props selects. The descriptor
// starts invalid; Open begins the connect cascade that makes it valid.
func New(itf ClientInterface, dialer Dialer, resolver Resolver) *Socket {
	s := &Socket{itf: itf, dialer: dialer, resolver: resolver}
	s.openOp.Sock = s
	s.sendOp.Sock = s
	s.recvOp.Sock = s

	s.openOp.begin = s.cascadeBegin
	s.wireDataFlavor()
	return s
}

// wireDataFlavor binds send_op/recv_op per the socket's type/passive flags:
// dgram/raw -> sendto/recvfrom, stream passive -> no-op/accept,
// stream active -> send/recv. The flavor is fixed at construction and never
// changes except for the close-shim and shutdown-silence swaps.
func (s *Socket) wireDataFlavor() {
	props := s.itf.Props
	switch {
	case props.Type == SockDgram || props.Type == SockRaw:
		s.sendOp.begin = sendToBegin
		s.sendOp.complete = sendToComplete
		s.recvOp.begin = recvFromBegin
		s.recvOp.complete = recvFromComplete
	case props.Type == SockStream && props.Passive():
		s.sendOp.begin = noopBegin
		s.recvOp.begin = acceptBegin
	default:
		s.sendOp.begin = sendBegin
		s.sendOp.complete = sendComplete
		s.recvOp.begin = recvBegin
		s.recvOp.complete = recvComplete
	}
}

func (s *Socket) dispatch(event Event, io *IOArgs, code status.Status) {
	telemetry.Trace(event.String(), code)
	if s.itf.Cb != nil {
		s.itf.Cb(event, io, code)
	}
}

// Open begins the connect cascade. It returns immediately; the eventual
// outcome is delivered via exactly one opened event.
func (s *Socket) Open() {
	s.openOp.Drive()
}

// CanSend and CanRecv are the signals by which the upper layer says "I now
// have buffers to hand over." When ready, they drive the corresponding
// AsyncOp; once the socket is closing, they fail fast with status.Closed.
func (s *Socket) CanSend(ready bool) status.Status {
	if atomic.LoadInt32(&s.closeRequested) != 0 {
		return status.Closed
	}
	if ready {
		s.sendOp.Drive()
	}
	return status.OK
}

func (s *Socket) CanRecv(ready bool) status.Status {
	if atomic.LoadInt32(&s.closeRequested) != 0 {
		return status.Closed
	}
	if ready {
		s.recvOp.Drive()
	}
	return status.OK
}

// Close begins teardown: install the close-shim on all three AsyncOps,
// cancel any outstanding descriptor op, then try close_check. Teardown only
// completes — dispatching exactly one closed event — once every AsyncOp has
// settled.
func (s *Socket) Close(ctx interface{}) {
	if ctx == nil {
		ctx = closeSentinel
	}
	s.closeCtx.Store(ctx)
	if !atomic.CompareAndSwapInt32(&s.closeRequested, 0, 1) {
		return
	}

	s.openOp.installCloseShim()
	s.sendOp.installCloseShim()
	s.recvOp.installCloseShim()

	if s.descriptor != nil {
		s.descriptor.Cancel()
	}
	s.closeCheck()
}

// closeCheck fires exactly once, iff a close is in progress and every
// AsyncOp's pending has drained to zero.
func (s *Socket) closeCheck() {
	if atomic.LoadInt32(&s.closeRequested) == 0 {
		return
	}
	if s.openOp.Pending()+s.sendOp.Pending()+s.recvOp.Pending() != 0 {
		return
	}
	if !atomic.CompareAndSwapInt32(&s.closedFired, 0, 1) {
		return
	}
	if s.descriptor != nil {
		s.descriptor.Close()
		s.descriptor = nil
	}
	ctx := s.closeCtx.Load()
	s.dispatch(EventClosed, &IOArgs{OpCtx: ctx}, status.OK)
}

// GetLocal and GetPeer read the cached addresses populated by the connect
// cascade; they're readable any time after opened fires.
func (s *Socket) GetLocal() (Address, bool) {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.local, s.hasLocal
}

func (s *Socket) GetPeer() (Address, bool) {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.peer, s.hasPeer
}

func (s *Socket) setLocal(a Address) {
	s.addrMu.Lock()
	s.local, s.hasLocal = a, true
	s.addrMu.Unlock()
}

func (s *Socket) setPeer(a Address) {
	s.addrMu.Lock()
	s.peer, s.hasPeer = a, true
	s.addrMu.Unlock()
}

// GetProperties returns the properties the socket was constructed with.
func (s *Socket) GetProperties() SocketProperties {
	return s.itf.Props
}

// newAcceptedSocket builds a Socket around an already-connected descriptor
// handed back from a listener's Accept, per the accept flavor's complete
// semantics — it skips the connect cascade entirely since the descriptor is
// already open.
func newAcceptedSocket(template ClientInterface, descriptor Descriptor, peer Address, dialer Dialer, resolver Resolver) *Socket {
	child := New(template, dialer, resolver)
	child.descriptor = descriptor
	child.setPeer(peer)
	if local, code := descriptor.LocalAddr(); code == status.OK {
		child.setLocal(local)
	}
	return child
}
