package sock

import (
	"net"
	"sync/atomic"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// maxBacklog is the backlog passed to Listen on the bind-and-maybe-listen
// path.
const maxBacklog = 4096

// cascadeBegin is open_op's begin. It is only ever invoked once per open()
// call, by Drive's zero-pending precondition; everything after the initial
// resolve step happens through cascadeStep's own recursion and the
// descriptor's completion callbacks, not through another Drive call.
// Generalized from a single-address GoConnect/GoListen pair into the full
// resolve-then-walk loop.
func (s *Socket) cascadeBegin(op *AsyncOp) bool {
	props := s.itf.Props
	if props.Address.Kind == AddressProxyName {
		addrs, code := s.resolver.Resolve(props.Address.Host, props.Address.Port, props.Family, props.Passive())
		if code != status.OK || len(addrs) == 0 {
			s.completeOpen(op, status.Connecting)
			return false
		}
		s.resolvedAddrs = addrs
	} else {
		s.resolvedAddrs = []Address{props.Address}
	}
	s.cursor = 0
	s.cascadeStep(op)
	return false
}

// cascadeStep walks the resolved address list starting at the current
// cursor. For each address it creates a fresh descriptor and either starts
// an asynchronous connect (stream, active) or runs bind-and-maybe-listen
// synchronously (everything else). A synchronous descriptor-creation or
// bind/listen failure advances the cursor and loops inline; a connect
// attempt always suspends here and resumes the walk from its own
// completion callback, since Descriptor.Connect never settles synchronously
// by contract.
func (s *Socket) cascadeStep(op *AsyncOp) {
	for {
		if s.cursor >= len(s.resolvedAddrs) {
			s.completeOpen(op, status.Connecting)
			return
		}
		addr := s.resolvedAddrs[s.cursor]

		props := s.itf.Props
		props.Address = addr
		props.Family = addr.Kind

		descriptor, code := s.dialer.NewDescriptor(props)
		if code != status.OK {
			s.cursor++
			continue
		}
		s.descriptor = descriptor

		if props.Type == SockStream && !props.Passive() {
			s.connectBegin(op, addr)
			return
		}

		bindCode := descriptor.Bind(addr)
		if bindCode == status.OK && props.Type == SockStream {
			bindCode = descriptor.Listen(maxBacklog)
		}
		if bindCode == status.OK {
			s.setLocal(addr)
			s.completeOpen(op, status.OK)
			return
		}
		descriptor.Close()
		s.descriptor = nil
		s.cursor++
	}
}

// connectBegin runs the asynchronous connect path for one address. The
// unspecified-address bind prerequisite is the one part of this that can
// fail synchronously; that failure is handled inline, same as any other
// synchronous cascade failure. The overlapped connect itself only ever
// settles through its completion callback — this engine does not special-
// case a synchronous-success return from Connect; every attempt settles
// through exactly one callback invocation per Connect call, always treated
// as the real completion.
func (s *Socket) connectBegin(op *AsyncOp, addr Address) {
	atomic.AddInt32(&op.pending, 1)
	if code := s.descriptor.Bind(unspecifiedAddressFor(addr)); code != status.OK {
		s.connectSettle(op, code)
		atomic.AddInt32(&op.pending, -1)
		if s.abortCascadeIfClosing() {
			return
		}
		s.cursor++
		s.cascadeStep(op)
		return
	}
	s.descriptor.Connect(addr, func(code status.Status) {
		s.connectSettle(op, code)
		atomic.AddInt32(&op.pending, -1)
		if s.abortCascadeIfClosing() {
			return
		}
		if code == status.OK {
			s.completeOpen(op, status.OK)
			return
		}
		s.cursor++
		s.cascadeStep(op)
	})
}

// abortCascadeIfClosing is the connect cascade's equivalent of the
// close-shim's begin swap: since the cascade settles through its own
// recursion rather than through another Drive call, nothing else would ever
// notice a close requested mid-walk. Called at every point the cascade would
// otherwise continue, it closes whatever descriptor connectSettle left
// behind, stops the walk, and runs close_check in place of dispatching
// opened.
func (s *Socket) abortCascadeIfClosing() bool {
	if atomic.LoadInt32(&s.closeRequested) == 0 {
		return false
	}
	if s.descriptor != nil {
		s.descriptor.Close()
		s.descriptor = nil
	}
	s.resolvedAddrs = nil
	s.cursor = 0
	s.closeCheck()
	return true
}

// connectSettle is connect_complete: apply the OS "update connect context"
// hint by querying local/peer names on success, or close the descriptor on
// failure so the next cascadeStep sees a clean slate.
func (s *Socket) connectSettle(op *AsyncOp, code status.Status) {
	if code != status.OK {
		if s.descriptor != nil {
			s.descriptor.Close()
			s.descriptor = nil
		}
		return
	}
	if local, lc := s.descriptor.LocalAddr(); lc == status.OK {
		s.setLocal(local)
	}
	if peer, pc := s.descriptor.PeerAddr(); pc == status.OK {
		s.setPeer(peer)
	}
}

// completeOpen frees the resolved address list and dispatches the single
// opened event this open() call owes.
func (s *Socket) completeOpen(op *AsyncOp, code status.Status) {
	s.resolvedAddrs = nil
	s.cursor = 0
	s.dispatch(EventOpened, &IOArgs{}, code)
}

func unspecifiedAddressFor(addr Address) Address {
	if addr.Kind == AddressInet6 {
		return Address{Kind: AddressInet6, IP: net.IPv6unspecified}
	}
	return Address{Kind: AddressInet4, IP: net.IPv4zero}
}
