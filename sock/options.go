package sock

import (
	"encoding/binary"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// SetOpt translates a portable option into the descriptor's representation,
// special-casing the handful that change engine behavior rather than
// merely composing a struct for the OS.
func (s *Socket) SetOpt(opt Option, value []byte) status.Status {
	switch opt {
	case OptNonBlocking:
		// Every descriptor in this engine is non-blocking by construction,
		// so this option is accepted and ignored.
		return status.OK
	case OptAcceptConn:
		return status.NotSupported
	case OptShutdown:
		if len(value) < 1 {
			return status.Fault
		}
		return s.shutdown(ShutdownHow(value[0]))
	case OptLinger:
		if len(value) < 4 {
			return status.Fault
		}
		raw := binary.LittleEndian.Uint32(value[0:4])
		return s.setLinger(Linger{OnOff: raw != 0, Seconds: int(uint16(raw))})
	default:
		if s.descriptor == nil {
			return status.Closed
		}
		return s.descriptor.SetOpt(opt, value)
	}
}

// GetOpt mirrors SetOpt's special-casing for the options that don't map
// straight through to the descriptor.
func (s *Socket) GetOpt(opt Option, out []byte) (int, status.Status) {
	switch opt {
	case OptAvailable:
		if s.descriptor == nil {
			return 0, status.Closed
		}
		return s.descriptor.GetOpt(opt, out)
	case OptAcceptConn:
		return 0, status.NotSupported
	default:
		if s.descriptor == nil {
			return 0, status.Closed
		}
		return s.descriptor.GetOpt(opt, out)
	}
}

// setLinger composes the OS linger struct bit-exactly:
// l_onoff = (value != 0), l_linger = value.
func (s *Socket) setLinger(l Linger) status.Status {
	if s.descriptor == nil {
		return status.Closed
	}
	buf := make([]byte, 8)
	onoff := uint32(0)
	if l.OnOff {
		onoff = 1
	}
	binary.LittleEndian.PutUint32(buf[0:4], onoff)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(l.Seconds))
	return s.descriptor.SetOpt(OptLinger, buf)
}

// shutdown silences one or both directions by swapping the corresponding
// AsyncOp's begin to a permanent no-op, then issues the OS shutdown syscall:
// shutdown(read) silences the receive side by swapping recv_op.begin to
// no-op, and symmetrically for write/send.
func (s *Socket) shutdown(how ShutdownHow) status.Status {
	if s.descriptor == nil {
		return status.Closed
	}
	switch how {
	case ShutdownRead:
		s.recvOp.begin = noopBegin
	case ShutdownWrite:
		s.sendOp.begin = noopBegin
	case ShutdownBoth:
		s.recvOp.begin = noopBegin
		s.sendOp.begin = noopBegin
	}
	buf := []byte{byte(how)}
	return s.descriptor.SetOpt(OptShutdown, buf)
}

// JoinMulticastGroup and LeaveMulticastGroup dispatch straight to the
// descriptor; opt.Family carries the v4/v6 selection through explicitly
// rather than leaving it to be inferred from the address value.
func (s *Socket) JoinMulticastGroup(opt MulticastOption) status.Status {
	if s.descriptor == nil {
		return status.Closed
	}
	return s.descriptor.JoinMulticastGroup(opt)
}

func (s *Socket) LeaveMulticastGroup(opt MulticastOption) status.Status {
	if s.descriptor == nil {
		return status.Closed
	}
	return s.descriptor.LeaveMulticastGroup(opt)
}
