// Package sock implements the per-socket asynchronous I/O engine: AsyncOp,
// Socket, ConnectCascade and the portable data model they share, generalized
// from a cgo/Winsock-ABI bridge (registry.go, conn_basic.go, tx_extd.go,
// status_error.go) into a plain Go engine, with lifecycle and error-path
// semantics kept exact against a pal_sk_win.c reference implementation.
package sock

import (
	"net"
	"strconv"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// AddressKind tags an Address's variant.
type AddressKind int

const (
	AddressInet4 AddressKind = iota
	AddressInet6
	AddressProxyName
)

// Address is the tagged variant of {inet4, inet6, proxy-by-name}. The proxy
// variant carries a host string and a port instead of a concrete IP.
type Address struct {
	Kind AddressKind
	IP   net.IP
	Host string
	Port uint16
}

func (a Address) String() string {
	host := a.Host
	if a.Kind != AddressProxyName {
		host = a.IP.String()
	}
	return net.JoinHostPort(host, strconv.Itoa(int(a.Port)))
}

// SockType is one of the socket-type families the data model names.
type SockType int

const (
	SockStream SockType = iota
	SockDgram
	SockRaw
	SockSeqPacket
	SockRDM
)

// Flags is a bitmask over socket-level flags.
type Flags uint32

const (
	// FlagPassive marks a socket as a listener (bind+listen rather than
	// connect) for the connect-cascade and flavor-selection logic.
	FlagPassive Flags = 1 << 0
)

// SocketProperties bundles family, socket-type, protocol-type, address
// spec, and flag set.
type SocketProperties struct {
	Family   AddressKind
	Type     SockType
	Protocol int
	Address  Address
	Flags    Flags
}

func (p SocketProperties) Passive() bool { return p.Flags&FlagPassive != 0 }

// Event is one of the eight events multiplexed over ClientInterface.Callback.
type Event int

const (
	EventOpened Event = iota
	EventClosed
	EventBeginAccept
	EventEndAccept
	EventBeginSend
	EventEndSend
	EventBeginRecv
	EventEndRecv
)

func (e Event) String() string {
	switch e {
	case EventOpened:
		return "opened"
	case EventClosed:
		return "closed"
	case EventBeginAccept:
		return "begin_accept"
	case EventEndAccept:
		return "end_accept"
	case EventBeginSend:
		return "begin_send"
	case EventEndSend:
		return "end_send"
	case EventBeginRecv:
		return "begin_recv"
	case EventEndRecv:
		return "end_recv"
	default:
		return "unknown_event"
	}
}

// IOArgs is the mutable in/out argument bundle passed to every Callback
// invocation. A begin_* event is asked to supply work by setting Buffer (or,
// for begin_accept, Accepted) and returning; leaving both nil signals "no
// more work" and ends the drive loop. An end_* event receives the completed
// buffer/address/flags and may read OpCtx back to match against what it
// handed over at the matching begin_*.
type IOArgs struct {
	Buffer   []byte
	N        int
	Addr     Address
	HasAddr  bool
	Flags    int
	OpCtx    interface{}
	Accepted *ClientInterface

	// AcceptedSocket carries the newly-accepted Socket on an end_accept
	// dispatch: a typed field instead of an untyped buffer, since accept's
	// payload shape genuinely differs from every other flavor's byte-buffer
	// payload.
	AcceptedSocket *Socket
}

// Callback is the single dispatch function the engine calls up into,
// multiplexed over Event.
type Callback func(event Event, io *IOArgs, status status.Status)

// ClientInterface is the upward callback surface: socket properties plus the
// single multiplexed callback.
type ClientInterface struct {
	Props SocketProperties
	Cb    Callback
}
