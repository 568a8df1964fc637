package sock

import "github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"

// Descriptor is a socket descriptor bound to an OS completion notification
// subsystem — a collaborator a runnable engine needs a concrete instance of.
// Every method that performs I/O is asynchronous: it returns immediately and
// invokes done exactly once, on whatever goroutine the underlying
// stack.Notifier chooses — the engine's analogue of an IOCP completion
// callback. Bind/Listen are the two exceptions that run synchronously (the
// bind-and-maybe-listen path of the connect cascade).
type Descriptor interface {
	Bind(addr Address) status.Status
	Listen(backlog int) status.Status

	Connect(addr Address, done func(code status.Status))
	Accept(done func(accepted Descriptor, peer Address, code status.Status))
	Send(buf []byte, flags int, done func(n int, code status.Status))
	Recv(buf []byte, flags int, done func(n int, flags int, code status.Status))
	SendTo(buf []byte, addr Address, flags int, done func(n int, code status.Status))
	RecvFrom(buf []byte, flags int, done func(n int, from Address, flags int, code status.Status))

	LocalAddr() (Address, status.Status)
	PeerAddr() (Address, status.Status)

	// SetOpt/GetOpt translate portable socket options onto the descriptor.
	SetOpt(opt Option, value []byte) status.Status
	GetOpt(opt Option, out []byte) (int, status.Status)

	JoinMulticastGroup(opt MulticastOption) status.Status
	LeaveMulticastGroup(opt MulticastOption) status.Status

	Cancel()
	Close() error
}

// Dialer is the "create descriptor" collaborator: ConnectCascade calls
// through this contract to create a new socket descriptor from the updated
// properties and bind it to the notification facility.
type Dialer interface {
	NewDescriptor(props SocketProperties) (Descriptor, status.Status)
}

// Resolver is the external address resolver contract:
// resolve(host, port, family, flags) -> list of addresses.
type Resolver interface {
	Resolve(host string, port uint16, family AddressKind, passive bool) ([]Address, status.Status)
}
