package sock

// Option is a portable socket option identifier: the core set (available,
// linger, shutdown, nonblocking, acceptconn) plus the IP-tuning options
// original_source/pal_sk_win.c and tredeske-u/unet/socket.go carry (GSO,
// DSCP, MTU discovery) — real operational knobs an edge gateway needs.
type Option int

const (
	OptAvailable Option = iota
	OptLinger
	OptShutdown
	OptNonBlocking
	OptAcceptConn
	OptMTUDiscover
	OptDSCP
	OptGSO
)

// ShutdownHow selects which direction(s) OptShutdown silences.
type ShutdownHow int

const (
	ShutdownRead ShutdownHow = iota
	ShutdownWrite
	ShutdownBoth
)

// Linger mirrors the OS linger struct: l_onoff = (value != 0), l_linger = value.
type Linger struct {
	OnOff   bool
	Seconds int
}

// MulticastOption pairs a multicast group with the family it belongs to and
// the local interface index to join/leave it on, mirroring
// prx_multicast_option_t's family/address/interface_index triple.
type MulticastOption struct {
	Family         AddressKind
	Address        Address
	InterfaceIndex int
}
