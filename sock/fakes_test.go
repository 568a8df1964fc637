package sock

import (
	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

// fakeDescriptor settles every asynchronous method synchronously, on the
// caller's own goroutine, with whatever outcome the test configured. That's
// enough to exercise AsyncOp's pending bracket and Socket's dispatch wiring
// without a real netstack underneath.
type fakeDescriptor struct {
	bindCode    status.Status
	listenCode  status.Status
	connectCode status.Status
	sendN       int
	sendCode    status.Status
	recvData    []byte
	recvCode    status.Status
	acceptDesc  Descriptor
	acceptPeer  Address
	acceptCode  status.Status
	local       Address
	localCode   status.Status
	peer        Address
	peerCode    status.Status

	closed   bool
	canceled bool

	// deferConnect makes Connect stash its done callback instead of invoking
	// it inline, so a test can drive a close race against a connect attempt
	// that hasn't settled yet. fireConnect invokes it later.
	deferConnect bool
	connectDone  func(code status.Status)
}

func (f *fakeDescriptor) Bind(addr Address) status.Status  { return f.bindCode }
func (f *fakeDescriptor) Listen(backlog int) status.Status { return f.listenCode }
func (f *fakeDescriptor) Connect(addr Address, done func(code status.Status)) {
	if f.deferConnect {
		f.connectDone = done
		return
	}
	done(f.connectCode)
}

// fireConnect invokes a Connect callback deferConnect held back, simulating
// the completion arriving on whatever goroutine settles it.
func (f *fakeDescriptor) fireConnect(code status.Status) {
	done := f.connectDone
	f.connectDone = nil
	done(code)
}
func (f *fakeDescriptor) Accept(done func(accepted Descriptor, peer Address, code status.Status)) {
	done(f.acceptDesc, f.acceptPeer, f.acceptCode)
}
func (f *fakeDescriptor) Send(buf []byte, flags int, done func(n int, code status.Status)) {
	done(f.sendN, f.sendCode)
}
func (f *fakeDescriptor) Recv(buf []byte, flags int, done func(n int, flags int, code status.Status)) {
	n := copy(buf, f.recvData)
	done(n, 0, f.recvCode)
}
func (f *fakeDescriptor) SendTo(buf []byte, addr Address, flags int, done func(n int, code status.Status)) {
	done(f.sendN, f.sendCode)
}
func (f *fakeDescriptor) RecvFrom(buf []byte, flags int, done func(n int, from Address, flags int, code status.Status)) {
	n := copy(buf, f.recvData)
	done(n, f.peer, 0, f.recvCode)
}
func (f *fakeDescriptor) LocalAddr() (Address, status.Status) { return f.local, f.localCode }
func (f *fakeDescriptor) PeerAddr() (Address, status.Status)  { return f.peer, f.peerCode }
func (f *fakeDescriptor) SetOpt(opt Option, value []byte) status.Status {
	return status.OK
}
func (f *fakeDescriptor) GetOpt(opt Option, out []byte) (int, status.Status) {
	return 0, status.OK
}
func (f *fakeDescriptor) JoinMulticastGroup(opt MulticastOption) status.Status {
	return status.OK
}
func (f *fakeDescriptor) LeaveMulticastGroup(opt MulticastOption) status.Status {
	return status.OK
}
func (f *fakeDescriptor) Cancel()      { f.canceled = true }
func (f *fakeDescriptor) Close() error { f.closed = true; return nil }

// fakeDialer hands back whatever NewDescriptor's configured func produces,
// letting a test script a different descriptor (or failure) per call —
// ConnectCascade's per-address walk needs exactly that.
type fakeDialer struct {
	next func(props SocketProperties) (Descriptor, status.Status)
}

func (d *fakeDialer) NewDescriptor(props SocketProperties) (Descriptor, status.Status) {
	return d.next(props)
}

func singleDescriptorDialer(desc Descriptor) *fakeDialer {
	return &fakeDialer{next: func(props SocketProperties) (Descriptor, status.Status) {
		return desc, status.OK
	}}
}

// fakeResolver returns a fixed address list/code regardless of arguments.
type fakeResolver struct {
	addrs []Address
	code  status.Status
}

func (r *fakeResolver) Resolve(host string, port uint16, family AddressKind, passive bool) ([]Address, status.Status) {
	return r.addrs, r.code
}

// recordingCallback collects every dispatched event in order, for tests
// that need to assert both the sequence and the payload of a cascade.
type recordedEvent struct {
	event Event
	io    IOArgs
	code  status.Status
}

func recordingCallback(events *[]recordedEvent) Callback {
	return func(event Event, io *IOArgs, code status.Status) {
		*events = append(*events, recordedEvent{event: event, io: *io, code: code})
	}
}
