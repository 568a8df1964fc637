package sock

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
)

func TestOpenActiveStreamConnectSuccessFiresOpenedOnce(t *testing.T) {
	assert := assert.New(t)

	local := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	peer := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 2), Port: 80}
	desc := &fakeDescriptor{connectCode: status.OK, local: local, localCode: status.OK, peer: peer, peerCode: status.OK}

	var events []recordedEvent
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: peer},
		Cb:    recordingCallback(&events),
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()

	assert.Len(events, 1)
	assert.Equal(EventOpened, events[0].event)
	assert.Equal(status.OK, events[0].code)

	gotLocal, ok := s.GetLocal()
	assert.True(ok)
	assert.Equal(local, gotLocal)

	gotPeer, ok := s.GetPeer()
	assert.True(ok)
	assert.Equal(peer, gotPeer)
}

func TestOpenActiveStreamConnectFailureAdvancesCursorThenExhausts(t *testing.T) {
	assert := assert.New(t)

	desc := &fakeDescriptor{connectCode: status.NetworkError}

	var events []recordedEvent
	target := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 2), Port: 80}
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: target},
		Cb:    recordingCallback(&events),
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()

	assert.Len(events, 1)
	assert.Equal(EventOpened, events[0].event)
	assert.Equal(status.Connecting, events[0].code)
	assert.True(desc.closed)
}

func TestOpenPassiveStreamBindListenSuccess(t *testing.T) {
	assert := assert.New(t)

	local := Address{Kind: AddressInet4, IP: net.IPv4zero, Port: 9000}
	desc := &fakeDescriptor{bindCode: status.OK, listenCode: status.OK}

	var events []recordedEvent
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: local, Flags: FlagPassive},
		Cb:    recordingCallback(&events),
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()

	assert.Len(events, 1)
	assert.Equal(EventOpened, events[0].event)
	assert.Equal(status.OK, events[0].code)
	gotLocal, ok := s.GetLocal()
	assert.True(ok)
	assert.Equal(local, gotLocal)
}

func TestCloseFiresClosedExactlyOnceEvenWhenCalledTwice(t *testing.T) {
	assert := assert.New(t)

	desc := &fakeDescriptor{bindCode: status.OK, listenCode: status.OK}

	var events []recordedEvent
	local := Address{Kind: AddressInet4, IP: net.IPv4zero, Port: 9001}
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: local, Flags: FlagPassive},
		Cb:    recordingCallback(&events),
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	s.Close(nil)
	s.Close(nil)

	closedCount := 0
	for _, e := range events {
		if e.event == EventClosed {
			closedCount++
		}
	}
	assert.Equal(1, closedCount)
	assert.True(desc.closed)
}

func TestSendFlavorDispatchesBeginThenEndWithByteCount(t *testing.T) {
	assert := assert.New(t)

	peer := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 2), Port: 80}
	desc := &fakeDescriptor{connectCode: status.OK, sendN: 5, sendCode: status.OK}

	var events []recordedEvent
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: peer},
		Cb: func(event Event, io *IOArgs, code status.Status) {
			if event == EventBeginSend {
				io.Buffer = []byte("hello")
			}
			events = append(events, recordedEvent{event: event, io: *io, code: code})
		},
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	events = nil
	rc := s.CanSend(true)
	assert.Equal(status.OK, rc)

	assert.Len(events, 2)
	assert.Equal(EventBeginSend, events[0].event)
	assert.Equal(EventEndSend, events[1].event)
	assert.Equal(5, events[1].io.N)
}

func TestRecvFlavorDispatchesBeginThenEndWithTrimmedBuffer(t *testing.T) {
	assert := assert.New(t)

	peer := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 2), Port: 80}
	desc := &fakeDescriptor{connectCode: status.OK, recvData: []byte("hi"), recvCode: status.OK}

	// One buffer is supplied; the begin_recv re-driven after end_recv gets
	// none, which ends the loop.
	supplied := false
	var events []recordedEvent
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: peer},
		Cb: func(event Event, io *IOArgs, code status.Status) {
			if event == EventBeginRecv && !supplied {
				supplied = true
				io.Buffer = make([]byte, 64)
			}
			events = append(events, recordedEvent{event: event, io: *io, code: code})
		},
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	events = nil
	rc := s.CanRecv(true)
	assert.Equal(status.OK, rc)

	assert.Len(events, 3)
	assert.Equal(EventEndRecv, events[1].event)
	assert.Equal(2, events[1].io.N)
	assert.Equal("hi", string(events[1].io.Buffer))
	assert.Equal(EventBeginRecv, events[2].event)
}

func TestCanSendAndCanRecvFailFastAfterCloseRequested(t *testing.T) {
	assert := assert.New(t)

	desc := &fakeDescriptor{bindCode: status.OK, listenCode: status.OK}
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Flags: FlagPassive},
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	s.Close(nil)

	assert.Equal(status.Closed, s.CanSend(true))
	assert.Equal(status.Closed, s.CanRecv(true))
}

func TestShutdownReadSilencesRecvBeginPermanently(t *testing.T) {
	assert := assert.New(t)

	peer := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 2), Port: 80}
	desc := &fakeDescriptor{connectCode: status.OK, recvData: []byte("hi"), recvCode: status.OK}

	recvBeginCalls := 0
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Address: peer},
		Cb: func(event Event, io *IOArgs, code status.Status) {
			if event == EventBeginRecv {
				recvBeginCalls++
				io.Buffer = make([]byte, 64)
			}
		},
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	rc := s.SetOpt(OptShutdown, []byte{byte(ShutdownRead)})
	assert.Equal(status.OK, rc)

	s.CanRecv(true)
	assert.Equal(0, recvBeginCalls)
}

func TestOpenDgramWiresToSendToRecvFromFlavor(t *testing.T) {
	assert := assert.New(t)

	local := Address{Kind: AddressInet4, IP: net.IPv4zero, Port: 9002}
	desc := &fakeDescriptor{bindCode: status.OK}

	var events []recordedEvent
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockDgram, Address: local, Flags: FlagPassive},
		Cb:    recordingCallback(&events),
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()

	assert.Len(events, 1)
	assert.Equal(EventOpened, events[0].event)
	assert.Equal(status.OK, events[0].code)
}

func TestListenerSendOpIsNoop(t *testing.T) {
	assert := assert.New(t)

	desc := &fakeDescriptor{bindCode: status.OK, listenCode: status.OK}
	sendBeginCalls := 0
	s := New(ClientInterface{
		Props: SocketProperties{Family: AddressInet4, Type: SockStream, Flags: FlagPassive},
		Cb: func(event Event, io *IOArgs, code status.Status) {
			if event == EventBeginSend {
				sendBeginCalls++
			}
		},
	}, singleDescriptorDialer(desc), &fakeResolver{})

	s.Open()
	s.CanSend(true)
	assert.Equal(0, sendBeginCalls)
}

func TestAcceptedSocketSkipsConnectCascadeAndAdoptsDescriptorAddresses(t *testing.T) {
	assert := assert.New(t)

	local := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 1), Port: 9003}
	peer := Address{Kind: AddressInet4, IP: net.IPv4(10, 0, 0, 9), Port: 54321}
	childDesc := &fakeDescriptor{local: local, localCode: status.OK}

	child := newAcceptedSocket(ClientInterface{}, childDesc, peer, &fakeDialer{}, &fakeResolver{})

	gotPeer, ok := child.GetPeer()
	assert.True(ok)
	assert.Equal(peer, gotPeer)

	gotLocal, ok := child.GetLocal()
	assert.True(ok)
	assert.Equal(local, gotLocal)
}
