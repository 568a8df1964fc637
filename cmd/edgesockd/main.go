// Command edgesockd brings up a WireGuard-tunnelled netstack and runs a
// small TCP and UDP echo service through the engine's own Socket/AsyncOp/
// IoQueue stack instead of net.Listen/net.ListenUDP directly — the demo
// counterpart to demo-server.go, generalized from raw net
// calls to the engine's asynchronous callback surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/queue"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/resolve"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/sock"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/stack"
)

const recvBufSize = 4096

func main() {
	configPath := flag.String("config", "wg.conf", "WireGuard interface config")
	tcpPort := flag.Uint("tcp-port", 9080, "TCP echo listener port")
	udpPort := flag.Uint("udp-port", 9081, "UDP echo listener port")
	workers := flag.Int("workers", 4, "notifier worker pool size")
	dialHost := flag.String("dial-host", "", "if set, resolve and dial this host:port once at startup and print its echo")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())

	transport, err := stack.Open(ctx, *configPath, *workers)
	if err != nil {
		fmt.Println("transport open error:", err)
		os.Exit(1)
	}
	defer transport.Close()

	var dnsIPs []net.IP
	for _, a := range transport.DNS {
		dnsIPs = append(dnsIPs, a.AsSlice())
	}
	resolver := resolve.New(transport.Net, dnsIPs)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go runTCPEcho(ctx, &wg, transport, resolver, uint16(*tcpPort))
	go runUDPEcho(ctx, &wg, transport, resolver, uint16(*udpPort))

	if *dialHost != "" {
		wg.Add(1)
		go runDialDemo(ctx, &wg, transport, resolver, *dialHost)
	}

	<-ctx.Done()
	wg.Wait()
	fmt.Println("Cleanup complete.")
}

// echoConn pairs one accepted connection with the IoQueue carrying payloads
// from its recv side to its send side. Each accepted Socket gets its own
// echoConn and its own Callback closure over it, so the dispatch table never
// needs to look a connection up by anything.
type echoConn struct {
	sockt *sock.Socket
	outQ  *queue.IoQueue
}

// runTCPEcho brings up a passive stream Socket on port and hands every
// accepted connection its own echo loop, driven entirely off the accept/
// recv/send AsyncOp flavors.
func runTCPEcho(ctx context.Context, wg *sync.WaitGroup, transport *stack.Transport, resolver sock.Resolver, port uint16) {
	defer wg.Done()

	var mu sync.Mutex
	live := map[*echoConn]struct{}{}

	// acceptBegin/acceptComplete never run concurrently for the same
	// AsyncOp, so a single in-flight pointer is enough to hand the
	// freshly-constructed child Socket back to the echoConn its own
	// template created one event earlier.
	var pendingConn *echoConn

	ln := sock.New(sock.ClientInterface{
		Props: sock.SocketProperties{
			Family:  sock.AddressInet4,
			Type:    sock.SockStream,
			Address: sock.Address{Kind: sock.AddressInet4, IP: net.IPv4zero, Port: port},
			Flags:   sock.FlagPassive,
		},
		Cb: func(event sock.Event, io *sock.IOArgs, code status.Status) {
			switch event {
			case sock.EventOpened:
				if code != status.OK {
					fmt.Println("TCP listener open failed:", code)
					return
				}
				fmt.Printf("TCP echo listening on :%d\n", port)
			case sock.EventBeginAccept:
				conn := &echoConn{outQ: queue.New("tcp-echo", nil)}
				pendingConn = conn
				template := sock.ClientInterface{Cb: tcpConnCallback(conn, &mu, live)}
				io.Accepted = &template
			case sock.EventEndAccept:
				conn := pendingConn
				pendingConn = nil
				if code != status.OK || io.AcceptedSocket == nil || conn == nil {
					return
				}
				conn.sockt = io.AcceptedSocket
				conn.sockt.CanRecv(true)
			case sock.EventClosed:
				fmt.Println("TCP listener closed")
			}
		},
	}, transport, resolver)

	ln.Open()
	ln.CanRecv(true)
	<-ctx.Done()

	mu.Lock()
	for c := range live {
		c.sockt.Close(nil)
	}
	mu.Unlock()
	ln.Close(nil)
}

// tcpConnCallback builds the Callback for one accepted connection, closed
// over that connection's own echoConn — there is no per-event lookup because
// the closure already knows which connection it belongs to. conn.sockt is
// set by the listener's end_accept handler, once newAcceptedSocket has
// actually constructed it; it is nil for the brief window before that.
func tcpConnCallback(conn *echoConn, mu *sync.Mutex, live map[*echoConn]struct{}) sock.Callback {
	registered := false
	return func(event sock.Event, io *sock.IOArgs, code status.Status) {
		if !registered {
			mu.Lock()
			live[conn] = struct{}{}
			mu.Unlock()
			registered = true
		}

		switch event {
		case sock.EventBeginRecv:
			io.Buffer = make([]byte, recvBufSize)
		case sock.EventEndRecv:
			if conn.sockt == nil {
				return
			}
			if code != status.OK || io.N == 0 {
				conn.sockt.Close(nil)
				return
			}
			if buf, rc := conn.outQ.CreateBuffer(io.Buffer[:io.N], io.N); rc == status.OK {
				conn.outQ.SetReady(buf)
				conn.sockt.CanSend(true)
			}
			conn.sockt.CanRecv(true)
		case sock.EventBeginSend:
			buf := conn.outQ.PopReady()
			if buf == nil {
				return
			}
			io.Buffer = buf.Bytes()
			io.OpCtx = buf
		case sock.EventEndSend:
			if buf, ok := io.OpCtx.(*queue.IoBuffer); ok {
				conn.outQ.Release(buf)
			}
		case sock.EventClosed:
			mu.Lock()
			delete(live, conn)
			mu.Unlock()
			conn.outQ.ReleaseAll()
		}
	}
}

// runUDPEcho brings up a passive datagram Socket and echoes every inbound
// packet back to its source address, exercising the sendto/recvfrom flavor.
func runUDPEcho(ctx context.Context, wg *sync.WaitGroup, transport *stack.Transport, resolver sock.Resolver, port uint16) {
	defer wg.Done()

	outQ := queue.New("udp-echo", nil)
	var pendingMu sync.Mutex
	pending := map[*queue.IoBuffer]sock.Address{}

	var s *sock.Socket
	s = sock.New(sock.ClientInterface{
		Props: sock.SocketProperties{
			Family:  sock.AddressInet4,
			Type:    sock.SockDgram,
			Address: sock.Address{Kind: sock.AddressInet4, IP: net.IPv4zero, Port: port},
			Flags:   sock.FlagPassive,
		},
		Cb: func(event sock.Event, io *sock.IOArgs, code status.Status) {
			switch event {
			case sock.EventOpened:
				if code != status.OK {
					fmt.Println("UDP listener open failed:", code)
					return
				}
				fmt.Printf("UDP echo listening on :%d\n", port)
			case sock.EventBeginRecv:
				io.Buffer = make([]byte, recvBufSize)
			case sock.EventEndRecv:
				if code != status.OK || io.N == 0 || !io.HasAddr {
					return
				}
				if buf, rc := outQ.CreateBuffer(io.Buffer[:io.N], io.N); rc == status.OK {
					pendingMu.Lock()
					pending[buf] = io.Addr
					pendingMu.Unlock()
					outQ.SetReady(buf)
					s.CanSend(true)
				}
			case sock.EventBeginSend:
				buf := outQ.PopReady()
				if buf == nil {
					return
				}
				pendingMu.Lock()
				dest := pending[buf]
				pendingMu.Unlock()
				io.Buffer = buf.Bytes()
				io.Addr = dest
				io.HasAddr = true
				io.OpCtx = buf
			case sock.EventEndSend:
				if buf, ok := io.OpCtx.(*queue.IoBuffer); ok {
					pendingMu.Lock()
					delete(pending, buf)
					pendingMu.Unlock()
					outQ.Release(buf)
				}
			case sock.EventClosed:
				fmt.Println("UDP listener closed")
			}
		},
	}, transport, resolver)

	s.Open()
	s.CanRecv(true)

	<-ctx.Done()
	s.Close(nil)
}

// runDialDemo exercises ConnectCascade's proxy-by-name resolution path: dial
// host, send one line, print whatever comes back, then close.
func runDialDemo(ctx context.Context, wg *sync.WaitGroup, transport *stack.Transport, resolver sock.Resolver, hostPort string) {
	defer wg.Done()

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		fmt.Println("dial-host: invalid host:port:", err)
		return
	}
	var port uint16
	fmt.Sscanf(portStr, "%d", &port)

	done := make(chan struct{})
	sent := false
	var s *sock.Socket
	s = sock.New(sock.ClientInterface{
		Props: sock.SocketProperties{
			Family:  sock.AddressInet4,
			Type:    sock.SockStream,
			Address: sock.Address{Kind: sock.AddressProxyName, Host: host, Port: port},
		},
		Cb: func(event sock.Event, io *sock.IOArgs, code status.Status) {
			switch event {
			case sock.EventOpened:
				if code != status.OK {
					fmt.Println("dial-host: open failed:", code)
					close(done)
					return
				}
				fmt.Println("dial-host: connected to", hostPort)
				s.CanSend(true)
				s.CanRecv(true)
			case sock.EventBeginSend:
				if sent {
					return
				}
				sent = true
				io.Buffer = []byte("hello from edgesockd\n")
			case sock.EventBeginRecv:
				io.Buffer = make([]byte, recvBufSize)
			case sock.EventEndRecv:
				if code == status.OK && io.N > 0 {
					fmt.Printf("dial-host: echoed %q\n", string(io.Buffer[:io.N]))
				}
				s.Close(nil)
			case sock.EventClosed:
				close(done)
			}
		},
	}, transport, resolver)

	s.Open()
	select {
	case <-done:
	case <-ctx.Done():
		s.Close(nil)
	}
}
