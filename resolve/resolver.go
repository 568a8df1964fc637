// Package resolve implements sock.Resolver against a stack.Transport's
// netstack, grounded in name_res.go (getaddrinfo's
// netstack.LookupContextHost forward-lookup path, and lookupPTR's
// hand-rolled dnsmessage-over-UDP query for cases the netstack resolver
// cannot serve).
package resolve

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"
	"golang.zx2c4.com/wireguard/tun/netstack"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/status"
	"github.com/mkauli/iot-gateway-opc-ua-proxy/sock"
)

// Resolver answers sock.Resolver against one netstack. Forward lookups go
// through the netstack's LookupContextHost only; the configured DNS servers
// are used for explicit reverse PTR lookups.
type Resolver struct {
	net        *netstack.Net
	dnsServers []net.IP
}

func New(tnet *netstack.Net, dnsServers []net.IP) *Resolver {
	return &Resolver{net: tnet, dnsServers: dnsServers}
}

// Resolve implements sock.Resolver. An empty host with passive=true asks
// for the wildcard bind address of the requested family, matching
// getaddrinfo's AI_PASSIVE-with-null-node behavior; an empty host with
// passive=false yields the loopback address, and a numeric IP host is
// returned as-is. Only a host name goes through the netstack resolver.
func (r *Resolver) Resolve(host string, port uint16, family sock.AddressKind, passive bool) ([]sock.Address, status.Status) {
	if host == "" {
		if passive {
			return []sock.Address{wildcardAddress(family, port)}, status.OK
		}
		return []sock.Address{loopbackAddress(family, port)}, status.OK
	}

	if ip := net.ParseIP(host); ip != nil {
		return []sock.Address{addressFromIP(ip, port)}, status.OK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ips, err := r.net.LookupContextHost(ctx, host)
	if err != nil || len(ips) == 0 {
		return nil, status.Connecting
	}

	var out []sock.Address
	for _, s := range ips {
		ip := net.ParseIP(s)
		if ip == nil {
			continue
		}
		if !matchesFamily(ip, family) {
			continue
		}
		out = append(out, addressFromIP(ip, port))
	}
	if len(out) == 0 {
		return nil, status.Connecting
	}
	return out, status.OK
}

// ReverseLookup answers a PTR query for ip by hand-rolling a DNS message
// over a UDP socket dialed through the tunnel — the same fallback the
// teacher's lookupPTR uses because netstack's resolver doesn't do reverse
// lookups.
func (r *Resolver) ReverseLookup(ip net.IP) (string, error) {
	if len(r.dnsServers) == 0 {
		return "", fmt.Errorf("no DNS servers configured")
	}

	arpa, err := arpaName(ip)
	if err != nil {
		return "", err
	}
	name, err := dnsmessage.NewName(arpa)
	if err != nil {
		return "", err
	}

	msg := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:               1,
			RecursionDesired: true,
		},
		Questions: []dnsmessage.Question{{
			Name:  name,
			Type:  dnsmessage.TypePTR,
			Class: dnsmessage.ClassINET,
		}},
	}
	packed, err := msg.Pack()
	if err != nil {
		return "", err
	}

	for _, dns := range r.dnsServers {
		addr := net.JoinHostPort(dns.String(), "53")
		conn, err := r.net.DialContext(context.Background(), "udp", addr)
		if err != nil {
			continue
		}
		conn.SetDeadline(time.Now().Add(2 * time.Second))
		if _, err := conn.Write(packed); err != nil {
			conn.Close()
			continue
		}
		buf := make([]byte, 512)
		n, err := conn.Read(buf)
		conn.Close()
		if err != nil {
			continue
		}
		var resp dnsmessage.Message
		if err := resp.Unpack(buf[:n]); err != nil || resp.Header.RCode != dnsmessage.RCodeSuccess {
			continue
		}
		for _, ans := range resp.Answers {
			if ptr, ok := ans.Body.(*dnsmessage.PTRResource); ok {
				return strings.TrimSuffix(ptr.PTR.String(), "."), nil
			}
		}
	}
	return "", fmt.Errorf("PTR record not found for %s", ip)
}

func arpaName(ip net.IP) (string, error) {
	if ip4 := ip.To4(); ip4 != nil {
		return fmt.Sprintf("%d.%d.%d.%d.in-addr.arpa.", ip4[3], ip4[2], ip4[1], ip4[0]), nil
	}
	ip6 := ip.To16()
	if ip6 == nil {
		return "", fmt.Errorf("invalid IP %v", ip)
	}
	var sb strings.Builder
	for i := 15; i >= 0; i-- {
		fmt.Fprintf(&sb, "%x.%x.", ip6[i]&0xf, ip6[i]>>4)
	}
	sb.WriteString("ip6.arpa.")
	return sb.String(), nil
}

func matchesFamily(ip net.IP, family sock.AddressKind) bool {
	switch family {
	case sock.AddressInet4:
		return ip.To4() != nil
	case sock.AddressInet6:
		return ip.To4() == nil
	default:
		return true
	}
}

func addressFromIP(ip net.IP, port uint16) sock.Address {
	kind := sock.AddressInet4
	if ip.To4() == nil {
		kind = sock.AddressInet6
	}
	return sock.Address{Kind: kind, IP: ip, Port: port}
}

func wildcardAddress(family sock.AddressKind, port uint16) sock.Address {
	if family == sock.AddressInet6 {
		return sock.Address{Kind: sock.AddressInet6, IP: net.IPv6unspecified, Port: port}
	}
	return sock.Address{Kind: sock.AddressInet4, IP: net.IPv4zero, Port: port}
}

func loopbackAddress(family sock.AddressKind, port uint16) sock.Address {
	if family == sock.AddressInet6 {
		return sock.Address{Kind: sock.AddressInet6, IP: net.IPv6loopback, Port: port}
	}
	return sock.Address{Kind: sock.AddressInet4, IP: net.IPv4(127, 0, 0, 1), Port: port}
}
