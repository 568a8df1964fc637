// Package stack provides the concrete sock.Descriptor/sock.Dialer the
// engine runs over: a userspace WireGuard tunnel (golang.zx2c4.com/wireguard)
// fronted by a gVisor netstack, with I/O dispatched off a worker pool so it
// can complete through callbacks the way the engine's AsyncOp expects.
// Grounded in stack.go, generalized from package-level globals
// into an injectable Transport so more than one tunnel can run in a process.
package stack

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/pkg/errors"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"
	"golang.zx2c4.com/wireguard/tun/netstack"
	"gopkg.in/ini.v1"

	"github.com/mkauli/iot-gateway-opc-ua-proxy/internal/telemetry"
)

// noiseKeyLen is the fixed Curve25519 key size WireGuard's IPC protocol
// expects for both private_key and public_key.
const noiseKeyLen = 32

// Transport owns one userspace WireGuard tunnel and the netstack bound to
// it, plus the worker pool that turns the engine's asynchronous Descriptor
// calls into blocking netstack calls run off the caller's goroutine.
type Transport struct {
	Net      *netstack.Net
	Device   *device.Device
	DNS      []netip.Addr
	Notifier *Notifier
}

// Open loads a WireGuard interface/peer config (the same [Interface]/[Peer]
// ini layout wg-quick uses) and brings the tunnel up. ctx bounds any peer
// endpoint DNS lookups the config requires; workers sizes the notifier pool
// backing every Descriptor created against this Transport.
func Open(ctx context.Context, configPath string, workers int) (*Transport, error) {
	cfg, err := ini.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "load wg config")
	}

	iface := cfg.Section("Interface")
	if iface == nil {
		return nil, errors.New("missing [Interface] section")
	}

	privateKeyHex, err := decodeBase64ToHex(iface.Key("PrivateKey").String())
	if err != nil {
		return nil, errors.Wrap(err, "invalid PrivateKey")
	}

	ips, err := parseIPs(iface.Key("Address").String())
	if err != nil {
		return nil, errors.Wrap(err, "invalid Interface Address")
	}
	dns, _ := parseIPs(iface.Key("DNS").String())

	mtu := 1420
	if iface.HasKey("MTU") {
		mtu, _ = iface.Key("MTU").Int()
	}

	telemetry.Trace("stack.open", "addrs", ips, "dns", dns, "mtu", mtu)

	tun, tnet, err := netstack.CreateNetTUN(ips, dns, mtu)
	if err != nil {
		return nil, errors.Wrap(err, "create netstack tun")
	}

	dev := device.NewDevice(tun, conn.NewDefaultBind(), device.NewLogger(device.LogLevelError, "edgesockd: "))

	req, err := buildIpcRequest(ctx, cfg, privateKeyHex, iface)
	if err != nil {
		return nil, err
	}

	if err := dev.IpcSet(req); err != nil {
		return nil, errors.Wrap(err, "set device ipc")
	}
	if err := dev.Up(); err != nil {
		return nil, errors.Wrap(err, "bring device up")
	}

	return &Transport{
		Net:      tnet,
		Device:   dev,
		DNS:      dns,
		Notifier: NewNotifier(workers),
	}, nil
}

// buildIpcRequest assembles the newline-delimited key=value protocol
// device.IpcSet expects, resolving each peer's endpoint against ctx along
// the way. A peer whose endpoint fails to resolve is still configured, with
// its endpoint line left out, rather than failing the whole tunnel, so one
// unreachable peer doesn't block the rest from coming up.
func buildIpcRequest(ctx context.Context, cfg *ini.File, privateKeyHex string, iface *ini.Section) (string, error) {
	var req bytes.Buffer
	fmt.Fprintf(&req, "private_key=%s\n", privateKeyHex)
	if iface.HasKey("ListenPort") {
		port, _ := iface.Key("ListenPort").Int()
		fmt.Fprintf(&req, "listen_port=%d\n", port)
	}

	peers, _ := cfg.SectionsByName("Peer")
	for _, peer := range peers {
		pubHex, err := decodeBase64ToHex(peer.Key("PublicKey").String())
		if err != nil {
			return "", errors.Wrap(err, "invalid Peer PublicKey")
		}
		fmt.Fprintf(&req, "public_key=%s\n", pubHex)

		if peer.HasKey("Endpoint") {
			endpoint := peer.Key("Endpoint").String()
			resolved, err := resolveEndpoint(ctx, endpoint)
			if err != nil {
				telemetry.Errorf("skipping peer endpoint %q: %v", endpoint, err)
			} else {
				fmt.Fprintf(&req, "endpoint=%s\n", resolved)
			}
		}

		if peer.HasKey("AllowedIPs") {
			for _, cidr := range strings.Split(peer.Key("AllowedIPs").String(), ",") {
				cidr = strings.TrimSpace(cidr)
				if cidr != "" {
					fmt.Fprintf(&req, "allowed_ip=%s\n", cidr)
				}
			}
		} else {
			req.WriteString("allowed_ip=0.0.0.0/0\n")
			req.WriteString("allowed_ip=::0/0\n")
		}

		if peer.HasKey("PersistentKeepalive") {
			keepalive, _ := peer.Key("PersistentKeepalive").Int()
			fmt.Fprintf(&req, "persistent_keepalive_interval=%d\n", keepalive)
		}
	}

	return req.String(), nil
}

// Close tears down the tunnel and drains the worker pool.
func (t *Transport) Close() {
	if t.Notifier != nil {
		t.Notifier.Close()
	}
	if t.Device != nil {
		t.Device.Close()
	}
}

// decodeBase64ToHex turns a wg-quick-style base64 Curve25519 key into the
// hex form device.IpcSet's private_key/public_key lines take, rejecting the
// all-zero key wg-quick itself refuses to accept as either half of a pair.
func decodeBase64ToHex(key string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return "", errors.Wrap(err, "decode base64 key")
	}
	if len(decoded) != noiseKeyLen {
		return "", fmt.Errorf("key must be %d bytes, got %d", noiseKeyLen, len(decoded))
	}
	if isAllZero(decoded) {
		return "", errors.New("key must not be all-zero")
	}
	return hex.EncodeToString(decoded), nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// parseIPs splits a comma-separated list of bare addresses and CIDR
// prefixes (the [Interface] Address/DNS value shape) into their host
// addresses, via netip.ParsePrefix rather than net.ParseCIDR so the whole
// function stays on the netip types the rest of the package already uses.
func parseIPs(s string) ([]netip.Addr, error) {
	if s == "" {
		return nil, nil
	}
	var ips []netip.Addr
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(p); err == nil {
			ips = append(ips, prefix.Addr().Unmap())
			continue
		}
		ip, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("invalid IP/CIDR: %s", p)
		}
		ips = append(ips, ip.Unmap())
	}
	return ips, nil
}

// resolveEndpoint turns a peer's host:port into a concrete address:port for
// device.IpcSet's endpoint= line. A literal IP host short-circuits the
// lookup entirely; a name is resolved through ctx so a slow or hanging DNS
// server can't stall bringing the whole tunnel up.
func resolveEndpoint(ctx context.Context, endpoint string) (string, error) {
	host, port, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", errors.Wrap(err, "split endpoint")
	}
	if net.ParseIP(host) != nil {
		return endpoint, nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errors.Wrap(err, "lookup endpoint host")
	}
	if len(addrs) == 0 {
		return "", errors.New("no IPs found for host")
	}
	return net.JoinHostPort(addrs[0].IP.String(), port), nil
}
