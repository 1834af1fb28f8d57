// Package addressing implements C3: per-dialogue local-bind and
// advertised-external address selection, per spec §4.3.
//
// Grounded on the spec's own three-step probe description; no pack repo
// implements exactly this (sipgo leaves local-address selection to the
// caller), so the control flow is original to this package while the STUN
// leg reuses transport.StunProbe (itself grounded on spec §4.3's literal
// requirement) and the localnet/externip logic mirrors config.Config's
// fields (§6.5).
package addressing

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/mjagdis/sipcore/config"
	"github.com/mjagdis/sipcore/transport"
)

// Policy decides whether received-source or Contact-derived addresses win
// for a given dialogue, per spec §4.3 "NAT policy per dialogue".
type Policy struct {
	NAT        config.NATPolicy
	LocalNet   *net.IPNet
	RFC3581    bool
}

// UseReceived reports whether the dialogue should trust the received source
// address over the Contact-derived one for responses/re-INVITEs.
func (p Policy) UseReceived(dest net.IP) bool {
	switch p.NAT {
	case config.NATAlways:
		return true
	case config.NATRoute:
		return p.LocalNet == nil || !p.LocalNet.Contains(dest)
	default:
		return false
	}
}

// Resolver implements the spec §4.3 three-step local-address probe plus
// optional STUN discovery.
type Resolver struct {
	cfg *config.Config

	mu         sync.RWMutex
	externIP   net.IP
	lastRefresh time.Time

	listeners []net.Addr // bound listener addresses, for step 3's "find any listener of the same family"
}

func NewResolver(cfg *config.Config, listeners []net.Addr) *Resolver {
	r := &Resolver{cfg: cfg, listeners: listeners}
	if cfg.ExternIP != "" {
		r.externIP = net.ParseIP(cfg.ExternIP)
	}
	return r
}

// RefreshExternHost re-resolves config.ExternHost if ExternRefresh has
// elapsed since the last lookup, per spec §4.3 step 1.
func (r *Resolver) RefreshExternHost(resolver *net.Resolver) error {
	if r.cfg.ExternHost == "" {
		return nil
	}
	r.mu.RLock()
	stale := time.Since(r.lastRefresh) >= r.cfg.ExternRefresh
	r.mu.RUnlock()
	if !stale && !r.lastRefresh.IsZero() {
		return nil
	}

	ips, err := resolver.LookupIP(context.Background(), "ip", r.cfg.ExternHost)
	if err != nil {
		return err
	}
	if len(ips) == 0 {
		return nil
	}
	r.mu.Lock()
	r.externIP = ips[0]
	r.lastRefresh = time.Now()
	r.mu.Unlock()
	return nil
}

// LocalAddress implements spec §4.3 step 1/2/3: choose the local address L
// to bind for an outbound dialogue to destination A.
func (r *Resolver) LocalAddress(dest *net.UDPAddr, localNet *net.IPNet) (net.Addr, error) {
	// Step 1: local or externip/externhost configured.
	if localNet != nil && localNet.Contains(dest.IP) {
		return r.pickListenerFor(dest)
	}
	r.mu.RLock()
	ext := r.externIP
	r.mu.RUnlock()
	if ext != nil {
		return &net.UDPAddr{IP: ext, Port: r.defaultPort()}, nil
	}

	// Step 2: connect(2) a throwaway socket and read the kernel-assigned
	// source address.
	conn, err := net.Dial("udp", dest.String())
	if err != nil {
		return r.pickListenerFor(dest)
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr)

	// Step 3: if that address has no bound listener, fall back to any
	// listener of the same family (or v4-mapped-v6).
	for _, l := range r.listeners {
		if ua, ok := l.(*net.UDPAddr); ok && ua.IP.Equal(local.IP) {
			return local, nil
		}
	}
	return r.pickListenerFor(dest)
}

func (r *Resolver) pickListenerFor(dest *net.UDPAddr) (net.Addr, error) {
	wantV4 := dest.IP.To4() != nil
	var v6Fallback net.Addr
	for _, l := range r.listeners {
		ua, ok := l.(*net.UDPAddr)
		if !ok {
			continue
		}
		isV4 := ua.IP.To4() != nil
		if isV4 == wantV4 {
			return l, nil
		}
		if !isV4 {
			v6Fallback = l
		}
	}
	if !wantV4 && v6Fallback != nil {
		return v6Fallback, nil
	}
	if wantV4 && v6Fallback != nil {
		// Map IPv4 destination onto the v6 listener (v4-mapped-v6), per spec
		// §4.3 step 3's fallback.
		return v6Fallback, nil
	}
	if len(r.listeners) > 0 {
		return r.listeners[0], nil
	}
	return nil, errNoListener
}

func (r *Resolver) defaultPort() int {
	for _, l := range r.listeners {
		if ua, ok := l.(*net.UDPAddr); ok {
			return ua.Port
		}
	}
	return 5060
}

// DiscoverSTUN issues a STUN binding request on conn toward dest and
// returns the externally visible address, per spec §4.3 "If STUN is
// configured ...".
func (r *Resolver) DiscoverSTUN(conn net.PacketConn) (*net.UDPAddr, error) {
	if r.cfg.STUNServer == "" {
		return nil, errNoSTUNServer
	}
	server, err := net.ResolveUDPAddr("udp", r.cfg.STUNServer)
	if err != nil {
		return nil, err
	}
	return transport.StunProbe(conn, server, 2*time.Second)
}

var errNoListener = addrErr("addressing: no matching listener")
var errNoSTUNServer = addrErr("addressing: no STUN server configured")

type addrErr string

func (e addrErr) Error() string { return string(e) }
