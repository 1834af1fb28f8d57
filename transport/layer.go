package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strconv"

	"github.com/mjagdis/sipcore/sip"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNetworkNotSuported = errors.New("protocol not supported")
)

// Layer is the per-bound-address UDP multiplexer described in spec §4.2
// (component C2). Unlike the original multi-transport layer this is
// deliberately UDP-only per the spec's Non-goals (no TCP/TLS transport).
type Layer struct {
	udp *UDPTransport

	listenPorts map[int]struct{}
	dnsResolver *net.Resolver

	handlers []sip.MessageHandler

	log zerolog.Logger

	// Parser used by transport layer. It can be overridden before setting up
	// the network transport.
	Parser sip.Parser

	// DebugACL gates which sources produce verbose per-packet logging. It is
	// protected by its own reader-writer lock (see debug_acl.go) so debug
	// queries are wait-free on the hot receive path, per spec §4.2.
	DebugACL *DebugACL
}

// NewLayer creates the transport layer. dnsResolver resolves externhost
// refresh lookups (§4.3); sipparser is the C1 codec.
func NewLayer(dnsResolver *net.Resolver, sipparser sip.Parser) *Layer {
	l := &Layer{
		listenPorts: make(map[int]struct{}),
		dnsResolver: dnsResolver,
		Parser:      sipparser,
		DebugACL:    NewDebugACL(),
	}
	l.log = log.Logger.With().Str("caller", "transportlayer").Logger()
	l.udp = NewUDPTransport(sipparser)
	return l
}

// OnMessage registers h to be called for every parsed inbound message. C2
// delivers a parsed message (via C1) to C5 (spec §2 control flow).
func (l *Layer) OnMessage(h sip.MessageHandler) {
	l.handlers = append(l.handlers, h)
}

func (l *Layer) handleMessage(msg sip.Message) {
	if l.DebugACL.Allows(msg.Source()) {
		l.log.Debug().Str("src", msg.Source()).Str("msg", msg.Short()).Msg("packet")
	}
	for _, h := range l.handlers {
		h(msg)
	}
}

// ServeUDP listens on an already-bound PacketConn. Demultiplexing of STUN
// vs SIP datagrams (§4.2: "first two bytes < 0x20 ⇒ STUN") happens inside
// the UDP transport's read loop.
func (l *Layer) ServeUDP(c net.PacketConn) error {
	_, port, err := sip.ParseAddr(c.LocalAddr().String())
	if err != nil {
		return err
	}
	l.listenPorts[port] = struct{}{}
	return l.udp.Serve(c, l.handleMessage)
}

// ListenAndServe binds addr over UDP and serves it. This blocks.
func (l *Layer) ListenAndServe(ctx context.Context, addr string) error {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("fail to resolve address. err=%w", err)
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen udp error. err=%w", err)
	}

	go func() {
		<-ctx.Done()
		if err := udpConn.Close(); err != nil {
			l.log.Error().Err(err).Msg("failed to close listener")
		}
	}()

	return l.ServeUDP(udpConn)
}

func (l *Layer) WriteMsg(msg sip.Message) error {
	network := msg.Transport()
	addr := msg.Destination()
	return l.WriteMsgTo(msg, addr, network)
}

// WriteMsgTo sends msg toward addr. network is accepted for API parity with
// the rest of the stack but is always UDP here, per the spec's Non-goals.
func (l *Layer) WriteMsgTo(msg sip.Message, addr string, network string) error {
	var conn Connection
	var err error

	switch msg.(type) {
	case *sip.Request:
		conn, err = l.ClientRequestConnection(context.Background(), msg.(*sip.Request))
		if err != nil {
			return err
		}
		defer conn.TryClose()
	default:
		conn, err = l.GetConnection(network, addr)
		if err != nil {
			return err
		}
		if conn == nil {
			conn, err = l.CreateConnection(addr)
			if err != nil {
				return err
			}
		}
	}

	return conn.WriteMsg(msg)
}

// GetConnection returns the pooled UDP connection toward addr, if any.
// network is accepted for API parity and must be "udp" (case-insensitive)
// or empty.
func (l *Layer) GetConnection(network, addr string) (Connection, error) {
	if network != "" && NetworkToLower(network) != "udp" {
		return nil, ErrNetworkNotSuported
	}
	return l.udp.GetConnection(addr)
}

// CreateConnection creates a new UDP "connection" (a connected socket used
// only to learn a kernel-assigned source address and send datagrams; see
// spec §4.3 step 2) toward addr.
func (l *Layer) CreateConnection(addr string) (Connection, error) {
	return l.udp.CreateConnection(addr, l.handleMessage)
}

// ClientRequestConnection implements the connection-selection rules of
// RFC 3261 §18.1.1 for outbound requests: resolve the destination (with an
// RFC 3263-style SRV fallback when the host is a name, not an address),
// fill in the top Via's sent-by port from a bound listener if the request
// didn't set one, and reuse a pooled connection toward that destination
// when one exists.
func (l *Layer) ClientRequestConnection(ctx context.Context, req *sip.Request) (Connection, error) {
	addr := req.Destination()

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("build address target for %s: %w", addr, err)
	}

	if net.ParseIP(host) == nil {
		if _, addrs, err := l.dnsResolver.LookupSRV(ctx, "sip", "udp", host); err == nil && len(addrs) > 0 {
			a := addrs[0]
			addr = a.Target[:len(a.Target)-1] + ":" + strconv.Itoa(int(a.Port))
		}
	}

	viaHop, exists := req.Via()
	if !exists {
		return nil, fmt.Errorf("missing Via Header")
	}
	if viaHop.Port <= 0 {
		ports := l.ListenPorts()
		if len(ports) > 0 {
			viaHop.Port = ports[rand.Intn(len(ports))]
		} else {
			viaHop.Port = 5060
		}
	}

	if conn, _ := l.udp.GetConnection(addr); conn != nil {
		conn.Ref(1)
		return conn, nil
	}

	return l.udp.CreateConnection(addr, l.handleMessage)
}

// GetListenPort returns a bound listener port, or 0 if none is bound yet.
// network is accepted for API parity; it is ignored since UDP is the only
// transport this layer serves.
func (l *Layer) GetListenPort(network string) int {
	ports := l.ListenPorts()
	if len(ports) > 0 {
		return ports[0]
	}
	return 0
}

func (l *Layer) ListenPorts() []int {
	ports := make([]int, 0, len(l.listenPorts))
	for p := range l.listenPorts {
		ports = append(ports, p)
	}
	return ports
}

func (l *Layer) Close() error {
	return l.udp.Close()
}
