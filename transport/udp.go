package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/mjagdis/sipcore/parser"
	"github.com/mjagdis/sipcore/sip"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

var (
	// UDPReadWorkers defines how many listeners will work.
	// Best performance is achieved with low value, to remove high concurrency.
	UDPReadWorkers int = 1

	UDPMTUSize = 1500

	ErrUDPMTUCongestion = errors.New("size of packet larger than MTU")
)

const transportBufferSize = 65535

// UDPTransport implements the per-connection UDP receive loop of spec §4.2
// (component C2): it demultiplexes STUN from SIP datagrams and, for SIP
// datagrams, records both the remote source address and (via pktinfo.go)
// the local destination address the kernel delivered it to.
type UDPTransport struct {
	parser *parser.Parser

	pool      ConnectionPool
	listeners []*UDPConnection

	// OnSTUN, if set, receives raw STUN datagrams instead of having them
	// dropped. Used by package addressing to read STUN binding responses
	// off the same socket used for SIP (spec §4.3).
	OnSTUN func(data []byte, src net.Addr, pc net.PacketConn)

	log zerolog.Logger
}

func NewUDPTransport(par *parser.Parser) *UDPTransport {
	p := &UDPTransport{
		parser: par,
		pool:   NewConnectionPool(),
	}
	p.log = log.Logger.With().Str("caller", "transport<UDP>").Logger()
	return p
}

func (t *UDPTransport) String() string {
	return "transport<UDP>"
}

func (t *UDPTransport) Network() string {
	return TransportUDP
}

func (t *UDPTransport) Close() error {
	t.pool.Clear()
	return nil
}

// Serve starts the receive loop on an already-bound PacketConn.
// UDPReadWorkers can add extra reader goroutines on the same socket.
func (t *UDPTransport) Serve(conn net.PacketConn, handler sip.MessageHandler) error {
	t.log.Debug().Msgf("begin listening on %s %s", t.Network(), conn.LocalAddr().String())

	c := &UDPConnection{PacketConn: conn, PacketAddr: conn.LocalAddr().String()}
	c.p4, c.p6 = enablePktinfo(conn)
	t.listeners = append(t.listeners, c)

	for i := 0; i < UDPReadWorkers-1; i++ {
		go t.readConnection(c, handler)
	}
	t.readConnection(c, handler)

	return nil
}

func (t *UDPTransport) ResolveAddr(addr string) (net.Addr, error) {
	return net.ResolveUDPAddr("udp", addr)
}

// GetConnection returns the listener connection (so writes go out of our
// single bound socket) or, failing that, a pooled client connection toward
// addr.
func (t *UDPTransport) GetConnection(addr string) (Connection, error) {
	for _, l := range t.listeners {
		if l.PacketAddr == addr {
			return l, nil
		}
	}

	if conn := t.pool.Get(addr); conn != nil {
		return conn, nil
	}

	return nil, nil
}

// CreateConnection dials a throwaway connected UDP socket toward addr. This
// is also how package addressing performs the spec §4.3 step-2 probe
// ("connect(2) a throwaway UDP socket to A and read the kernel-assigned
// source address via getsockname") — Connection.LocalAddr exposes that.
func (t *UDPTransport) CreateConnection(addr string, handler sip.MessageHandler) (Connection, error) {
	d := net.Dialer{}
	udpconn, err := d.DialContext(context.Background(), "udp", addr)
	if err != nil {
		return nil, err
	}

	c := &UDPConnection{
		Conn:     udpconn,
		refcount: 1,
	}

	t.log.Debug().Str("raddr", addr).Msg("new connection")

	t.pool.Add(addr, c)
	go t.readConnectedConnection(c, handler)
	return c, nil
}

func (t *UDPTransport) readConnection(conn *UDPConnection, handler sip.MessageHandler) {
	buf := make([]byte, transportBufferSize)
	defer conn.Close()

	var lastRaddr string
	for {
		num, raddr, dst, err := readFromPktinfo(conn, buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				t.log.Debug().Err(err).Msg("read connection closed")
				return
			}
			t.log.Error().Err(err).Msg("read connection error")
			return
		}

		data := buf[:num]
		if len(bytes.Trim(data, "\x00")) == 0 {
			continue
		}

		// Spec §4.2: "demultiplex STUN (first two bytes < 0x20 ⇒ STUN) from
		// SIP." STUN Binding requests/responses have their first byte's top
		// two bits clear (message type 0x0001/0x0101), so the first byte is
		// always < 0x20; SIP messages start with an ASCII method/version
		// token, always >= 0x20.
		if len(data) >= 2 && data[0] < 0x20 {
			if t.OnSTUN != nil {
				t.OnSTUN(append([]byte(nil), data...), raddr, conn.PacketConn)
			}
			continue
		}

		rastr := raddr.String()
		if lastRaddr != rastr {
			t.pool.Add(rastr, conn)
		}

		t.parseAndHandle(data, rastr, dst, handler)
		lastRaddr = rastr
	}
}

func (t *UDPTransport) readConnectedConnection(conn *UDPConnection, handler sip.MessageHandler) {
	buf := make([]byte, transportBufferSize)
	raddr := conn.Conn.RemoteAddr().String()
	defer t.pool.CloseAndDelete(conn, raddr)

	for {
		num, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				t.log.Debug().Err(err).Msg("read connection closed")
				return
			}
			t.log.Error().Err(err).Msg("read connection error")
			return
		}

		data := buf[:num]
		if len(bytes.Trim(data, "\x00")) == 0 {
			continue
		}

		if len(data) >= 2 && data[0] < 0x20 {
			if t.OnSTUN != nil {
				t.OnSTUN(append([]byte(nil), data...), conn.Conn.RemoteAddr(), nil)
			}
			continue
		}

		t.parseAndHandle(data, raddr, "", handler)
	}
}

func (t *UDPTransport) parseAndHandle(data []byte, src string, dst string, handler sip.MessageHandler) {
	if len(data) <= 4 {
		if len(bytes.Trim(data, "\r\n")) == 0 {
			t.log.Debug().Msg("keep alive CRLF received")
			return
		}
	}

	msg, err := t.parser.ParseSIP(data) // Very expensive operation.
	if err != nil {
		t.log.Error().Err(err).Str("data", string(data)).Msg("failed to parse")
		return
	}

	msg.SetTransport(TransportUDP)
	msg.SetSource(src)
	// §4.2: record ouraddr (local destination), captured via
	// IP_PKTINFO/IPV6_PKTINFO when the listening socket is bound to a
	// wildcard address.
	if dst != "" {
		msg.SetDestination(dst)
	}
	handler(msg)
}

type UDPConnection struct {
	PacketConn net.PacketConn
	PacketAddr string // For faster matching.

	Conn net.Conn

	// p4/p6 are set by enablePktinfo for listener sockets; at most one is
	// non-nil, matching the bound address's family.
	p4 *ipv4.PacketConn
	p6 *ipv6.PacketConn

	mu       sync.RWMutex
	refcount int
}

func (c *UDPConnection) LocalAddr() net.Addr {
	if c.Conn != nil {
		return c.Conn.LocalAddr()
	}
	return c.PacketConn.LocalAddr()
}

func (c *UDPConnection) Ref(i int) int {
	if c.Conn == nil {
		return 0
	}
	c.mu.Lock()
	c.refcount += i
	ref := c.refcount
	c.mu.Unlock()
	return ref
}

func (c *UDPConnection) Close() error {
	if c.Conn == nil {
		return nil
	}
	c.mu.Lock()
	c.refcount = 0
	c.mu.Unlock()
	return c.Conn.Close()
}

func (c *UDPConnection) TryClose() (int, error) {
	if c.Conn == nil {
		return 0, nil
	}

	c.mu.Lock()
	c.refcount--
	ref := c.refcount
	c.mu.Unlock()
	if ref > 0 {
		return ref, nil
	}
	if ref < 0 {
		return 0, nil
	}
	return 0, c.Conn.Close()
}

func (c *UDPConnection) Read(b []byte) (n int, err error) {
	return c.Conn.Read(b)
}

func (c *UDPConnection) Write(b []byte) (n int, err error) {
	return c.Conn.Write(b)
}

func (c *UDPConnection) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	return c.PacketConn.ReadFrom(b)
}

func (c *UDPConnection) WriteTo(b []byte, addr net.Addr) (n int, err error) {
	return c.PacketConn.WriteTo(b, addr)
}

func (c *UDPConnection) WriteMsg(msg sip.Message) error {
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	msg.StringWrite(buf)
	data := buf.Bytes()

	if len(data) > UDPMTUSize-200 {
		return ErrUDPMTUCongestion
	}

	var n int
	var err error
	if c.Conn != nil {
		n, err = c.Write(data)
		if err != nil {
			return fmt.Errorf("conn %s write err=%w", c.Conn.LocalAddr().String(), err)
		}
	} else {
		dst := msg.Destination()
		host, port, perr := sip.ParseAddr(dst)
		if perr != nil {
			return perr
		}
		raddr := net.UDPAddr{IP: net.ParseIP(host), Port: port}

		n, err = c.WriteTo(data, &raddr)
		if err != nil {
			return fmt.Errorf("udp conn %s err. %w", c.PacketConn.LocalAddr().String(), err)
		}
	}

	if n == 0 {
		return fmt.Errorf("wrote 0 bytes")
	}
	if n != len(data) {
		return fmt.Errorf("fail to write full message")
	}
	return nil
}
