package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// enablePktinfo asks the kernel to attach IP_PKTINFO/IPV6_PKTINFO ancillary
// data to every datagram delivered on c, so a socket bound to a wildcard
// address can still report which local address a given packet arrived on
// (spec §4.2's "ouraddr"). Exactly one of the returned packet-conns is
// non-nil, matching c's address family; both are nil if the platform
// doesn't support per-packet destination reporting.
func enablePktinfo(c net.PacketConn) (p4 *ipv4.PacketConn, p6 *ipv6.PacketConn) {
	p4c := ipv4.NewPacketConn(c)
	if err := p4c.SetControlMessage(ipv4.FlagDst, true); err == nil {
		return p4c, nil
	}
	p6c := ipv6.NewPacketConn(c)
	if err := p6c.SetControlMessage(ipv6.FlagDst, true); err == nil {
		return nil, p6c
	}
	return nil, nil
}

// readFromPktinfo reads one datagram off conn's listener socket, returning
// the data length, the remote address, and the local destination address
// (host:port) the kernel reported via ancillary control data. dst is empty
// when pktinfo isn't available, in which case callers fall back to the
// socket's configured local address.
func readFromPktinfo(conn *UDPConnection, buf []byte) (n int, raddr net.Addr, dst string, err error) {
	port := localPort(conn.PacketConn)

	if conn.p4 != nil {
		var cm *ipv4.ControlMessage
		n, cm, raddr, err = conn.p4.ReadFrom(buf)
		if cm != nil && cm.Dst != nil {
			dst = net.JoinHostPort(cm.Dst.String(), port)
		}
		return n, raddr, dst, err
	}
	if conn.p6 != nil {
		var cm *ipv6.ControlMessage
		n, cm, raddr, err = conn.p6.ReadFrom(buf)
		if cm != nil && cm.Dst != nil {
			dst = net.JoinHostPort(cm.Dst.String(), port)
		}
		return n, raddr, dst, err
	}

	n, raddr, err = conn.PacketConn.ReadFrom(buf)
	return n, raddr, "", err
}

func localPort(pc net.PacketConn) string {
	_, port, err := net.SplitHostPort(pc.LocalAddr().String())
	if err != nil {
		return ""
	}
	return port
}
