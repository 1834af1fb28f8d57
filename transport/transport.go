package transport

import (
	"strings"

	"github.com/mjagdis/sipcore/sip"
)

const (
	// TransportUDP is the only wire transport this core supports, per
	// spec §1 Non-goals (no TCP/TLS transport).
	TransportUDP = "UDP"
)

// Transport implements network-specific send/receive features. UDPTransport
// is the sole implementation; the interface stays narrow so it only
// describes what Layer actually drives.
type Transport interface {
	Network() string
	GetConnection(addr string) (Connection, error)
	CreateConnection(addr string, handler sip.MessageHandler) (Connection, error)
	String() string
	Close() error
}

var _ Transport = (*UDPTransport)(nil)

// NetworkToLower normalizes a transport name to lowercase without paying
// for a generic strings.ToLower call in the common case.
func NetworkToLower(network string) string {
	switch network {
	case "UDP":
		return "udp"
	case "udp":
		return "udp"
	default:
		return strings.ToLower(network)
	}
}

// IsReliable always returns false: the only transport this core drives is
// UDP, which retransmits at the transaction layer rather than relying on
// the wire protocol.
func IsReliable(network string) bool {
	return false
}
