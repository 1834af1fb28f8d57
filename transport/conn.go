package transport

import (
	"bytes"
	"net"
	"sync"

	"github.com/mjagdis/sipcore/sip"
)

// Connection abstracts a UDP socket (bound listener or connected client
// socket) that can marshal and send a SIP message.
type Connection interface {
	// WriteMsg marshals msg and sends it.
	WriteMsg(msg sip.Message) error
	// LocalAddr returns the local address this connection sends from.
	LocalAddr() net.Addr
	// Ref increases/decreases the reference count of a connected client
	// socket to avoid closing it too early while in-flight requests still
	// reference it. Returns the ref count after the change.
	Ref(i int) int
	// TryClose decrements the reference count and, if it reaches zero,
	// closes the connection. Returns the ref count after the decrement.
	TryClose() (int, error)

	Close() error
}

var bufPool = sync.Pool{
	New: func() interface{} {
		b := new(bytes.Buffer)
		return b
	},
}
