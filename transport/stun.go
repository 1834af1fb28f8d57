package transport

import (
	"encoding/binary"
	"errors"
	"net"
	"time"
)

// STUN constants (RFC 5389). No pack repo vendors a STUN library and the
// wire format this core needs is six fixed header words plus one attribute,
// so this is a deliberately minimal leaf encoder/decoder on stdlib
// encoding/binary, grounded on spec §4.3's "issue a STUN binding request".
const (
	stunMagicCookie      uint32 = 0x2112A442
	stunBindingRequest   uint16 = 0x0001
	stunBindingResponse  uint16 = 0x0101
	stunXorMappedAddress uint16 = 0x0020
	stunMappedAddress    uint16 = 0x0001
)

// ErrSTUNTimeout is returned when no STUN response arrives within the probe
// deadline.
var ErrSTUNTimeout = errors.New("transport: STUN probe timed out")

// StunProbe sends a STUN Binding Request over conn to server and returns the
// externally visible (addr, port) tuple the server observed, per spec §4.3
// ("issue a STUN binding request on the chosen socket ... to learn the
// externally visible (addr,port) tuple").
func StunProbe(conn net.PacketConn, server *net.UDPAddr, timeout time.Duration) (*net.UDPAddr, error) {
	var txID [12]byte
	if _, err := readRandom(txID[:]); err != nil {
		return nil, err
	}

	req := make([]byte, 20)
	binary.BigEndian.PutUint16(req[0:2], stunBindingRequest)
	binary.BigEndian.PutUint16(req[2:4], 0) // message length, no attributes
	binary.BigEndian.PutUint32(req[4:8], stunMagicCookie)
	copy(req[8:20], txID[:])

	if _, err := conn.WriteTo(req, server); err != nil {
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 512)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil, ErrSTUNTimeout
			}
			return nil, err
		}
		addr, ok := parseStunBindingResponse(buf[:n], txID)
		if ok {
			return addr, nil
		}
		// Not our transaction (or not STUN at all); keep listening until
		// deadline.
	}
}

func parseStunBindingResponse(data []byte, wantTxID [12]byte) (*net.UDPAddr, bool) {
	if len(data) < 20 {
		return nil, false
	}
	msgType := binary.BigEndian.Uint16(data[0:2])
	msgLen := binary.BigEndian.Uint16(data[2:4])
	cookie := binary.BigEndian.Uint32(data[4:8])
	if msgType != stunBindingResponse || cookie != stunMagicCookie {
		return nil, false
	}
	if int(msgLen)+20 > len(data) {
		return nil, false
	}
	for i := 0; i < 12; i++ {
		if data[8+i] != wantTxID[i] {
			return nil, false
		}
	}

	attrs := data[20 : 20+int(msgLen)]
	for len(attrs) >= 4 {
		atype := binary.BigEndian.Uint16(attrs[0:2])
		alen := binary.BigEndian.Uint16(attrs[2:4])
		if int(alen)+4 > len(attrs) {
			return nil, false
		}
		val := attrs[4 : 4+alen]

		switch atype {
		case stunXorMappedAddress:
			if addr, ok := decodeXorMappedAddress(val); ok {
				return addr, true
			}
		case stunMappedAddress:
			if addr, ok := decodeMappedAddress(val); ok {
				return addr, true
			}
		}

		padded := int(alen)
		if padded%4 != 0 {
			padded += 4 - padded%4
		}
		if padded+4 > len(attrs) {
			break
		}
		attrs = attrs[4+padded:]
	}
	return nil, false
}

func decodeMappedAddress(val []byte) (*net.UDPAddr, bool) {
	if len(val) < 8 || val[1] != 0x01 {
		return nil, false
	}
	port := binary.BigEndian.Uint16(val[2:4])
	ip := net.IP(append([]byte(nil), val[4:8]...))
	return &net.UDPAddr{IP: ip, Port: int(port)}, true
}

func decodeXorMappedAddress(val []byte) (*net.UDPAddr, bool) {
	if len(val) < 8 || val[1] != 0x01 {
		return nil, false
	}
	xport := binary.BigEndian.Uint16(val[2:4])
	port := xport ^ uint16(stunMagicCookie>>16)

	xaddr := binary.BigEndian.Uint32(val[4:8])
	addr := xaddr ^ stunMagicCookie
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)
	return &net.UDPAddr{IP: ip, Port: int(port)}, true
}

func readRandom(b []byte) (int, error) {
	return cryptoRandRead(b)
}
