package sip

import "net"

// ResolveSelfIP returns the local IP address that would be used to reach
// the public internet, for building a default Contact/Via host when none
// is configured. Grounded in the standard "dial a UDP socket and inspect
// LocalAddr" idiom; no pack dependency covers this narrow a concern.
func ResolveSelfIP() (net.IP, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr := conn.LocalAddr().(*net.UDPAddr)
	return addr.IP, nil
}
