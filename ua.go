package sipgo

import (
	"context"
	"net"
	"strings"

	"github.com/mjagdis/sipcore/sip"
	"github.com/mjagdis/sipcore/transaction"
	"github.com/mjagdis/sipcore/transport"
)

type UserAgent struct {
	name     string
	ip       net.IP
	host     string
	hostname string
	port     int

	dnsResolver *net.Resolver
	tp          *transport.Layer
	tx          *transaction.Layer
}

type UserAgentOption func(s *UserAgent) error

func WithUserAgent(ua string) UserAgentOption {
	return func(s *UserAgent) error {
		s.name = ua
		return nil
	}
}

// WithUserAgentHostname sets the hostname used in the From header of
// requests this UA originates, independent of the transport-level host
// used for Via/Contact (see WithClientHostname).
func WithUserAgentHostname(hostname string) UserAgentOption {
	return func(s *UserAgent) error {
		s.hostname = hostname
		return nil
	}
}

func WithIP(ip string) UserAgentOption {
	return func(s *UserAgent) error {
		host, _, err := net.SplitHostPort(ip)
		if err != nil {
			return err
		}
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return err
		}
		return s.setIP(addr.IP)
	}
}

func WithDNSResolver(r *net.Resolver) UserAgentOption {
	return func(s *UserAgent) error {
		s.dnsResolver = r
		return nil
	}
}

func WithUDPDNSResolver(dns string) ServerOption {
	return func(s *Server) error {
		s.dnsResolver = &net.Resolver{
			PreferGo: true,
			Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
				d := net.Dialer{}
				return d.DialContext(ctx, "udp", dns)
			},
		}
		return nil
	}
}

func NewUA(options ...UserAgentOption) (*UserAgent, error) {
	s := &UserAgent{}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	if s.ip == nil {
		v, err := sip.ResolveSelfIP()
		if err != nil {
			return nil, err
		}
		if err := s.setIP(v); err != nil {
			return nil, err
		}
	}

	s.tp = transport.NewLayer(s.dnsResolver)
	s.tx = transaction.NewLayer(s.tp)
	return s, nil
}

// TransportLayer returns the transport layer used by this user agent.
func (ua *UserAgent) TransportLayer() *transport.Layer {
	return ua.tp
}

// Close shuts down the transaction and transport layers owned by this
// user agent. It should be called once the UA is no longer needed.
func (ua *UserAgent) Close() error {
	ua.tx.Close()
	return ua.tp.Close()
}

// Listen adds listener for serve
func (ua *UserAgent) setIP(ip net.IP) (err error) {
	ua.ip = ip
	ua.host = strings.Split(ip.String(), ":")[0]
	return err
}
