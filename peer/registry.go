package peer

import (
	"net"
	"strconv"
	"sync"

	"github.com/mjagdis/sipcore/config"
)

// Registry holds the two concurrent lookup indexes spec §4.8 describes:
// by-name (users and peers) and by-address (peers only, used to match
// inbound requests from registered peers).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Peer
	byUser  map[string]*User
	byAddr  map[string]*Peer // "ip:port"
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Peer),
		byUser: make(map[string]*User),
		byAddr: make(map[string]*Peer),
	}
}

// AddPeer inserts or replaces a peer in the by-name index, and in the
// by-address index if it already has a bound address.
func (r *Registry) AddPeer(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name] = p
	if a := p.Addr(); a != nil {
		r.byAddr[a.String()] = p
	}
}

// AddUser inserts or replaces a user in the by-name index.
func (r *Registry) AddUser(u *User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[u.Name] = u
}

// LookupByName finds a peer by its configured name, used on outbound dial
// ("SIP/peername/ext" → peer).
func (r *Registry) LookupByName(name string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// LookupUser finds a user by From-URI user part.
func (r *Registry) LookupUser(name string) (*User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byUser[name]
	return u, ok
}

// LookupByAddr matches an inbound request's source address against a
// registered peer. It tries with-port first, then without port if the peer
// has InsecurePort set (spec §4.8: "Lookup tries with-port first, then
// without (if peer has INSECURE_PORT)").
func (r *Registry) LookupByAddr(addr *net.UDPAddr) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
	if p, ok := r.byAddr[key]; ok {
		return p, true
	}

	for _, p := range r.byAddr {
		if p.Insecure != config.InsecurePort && p.Insecure != config.InsecureVery {
			continue
		}
		if pa := p.Addr(); pa != nil {
			if host, _, err := net.SplitHostPort(pa.String()); err == nil && host == addr.IP.String() {
				return p, true
			}
		}
	}
	return nil, false
}

// Bind registers a REGISTER-derived address for a peer, re-indexing it in
// the by-address registry (spec §4.7 "If peer address changed, re-index in
// the by-address registry").
func (r *Registry) Bind(p *Peer, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := p.Addr(); old != nil {
		delete(r.byAddr, old.String())
	}
	p.SetAddr(addr)
	r.byAddr[addr.String()] = p
}

// Unbind clears a peer's address binding, e.g. on registration expiry, and
// removes the peer from the by-name index as well when selfDestruct is true
// (spec §4.7 "on expiry ... optionally self-destruct peer"). The caller
// decides selfDestruct; Unbind does not inspect the peer's flags.
func (r *Registry) Unbind(p *Peer, selfDestruct bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := p.Addr(); old != nil {
		delete(r.byAddr, old.String())
	}
	p.ClearAddr()
	if selfDestruct {
		delete(r.byName, p.Name)
	}
}

// PruneRealtime drops cached (non-RTCached-pinned) realtime-loaded entries
// from memory, per spec §4.8's "Prune-realtime CLI".
func (r *Registry) PruneRealtime() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for name, p := range r.byName {
		if p.AutoCreated && !p.RTCached {
			if a := p.Addr(); a != nil {
				delete(r.byAddr, a.String())
			}
			delete(r.byName, name)
			n++
		}
	}
	return n
}

// Peers returns a snapshot of all registered peers, for the "SIPpeers"
// manager action reply (spec §6.4 PeerEntry/PeerListComplete).
func (r *Registry) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}
