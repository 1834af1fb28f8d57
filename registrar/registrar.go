// Package registrar implements C7's inbound half: the REGISTER binding
// store, persistence, and expiry/qualify scheduling, per spec §4.7
// "Registrar (inbound REGISTER)".
//
// Grounded on sebacius's internal/signaling/location/store.go (binding
// registry shape) and internal/signaling/registration/handler.go (the
// REGISTER-accept control flow); persistence format from spec §6.3, written
// through package kvstore.
package registrar

import (
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/mjagdis/sipcore/kvstore"
	"github.com/mjagdis/sipcore/manager"
	"github.com/mjagdis/sipcore/peer"
	"github.com/mjagdis/sipcore/scheduler"
)

// Binding is a registrar's record of one peer's current contact, per spec
// §3 "Binding registry" / "Registration (outbound)" value format.
type Binding struct {
	PeerName  string
	Contact   string
	Addr      net.Addr
	Expiry    time.Time
	UserAgent string

	expireTask *scheduler.Task
	qualifyTask *scheduler.Task
}

// Registrar binds REGISTER requests to peer addresses and persists them.
type Registrar struct {
	peers *peer.Registry
	store kvstore.Store
	bus   *manager.Bus
	sched *scheduler.Scheduler

	bindings map[string]*Binding
}

func New(peers *peer.Registry, store kvstore.Store, bus *manager.Bus, sched *scheduler.Scheduler) *Registrar {
	return &Registrar{
		peers:    peers,
		store:    store,
		bus:      bus,
		sched:    sched,
		bindings: make(map[string]*Binding),
	}
}

// ExpireRegisterGrace is the "expire_register" schedule offset, per spec
// §4.7: "Schedule expire_register at (expiry + 10s)".
const ExpireRegisterGrace = 10 * time.Second

// Register processes a successful inbound REGISTER: updates the binding,
// re-indexes by address if changed, persists (unless realtime-backed),
// emits PeerStatus: Registered, and schedules expiry + a qualify poke.
func (r *Registrar) Register(p *peer.Peer, contact string, addr net.Addr, expires time.Duration, userAgent string) *Binding {
	if old, ok := r.bindings[p.Name]; ok {
		if old.expireTask != nil {
			old.expireTask.Cancel()
		}
		if old.qualifyTask != nil {
			old.qualifyTask.Cancel()
		}
	}

	b := &Binding{
		PeerName:  p.Name,
		Contact:   contact,
		Addr:      addr,
		Expiry:    time.Now().Add(expires),
		UserAgent: userAgent,
	}
	r.bindings[p.Name] = b

	r.peers.Bind(p, addr)

	if !p.RTCached {
		host, portStr, _ := net.SplitHostPort(addr.String())
		var port int
		fmt.Sscanf(portStr, "%d", &port)
		value := kvstore.FormatBinding(host, port, b.Expiry, p.Name, contact)
		_ = r.store.Put(kvstore.RegistryNamespace, p.Name, value)
	}

	if r.bus != nil {
		r.bus.Publish(manager.RegistryEvent(p.Name, "", "Registered"))
		r.bus.Publish(manager.PeerStatusEvent(p.Name, "Registered", ""))
	}

	if r.sched != nil {
		b.expireTask = r.sched.After(expires+ExpireRegisterGrace, func() {
			r.expire(p, false)
		})
		qualifyDelay := time.Duration(1+rand.Intn(4)) * time.Second
		b.qualifyTask = r.sched.After(qualifyDelay, func() {
			// This callback is empty: no OPTIONS is sent from here.
			// Qualify probes are run by peer.QualifyLoop.
		})
	}

	return b
}

// Unregister handles a Contact:"*"/Expires:0 request (spec §8 boundary
// case: "unregister all bindings for this peer").
func (r *Registrar) Unregister(p *peer.Peer) {
	r.expire(p, true)
}

func (r *Registrar) expire(p *peer.Peer, explicit bool) {
	b, ok := r.bindings[p.Name]
	if !ok {
		return
	}
	delete(r.bindings, p.Name)

	selfDestruct := p.AutoCreated
	r.peers.Unbind(p, selfDestruct)
	_ = r.store.Delete(kvstore.RegistryNamespace, p.Name)

	if r.bus != nil {
		status := "Expired"
		if explicit {
			status = "Unregistered"
		}
		r.bus.Publish(manager.RegistryEvent(p.Name, "", status))
		r.bus.Publish(manager.PeerStatusEvent(p.Name, status, ""))
	}

	if b.expireTask != nil {
		b.expireTask.Cancel()
	}
	if b.qualifyTask != nil {
		b.qualifyTask.Cancel()
	}
}

// Lookup returns the current binding for a peer, if any.
func (r *Registrar) Lookup(peerName string) (*Binding, bool) {
	b, ok := r.bindings[peerName]
	return b, ok
}

// LoadPersisted restores bindings from the kvstore at startup, per spec §8
// "Registration persistence" round-trip law.
func (r *Registrar) LoadPersisted() error {
	return r.store.Iterate(kvstore.RegistryNamespace, func(key, value string) bool {
		addr, port, expiry, username, contact, err := kvstore.ParseBinding(value)
		if err != nil {
			return true
		}
		if time.Now().After(expiry) {
			_ = r.store.Delete(kvstore.RegistryNamespace, key)
			return true
		}
		p, ok := r.peers.LookupByName(key)
		if !ok {
			return true
		}
		udpAddr := &net.UDPAddr{IP: net.ParseIP(addr), Port: port}
		r.bindings[key] = &Binding{
			PeerName: key,
			Contact:  contact,
			Addr:     udpAddr,
			Expiry:   expiry,
		}
		r.peers.Bind(p, udpAddr)
		_ = username
		return true
	})
}
