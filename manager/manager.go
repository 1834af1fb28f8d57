// Package manager implements the manager-event bus spec §6.4 requires:
// Registry, PeerStatus, Hold/Unhold, and PeerEntry/PeerListComplete events.
//
// Grounded on the pack's typed event-bus idiom — sebacius's
// internal/signaling/events/{subjects,builder}.go builds named, typed event
// structs fanned out over a channel rather than a stringly-typed pubsub.
package manager

import "time"

// EventName identifies one of the four manager event families from spec
// §6.4.
type EventName string

const (
	EventRegistry        EventName = "Registry"
	EventPeerStatus      EventName = "PeerStatus"
	EventHold            EventName = "Hold"
	EventUnhold          EventName = "Unhold"
	EventPeerEntry       EventName = "PeerEntry"
	EventPeerListComplete EventName = "PeerListComplete"
)

// Event is one manager-interface event, carrying the fields appropriate to
// its Name.
type Event struct {
	Name   EventName
	Time   time.Time
	Fields map[string]string
}

// RegistryEvent builds the "Registry" event (Channel=SIP, Username, Domain,
// Status).
func RegistryEvent(username, domain, status string) Event {
	return Event{Name: EventRegistry, Fields: map[string]string{
		"Channel":  "SIP",
		"Username": username,
		"Domain":   domain,
		"Status":   status,
	}}
}

// PeerStatusEvent builds the "PeerStatus" event (Peer, PeerStatus, [Cause]).
func PeerStatusEvent(peer, status, cause string) Event {
	f := map[string]string{"Peer": peer, "PeerStatus": status}
	if cause != "" {
		f["Cause"] = cause
	}
	return Event{Name: EventPeerStatus, Fields: f}
}

// HoldEvent builds a "Hold" or "Unhold" event (Channel, Uniqueid).
func HoldEvent(held bool, channel, uniqueID string) Event {
	name := EventUnhold
	if held {
		name = EventHold
	}
	return Event{Name: name, Fields: map[string]string{
		"Channel":  channel,
		"Uniqueid": uniqueID,
	}}
}

// PeerEntryEvent builds one "PeerEntry" row of a "SIPpeers" action reply.
func PeerEntryEvent(peer, status, addr string) Event {
	return Event{Name: EventPeerEntry, Fields: map[string]string{
		"ObjectName":  peer,
		"Status":      status,
		"IPaddress":   addr,
	}}
}

// PeerListCompleteEvent terminates a "SIPpeers" action reply.
func PeerListCompleteEvent(count int) Event {
	return Event{Name: EventPeerListComplete, Fields: map[string]string{
		"ListItems": itoa(count),
	}}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Bus is a fan-out publisher. A send to a full subscriber channel drops the
// oldest buffered event rather than blocking, so a slow manager-interface
// consumer can never stall the monitor goroutine (spec §5: "no operation
// blocks indefinitely").
type Bus struct {
	subs []chan Event
	cap  int
}

// NewBus creates a Bus whose per-subscriber buffer holds bufSize events.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{cap: bufSize}
}

// Subscribe returns a new channel that receives every future Publish.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.cap)
	b.subs = append(b.subs, ch)
	return ch
}

// Publish fans e out to every subscriber, stamping Time if unset.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = timeNow()
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// drop-oldest: make room, then retry once.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

var timeNow = func() time.Time { return time.Now() }
