// Package dialog implements the dialogue state machine component (spec
// §2 C5, §3 "Dialogue", §4.5): it locates or creates a Dialog for an
// inbound or outbound request, tracks CSeq/tag/route-set/media state across
// the dialogue's lifetime, and owns the mutual weak reference a Dialog and
// its cw_channel hold of each other so either may be torn down first.
//
// Grounded on the root package's Dialog/DialogServerSession bookkeeping
// (CSeq tracking, atomic state, context cancellation) generalized from a
// single INVITE transaction's lifetime to the full multi-request dialogue
// model spec §3 describes, plus forked-response tag resolution (spec §8
// scenario S4) and directly-bridged media (spec §4.6) that the teacher's
// generic dialog plumbing never had to deal with.
package dialog

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mjagdis/sipcore/channel"
	"github.com/mjagdis/sipcore/media"
	"github.com/mjagdis/sipcore/peer"
	"github.com/mjagdis/sipcore/scheduler"
)

// State is the dialogue lifecycle state, per spec §3 "Dialogue" state list.
type State int32

const (
	StateInit State = iota
	StateEarly
	StateConfirmed
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateEarly:
		return "EARLY"
	case StateConfirmed:
		return "CONFIRMED"
	case StateEnded:
		return "ENDED"
	default:
		return "INIT"
	}
}

// SubscriptionType enumerates the event packages a Dialog created by
// SUBSCRIBE may track, per spec §4.5 SUBSCRIBE/NOTIFY.
type SubscriptionType int

const (
	SubscriptionNone SubscriptionType = iota
	SubscriptionDialogInfo
	SubscriptionMessageSummary
	SubscriptionPresence
)

// T38State tracks the fax-switchover state machine from spec §4.6/scenario
// S5: a voice dialogue starts T38Unknown, moves to T38OfferReceivedReinvite
// when a re-INVITE proposes image/udptl media, and to T38Negotiated once the
// 200 OK answer for that re-INVITE has gone out.
type T38State int32

const (
	T38Unknown T38State = iota
	T38OfferReceivedReinvite
	T38Negotiated
)

func (s T38State) String() string {
	switch s {
	case T38OfferReceivedReinvite:
		return "OFFER_RECEIVED_REINVITE"
	case T38Negotiated:
		return "NEGOTIATED"
	default:
		return "UNKNOWN"
	}
}

// HintSource supplies the current NOTIFY body for a subscription, queried
// by the NOTIFY handler on every subscription refresh or state change
// (spec §4.5 "NOTIFY carries the current value of whatever the Event
// package names"). Implementations live outside this package (e.g. an MWI
// mailbox count source, a dialog-info BLF source) and are supplied to a
// Dialog at subscribe time.
type HintSource interface {
	Hint(subType SubscriptionType, target string) (body []byte, contentType string, err error)
}

// WeakRef is the mutual weak handle a Dialog and its owning cw_channel keep
// of each other (spec §3 Ownership: "either may outlive the other briefly;
// both must check the weak link before use"). It is channel.WeakRef under
// the hood so both packages share one upgrade/clear implementation.
type WeakRef = channel.WeakRef[channel.Channel]

var (
	ErrNoChannel          = errors.New("dialog: channel reference cleared")
	ErrRebridgeNotAllowed = errors.New("dialog: both peers must allow direct re-INVITE for rebridge")
)

// Dialog is one SIP dialogue (spec §3): the Call-ID/tag pair plus everything
// that must survive across the requests exchanged within it.
type Dialog struct {
	ID       string
	CallID   string
	LocalTag string

	mu         sync.Mutex
	remoteTag  string
	routeSet   []string // Record-Route, reversed onto outbound requests
	forkedTags map[string]struct{} // candidate remote tags seen before a final 2xx

	Peer       *peer.Peer
	channelRef *WeakRef
	Media      media.Set
	SubType    SubscriptionType
	Hints      HintSource

	t38state atomic.Int32

	localCSeq  atomic.Uint32
	remoteCSeq atomic.Uint32

	state     atomic.Int32
	createdAt time.Time

	autodestroy *scheduler.Task
}

// New creates a Dialog in StateInit for callID, owned by p (nil for
// peer-less dialogs such as a MESSAGE outside any call).
func New(id, callID, localTag string, p *peer.Peer) *Dialog {
	d := &Dialog{
		ID:        id,
		CallID:    callID,
		LocalTag:  localTag,
		Peer:      p,
		createdAt: time.Now(),
	}
	d.state.Store(int32(StateInit))
	return d
}

// BindChannel establishes the mutual weak reference between d and ch, per
// spec §3 Ownership.
func (d *Dialog) BindChannel(ch channel.Channel) {
	d.mu.Lock()
	d.channelRef = channel.NewWeakRef(&ch)
	d.mu.Unlock()
}

// Channel upgrades the weak channel reference, reporting ErrNoChannel if the
// channel side has already cleared it (e.g. hung up and been destroyed).
func (d *Dialog) Channel() (channel.Channel, error) {
	d.mu.Lock()
	ref := d.channelRef
	d.mu.Unlock()
	if ref == nil {
		return nil, ErrNoChannel
	}
	ptr, ok := ref.Upgrade()
	if !ok || ptr == nil {
		return nil, ErrNoChannel
	}
	return *ptr, nil
}

// ClearChannel drops this side of the weak reference, e.g. when the channel
// is destroyed before the dialogue tears down.
func (d *Dialog) ClearChannel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channelRef != nil {
		d.channelRef.Clear()
	}
}

func (d *Dialog) State() State { return State(d.state.Load()) }

// setState moves the dialogue forward and cancels the autodestroy timer on
// entry to StateEnded, per spec §3 lifecycle ("on BYE or timeout the
// dialogue is torn down and its autodestroy timer, if any, is cancelled").
func (d *Dialog) setState(s State) {
	old := d.state.Swap(int32(s))
	if old == int32(s) {
		return
	}
	if s == StateEnded {
		if t := d.autodestroy; t != nil {
			t.Cancel()
		}
	}
}

// Establish transitions an early dialogue to confirmed on receipt of ACK or
// a 2xx final response, recording the winning remote tag.
func (d *Dialog) Establish(remoteTag string) {
	d.mu.Lock()
	d.remoteTag = remoteTag
	d.mu.Unlock()
	d.setState(StateConfirmed)
}

func (d *Dialog) RemoteTag() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remoteTag
}

// End transitions the dialogue to ended, e.g. on BYE, CANCEL or RTP timeout.
func (d *Dialog) End() { d.setState(StateEnded) }

// SetAutodestroy arms the dialogue's autodestroy timer (spec §3/§5: a
// dialogue that never reaches StateConfirmed, or whose media has gone
// silent past the RTP timeout, is torn down by the scheduler rather than
// living forever). Any prior timer is cancelled first.
func (d *Dialog) SetAutodestroy(t *scheduler.Task) {
	d.mu.Lock()
	if d.autodestroy != nil {
		d.autodestroy.Cancel()
	}
	d.autodestroy = t
	d.mu.Unlock()
}

// NextLocalCSeq returns the next CSeq number to use for a request this side
// originates within the dialogue.
func (d *Dialog) NextLocalCSeq() uint32 { return d.localCSeq.Add(1) }

// SeedLocalCSeq sets the starting CSeq (the INVITE's own CSeq number), per
// spec §8 invariant "CSeq is monotonically increasing per dialogue".
func (d *Dialog) SeedLocalCSeq(n uint32) { d.localCSeq.Store(n) }

// CheckRemoteCSeq enforces monotonicity on inbound in-dialogue requests
// (spec §8 invariant 1): returns false if seq does not strictly increase
// the last seen remote CSeq, true (and records seq) otherwise. ACK/CANCEL
// share the CSeq of the request they accompany and are exempt by the
// caller not invoking this check for them.
func (d *Dialog) CheckRemoteCSeq(seq uint32) bool {
	for {
		last := d.remoteCSeq.Load()
		if seq <= last && last != 0 {
			return false
		}
		if d.remoteCSeq.CompareAndSwap(last, seq) {
			return true
		}
	}
}

// SetRouteSet stores the (already direction-corrected) route set this
// dialogue must place on subsequent requests, per spec §4.5 "the route set
// is fixed at dialogue creation from Record-Route, reversed for the UAS
// side, and reused verbatim for every subsequent request".
func (d *Dialog) SetRouteSet(routes []string) {
	d.mu.Lock()
	d.routeSet = routes
	d.mu.Unlock()
}

func (d *Dialog) RouteSet() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.routeSet))
	copy(out, d.routeSet)
	return out
}

// T38() reports the dialogue's current fax-switchover state.
func (d *Dialog) T38() T38State { return T38State(d.t38state.Load()) }

// ReceiveT38Reinvite records that a re-INVITE proposing T.38 image media has
// arrived mid-call (spec §4.6 scenario S5: "UNKNOWN -> OFFER_RECEIVED_REINVITE").
// It is a no-op, returning false, if the dialogue is already negotiating or
// has negotiated T.38, since a second concurrent switchover re-INVITE has
// nothing new to offer.
func (d *Dialog) ReceiveT38Reinvite() bool {
	return d.t38state.CompareAndSwap(int32(T38Unknown), int32(T38OfferReceivedReinvite))
}

// ConfirmT38 moves the dialogue to NEGOTIATED once the 200 OK answering the
// switchover re-INVITE has been sent, per spec §4.6 scenario S5.
func (d *Dialog) ConfirmT38() {
	d.t38state.CompareAndSwap(int32(T38OfferReceivedReinvite), int32(T38Negotiated))
}

// T38Active reports whether the dialogue's image media is currently carried
// as T.38 fax rather than audio.
func (d *Dialog) T38Active() bool { return d.T38() == T38Negotiated }

// addForkedTag records a candidate remote tag seen on a provisional or
// early-dialogue response before the dialogue has a winning tag, used by
// Registry.AdoptRemoteTag to resolve forking races (spec §8 scenario S4).
func (d *Dialog) addForkedTag(tag string) {
	d.mu.Lock()
	if d.forkedTags == nil {
		d.forkedTags = make(map[string]struct{})
	}
	d.forkedTags[tag] = struct{}{}
	d.mu.Unlock()
}
