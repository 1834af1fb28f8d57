package dialog

import (
	"sync"
)

// Registry indexes live dialogues by their full Call-ID/local-tag/remote-tag
// identity, plus a provisional Call-ID+local-tag-only index used while a
// forking proxy's branches haven't yet settled on one winning remote tag
// (spec §8 scenario S4).
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Dialog
	byProvisional map[string]*Dialog // keyed on callID+"|"+localTag
}

func NewRegistry() *Registry {
	return &Registry{
		byID:          make(map[string]*Dialog),
		byProvisional: make(map[string]*Dialog),
	}
}

func provisionalKey(callID, localTag string) string { return callID + "|" + localTag }

// CreateProvisional registers a Dialog keyed only by Call-ID+local-tag,
// before any remote tag is known (the state a UAC's dialogue is in between
// sending INVITE and receiving its first response with a To tag).
func (r *Registry) CreateProvisional(d *Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProvisional[provisionalKey(d.CallID, d.LocalTag)] = d
	if d.ID != "" {
		r.byID[d.ID] = d
	}
}

// Add registers an already fully-identified Dialog (both tags known), as
// happens for UAS dialogues created directly from an inbound INVITE.
func (r *Registry) Add(d *Dialog) {
	r.mu.Lock()
	r.byID[d.ID] = d
	r.mu.Unlock()
}

func (r *Registry) Lookup(id string) (*Dialog, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// Remove drops a dialogue from every index it might appear under.
func (r *Registry) Remove(d *Dialog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, d.ID)
	delete(r.byProvisional, provisionalKey(d.CallID, d.LocalTag))
}

// AdoptRemoteTag resolves the forked-response tag race from spec §8
// scenario S4: a forking proxy can deliver several 18x/2xx responses to the
// same INVITE, each carrying a different To tag from a different forked
// branch. The dialogue created when the first response arrived is looked
// up by its provisional (Call-ID+local-tag) key; if remoteTag is a new tag
// for that dialogue, it is recorded as a fork candidate and the *existing*
// Dialog is returned unchanged (one Dialog per local branch, further forked
// tags are tracked but do not spawn new dialogues) until a 2xx arrives, at
// which point AdoptRemoteTag calls Establish with that winning tag and
// re-keys the dialogue under its final byID identity.
func (r *Registry) AdoptRemoteTag(callID, localTag, remoteTag string, final bool) (*Dialog, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byProvisional[provisionalKey(callID, localTag)]
	if !ok {
		return nil, false
	}

	d.addForkedTag(remoteTag)

	if !final {
		return d, true
	}

	// A final 2xx settles the race: this tag wins, re-key under the full
	// dialogue ID and drop the provisional entry so later forked 2xxs (if
	// any, e.g. a second Contact answering after the first) are recognised
	// as out-of-dialogue duplicates rather than matched to this Dialog.
	d.Establish(remoteTag)
	if d.ID != "" {
		delete(r.byID, d.ID)
	}
	d.ID = callID + "|" + localTag + "|" + remoteTag
	delete(r.byProvisional, provisionalKey(callID, localTag))
	r.byID[d.ID] = d
	return d, true
}

// Count returns the number of dialogues currently tracked, for diagnostics
// and tests.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
