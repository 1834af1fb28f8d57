package dialog

import (
	"fmt"
	"sync"
)

// ReinviteSender sends a re-INVITE redirecting d's media toward target
// (a "c=" address:port pair) and reports whether the peer accepted it. It
// is supplied by the caller (the INVITE/re-INVITE orchestration in the root
// package's Core) since sending a request requires the transaction layer,
// which this package does not depend on.
type ReinviteSender func(d *Dialog, target string) (accepted bool, err error)

// Bridge couples two legs of a call for the purposes of spec §4.6
// "Directly-bridged media": by default RTP/UDPTL is proxied through this
// process (each Dialog's media.Session talks only to its own leg), but
// when both peers allow it a Bridge can re-INVITE each leg directly at the
// other's address instead, removing this process from the media path.
type Bridge struct {
	mu      sync.Mutex
	A, B    *Dialog
	direct  bool
}

func NewBridge(a, b *Dialog) *Bridge {
	return &Bridge{A: a, B: b}
}

// Direct reports whether the bridge is currently running in direct-media
// mode (set by a successful Rebridge).
func (b *Bridge) Direct() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.direct
}

// Rebridge attempts to move both legs to direct media, per spec §4.6: both
// peers must have CanReinvite set (re-INVITE is not disallowed by their
// configuration/device capability), and both re-INVITEs must be accepted
// before the bridge is considered direct; a single rejection is rolled
// back by re-INVITE-ing the accepting leg back to this process's own
// address so media keeps flowing.
func (b *Bridge) Rebridge(send ReinviteSender) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.A.Peer == nil || b.B.Peer == nil {
		return ErrRebridgeNotAllowed
	}
	if !b.A.Peer.CanReinvite || !b.B.Peer.CanReinvite {
		return ErrRebridgeNotAllowed
	}

	aTarget := b.B.Media.Audio
	bTarget := b.A.Media.Audio
	if aTarget == nil || bTarget == nil {
		return fmt.Errorf("dialog: rebridge requires both legs to have negotiated audio media")
	}

	aAddr := aTarget.Peer()
	bAddr := bTarget.Peer()
	if aAddr == nil || bAddr == nil {
		return fmt.Errorf("dialog: rebridge requires both legs to have a resolved peer address")
	}

	okA, err := send(b.A, aAddr.String())
	if err != nil {
		return err
	}
	okB, err := send(b.B, bAddr.String())
	if err != nil {
		if okA {
			// Roll back the accepted leg: re-INVITE it back to our own
			// relay address (an empty target means "resume proxied media").
			send(b.A, "")
		}
		return err
	}

	if !okA || !okB {
		if okA {
			send(b.A, "")
		}
		if okB {
			send(b.B, "")
		}
		return ErrRebridgeNotAllowed
	}

	b.direct = true
	return nil
}

// Undo reverts a direct bridge back to proxied media, e.g. when one leg's
// media times out and must be re-homed through this process to re-arm RTP
// timeout detection.
func (b *Bridge) Undo(send ReinviteSender) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.direct {
		return nil
	}
	if _, err := send(b.A, ""); err != nil {
		return err
	}
	if _, err := send(b.B, ""); err != nil {
		return err
	}
	b.direct = false
	return nil
}
