// Package registrant implements C7's outbound half: the registrant state
// machine that sends and refreshes REGISTERs to a remote proxy, per spec
// §4.7 "Registrant (outbound REGISTER)".
//
// Grounded on arzzra's pkg/dialog/dialog.go initFSM shape (github.com/
// looplab/fsm, Events{Src/Dst}/Callbacks{"after_event"}) for the state
// machine, and flowpbx's use of golang.org/x/time/rate for outbound pacing.
package registrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"golang.org/x/time/rate"

	"github.com/mjagdis/sipcore/digest"
)

// State mirrors the spec §4.7 registration state diagram.
type State string

const (
	Unregistered State = "unregistered"
	RegSent      State = "regsent"
	AuthSent     State = "authsent"
	Registered   State = "registered"
	Rejected     State = "rejected"
	Timeout      State = "timeout"
	NoAuth       State = "noauth"
	Failed       State = "failed"
	Shutdown     State = "shutdown"
)

// ExpiryGuardSecs is the minimum guard window spec §4.7 mandates.
const ExpiryGuardSecs = 15 * time.Second

// RefreshGuard computes refresh = expires - guard(expires), per spec §4.7:
// "guard is max(EXPIRY_GUARD_SECS=15s, 20% of expires, min 500ms)".
func RefreshGuard(expires time.Duration) time.Duration {
	guard := ExpiryGuardSecs
	if pct := expires / 5; pct > guard {
		guard = pct
	}
	if guard < 500*time.Millisecond {
		guard = 500 * time.Millisecond
	}
	refresh := expires - guard
	if refresh < 0 {
		refresh = 0
	}
	return refresh
}

// GlobalRegTimeout is the default per-attempt response timeout (spec §4.7).
const GlobalRegTimeout = 20 * time.Second

// Sender issues the actual REGISTER and returns the response code plus,
// for a challenge, the parsed WWW-Authenticate header value.
type Sender func(ctx context.Context, authz string) (code int, wwwAuth string, err error)

// Registration is one outbound "register =>" entry's persistent state
// (spec §3 "Registration (outbound)").
type Registration struct {
	Username string
	Hostname string
	Port     int
	Password string
	Refresh  time.Duration

	CallID  string
	mu      sync.Mutex
	localSeq uint32

	// challenge is never set by this package. Run records the last
	// challenge's realm/nonce/opaque below, but every Run starts with an
	// unauthenticated REGISTER; the stored values are not reused.
	challenge *digest.NonceCache
	nonce, realm, qop, domain, opaque string

	attempts     int
	regAttemptsMax int

	fsm *fsm.FSM
}

// New creates a Registration with its callid fixed for the lifetime of this
// registrar relationship (spec §3: "the callid reused across all REGISTERs
// to this registrar (RFC 3261 §10.2)").
func New(username, hostname string, port int, password string, refresh time.Duration, callID string) *Registration {
	r := &Registration{
		Username: username,
		Hostname: hostname,
		Port:     port,
		Password: password,
		Refresh:  refresh,
		CallID:   callID,
	}
	r.initFSM()
	return r
}

func (r *Registration) initFSM() {
	r.fsm = fsm.NewFSM(
		string(Unregistered),
		fsm.Events{
			{Name: "send", Src: []string{string(Unregistered), string(Registered)}, Dst: string(RegSent)},
			{Name: "2xx", Src: []string{string(RegSent), string(AuthSent)}, Dst: string(Registered)},
			{Name: "challenge", Src: []string{string(RegSent)}, Dst: string(AuthSent)},
			{Name: "reject", Src: []string{string(RegSent), string(AuthSent)}, Dst: string(Rejected)},
			{Name: "auth_failed", Src: []string{string(AuthSent)}, Dst: string(Failed)},
			{Name: "timeout", Src: []string{string(RegSent), string(AuthSent)}, Dst: string(Timeout)},
			{Name: "refresh", Src: []string{string(Registered)}, Dst: string(Unregistered)},
			{Name: "shutdown", Src: []string{
				string(Unregistered), string(RegSent), string(AuthSent),
				string(Registered), string(Rejected), string(Timeout),
				string(NoAuth), string(Failed),
			}, Dst: string(Shutdown)},
		},
		fsm.Callbacks{},
	)
}

// CurrentState returns the registration's current state.
func (r *Registration) CurrentState() State {
	return State(r.fsm.Current())
}

func (r *Registration) nextSeq() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.localSeq++
	return r.localSeq
}

// Run drives one full attempt cycle: send REGISTER, handle 2xx / 401/407
// (with MAX_AUTHTRIES=digest.MaxAuthTries bound) / 4xx-6xx / timeout, per
// spec §4.5 and §4.7.
func (r *Registration) Run(ctx context.Context, send Sender) error {
	if err := r.fsm.Event(ctx, "send"); err != nil {
		return err
	}
	_ = r.nextSeq()

	ctx, cancel := context.WithTimeout(ctx, GlobalRegTimeout)
	defer cancel()

	code, wwwAuth, err := send(ctx, "")
	if err != nil {
		_ = r.fsm.Event(ctx, "timeout")
		return err
	}

	tries := 0
	for (code == 401 || code == 407) && tries < digest.MaxAuthTries {
		// Only the first challenge moves RegSent -> AuthSent; later ones
		// arrive while already in AuthSent.
		if tries == 0 {
			if err := r.fsm.Event(ctx, "challenge"); err != nil {
				return err
			}
		}
		chal, perr := digest.ParseChallenge(wwwAuth)
		if perr != nil {
			_ = r.fsm.Event(ctx, "auth_failed")
			return perr
		}
		r.realm, r.nonce, r.opaque = chal.Realm, chal.Nonce, chal.Opaque

		cred, derr := digest.BuildResponse(chal, "REGISTER", r.registerURI(), r.Username, r.Password)
		if derr != nil {
			_ = r.fsm.Event(ctx, "auth_failed")
			return derr
		}
		_ = r.nextSeq()
		code, wwwAuth, err = send(ctx, cred.String())
		if err != nil {
			_ = r.fsm.Event(ctx, "timeout")
			return err
		}
		tries++
	}

	switch {
	case code >= 200 && code < 300:
		r.attempts = 0
		return r.fsm.Event(ctx, "2xx")
	case code == 401 || code == 407:
		return r.fsm.Event(ctx, "auth_failed")
	default:
		r.attempts++
		return r.fsm.Event(ctx, "reject")
	}
}

func (r *Registration) registerURI() string {
	return fmt.Sprintf("sip:%s:%d", r.Hostname, r.Port)
}

// Scheduler holds the registrations added to it and a shared *rate.Limiter
// whose Allow paces outbound REGISTER attempts across all of them. It runs
// no timers: it does not send, refresh or retry registrations itself, and
// startup spacing is computed separately by Stagger.
type Scheduler struct {
	limiter *rate.Limiter
	regs    []*Registration
	mu      sync.Mutex
}

func NewScheduler(limiter *rate.Limiter) *Scheduler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(20), 20)
	}
	return &Scheduler{limiter: limiter}
}

// Stagger spaces registrations evenly over defaultExpiry, per spec §4.7
// "Startup": "space registrations evenly over default-expiry so they don't
// bunch". It returns the initial delay before each registration's first
// send.
func Stagger(regs []*Registration, defaultExpiry time.Duration) []time.Duration {
	delays := make([]time.Duration, len(regs))
	if len(regs) == 0 {
		return delays
	}
	step := defaultExpiry / time.Duration(len(regs))
	for i := range regs {
		delays[i] = step * time.Duration(i)
	}
	return delays
}

// Add registers reg with the scheduler for future pacing.
func (s *Scheduler) Add(reg *Registration) {
	s.mu.Lock()
	s.regs = append(s.regs, reg)
	s.mu.Unlock()
}

// Allow reports whether the rate limiter currently permits issuing another
// REGISTER attempt.
func (s *Scheduler) Allow() bool {
	return s.limiter.Allow()
}
