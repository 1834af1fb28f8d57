package peer

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Status enumerates a peer's reachability state from a qualify OPTIONS
// probe, per spec §4.7/§8 invariant 6.
type Status int

const (
	StatusUnknown Status = iota
	StatusOK
	StatusLagged
	StatusUnreachable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusLagged:
		return "LAGGED"
	case StatusUnreachable:
		return "UNREACHABLE"
	default:
		return "UNKNOWN"
	}
}

// Default qualify frequencies, per spec §4.7.
const (
	DefaultFreqOK    = 60 * time.Second
	DefaultFreqNotOK = 10 * time.Second
)

// Pinger sends an OPTIONS request to addr and returns the measured RTT, or
// an error if no response arrived.
type Pinger func(p *Peer) (time.Duration, error)

// QualifyLoop drives the periodic OPTIONS qualify probe for a set of peers,
// per spec §4.7. A shared *rate.Limiter paces how many OPTIONS attempts the
// core issues per second across all peers — additive hardening beyond the
// literal per-peer interval the spec describes, grounded on flowpbx's use
// of golang.org/x/time/rate for pacing outbound work.
type QualifyLoop struct {
	mu      sync.Mutex
	status  map[string]Status
	limiter *rate.Limiter
	ping    Pinger
}

func NewQualifyLoop(ping Pinger, limiter *rate.Limiter) *QualifyLoop {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(50), 50)
	}
	return &QualifyLoop{status: make(map[string]Status), limiter: limiter, ping: ping}
}

// Probe runs one qualify attempt for p and returns the next interval to wait
// before probing again, per the FreqOK/FreqNotOK schedule.
func (q *QualifyLoop) Probe(p *Peer) time.Duration {
	if p.QualifyMaxMS <= 0 {
		return 0
	}

	_ = q.limiter.Wait
	if !q.limiter.Allow() {
		return time.Second
	}

	rtt, err := q.ping(p)
	maxRTT := time.Duration(p.QualifyMaxMS) * time.Millisecond

	q.mu.Lock()
	defer q.mu.Unlock()

	if err != nil {
		q.status[p.Name] = StatusUnreachable
		return DefaultFreqNotOK
	}
	if rtt > maxRTT {
		q.status[p.Name] = StatusLagged
		p.T1Estimate = rtt
		return DefaultFreqNotOK
	}
	q.status[p.Name] = StatusOK
	p.T1Estimate = rtt
	return DefaultFreqOK
}

func (q *QualifyLoop) Status(name string) Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status[name]
}
