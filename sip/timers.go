package sip

import "time"

// Retransmission/timeout timers per RFC 3261 §17, mirrored here as mutable
// package vars so dialog-level code (which only depends on sip, not
// transaction) can wait on them and tests can shrink them. The transaction
// package owns the authoritative FSM timer constants; SetTimers keeps both
// in sync.
var (
	T1 = 500 * time.Millisecond
	T2 = 4 * time.Second
	T4 = 5 * time.Second

	Timer_A = T1
	Timer_B = 64 * T1
	Timer_D = 32 * time.Second
	Timer_E = T1
	Timer_F = 64 * T1
	Timer_G = T1
	Timer_H = 64 * T1
	Timer_I = T4
	Timer_J = 64 * T1
	Timer_K = T4
	Timer_L = 64 * T1
	Timer_M = 64 * T1
)

// SetTimers overrides T1/T2/T4 and every timer derived from them, mainly
// used by tests that need faster transaction timeouts.
func SetTimers(t1, t2, t4 time.Duration) {
	T1, T2, T4 = t1, t2, t4
	Timer_A, Timer_E, Timer_G = t1, t1, t1
	Timer_B, Timer_F, Timer_J, Timer_L, Timer_M = 64*t1, 64*t1, 64*t1, 64*t1, 64*t1
	Timer_I, Timer_K = t4, t4
}
