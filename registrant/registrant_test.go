package registrant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mjagdis/sipcore/digest"
)

func TestRefreshGuardUsesLargerOfFloorAndPercentage(t *testing.T) {
	// 20% of 30s = 6s, below the 15s floor.
	assert.Equal(t, 30*time.Second-ExpiryGuardSecs, RefreshGuard(30*time.Second))

	// 20% of 300s = 60s, above the 15s floor.
	assert.Equal(t, 300*time.Second-60*time.Second, RefreshGuard(300*time.Second))
}

func TestRefreshGuardNeverNegative(t *testing.T) {
	assert.Equal(t, time.Duration(0), RefreshGuard(1*time.Second))
}

func TestStaggerSpreadsEvenlyOverDefaultExpiry(t *testing.T) {
	regs := []*Registration{
		New("a", "host", 5060, "pw", time.Minute, "call-a"),
		New("b", "host", 5060, "pw", time.Minute, "call-b"),
		New("c", "host", 5060, "pw", time.Minute, "call-c"),
	}
	delays := Stagger(regs, 90*time.Second)
	require.Len(t, delays, 3)
	assert.Equal(t, time.Duration(0), delays[0])
	assert.Equal(t, 30*time.Second, delays[1])
	assert.Equal(t, 60*time.Second, delays[2])
}

func TestStaggerEmpty(t *testing.T) {
	assert.Empty(t, Stagger(nil, time.Minute))
}

func TestRunAcceptsImmediate2xx(t *testing.T) {
	r := New("bob", "proxy.example.test", 5060, "s3cr3t", time.Minute, "call-1")
	assert.Equal(t, Unregistered, r.CurrentState())

	err := r.Run(context.Background(), func(ctx context.Context, authz string) (int, string, error) {
		assert.Empty(t, authz)
		return 200, "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, Registered, r.CurrentState())
}

func TestRunFollowsChallengeThenAccepts(t *testing.T) {
	r := New("bob", "proxy.example.test", 5060, "s3cr3t", time.Minute, "call-2")
	chal := digest.NewChallenge("sipcore-test", "nonce-1", "", "", false)

	calls := 0
	err := r.Run(context.Background(), func(ctx context.Context, authz string) (int, string, error) {
		calls++
		if calls == 1 {
			assert.Empty(t, authz)
			return 401, headerValueForChallenge(t, chal), nil
		}
		assert.NotEmpty(t, authz)
		return 200, "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, Registered, r.CurrentState())
	assert.Equal(t, 2, calls)
}

func TestRunRejectsAfterNon2xxFinalResponse(t *testing.T) {
	r := New("bob", "proxy.example.test", 5060, "s3cr3t", time.Minute, "call-3")
	err := r.Run(context.Background(), func(ctx context.Context, authz string) (int, string, error) {
		return 403, "", nil
	})
	require.NoError(t, err)
	assert.Equal(t, Rejected, r.CurrentState())
}

func TestRunTimesOutOnSendError(t *testing.T) {
	r := New("bob", "proxy.example.test", 5060, "s3cr3t", time.Minute, "call-4")
	sendErr := errors.New("network unreachable")
	err := r.Run(context.Background(), func(ctx context.Context, authz string) (int, string, error) {
		return 0, "", sendErr
	})
	assert.ErrorIs(t, err, sendErr)
	assert.Equal(t, Timeout, r.CurrentState())
}

func TestSchedulerAllowRespectsLimiter(t *testing.T) {
	s := NewScheduler(nil)
	reg := New("bob", "proxy.example.test", 5060, "s3cr3t", time.Minute, "call-5")
	s.Add(reg)
	assert.True(t, s.Allow())
}

func headerValueForChallenge(t *testing.T, chal interface{ String() string }) string {
	t.Helper()
	return chal.String()
}
