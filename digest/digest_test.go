package digest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildResponseThenVerify(t *testing.T) {
	chal := NewChallenge("sipcore-test", "abc123nonce", "", "", false)

	cred, err := BuildResponse(&chal, "REGISTER", "sip:10.0.0.1", "bob", "s3cr3t")
	require.NoError(t, err)
	assert.Equal(t, "bob", cred.Username)

	ok, err := Verify(cred, chal, "REGISTER", "s3cr3t")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	chal := NewChallenge("sipcore-test", "abc123nonce", "", "", false)

	cred, err := BuildResponse(&chal, "REGISTER", "sip:10.0.0.1", "bob", "s3cr3t")
	require.NoError(t, err)

	ok, err := Verify(cred, chal, "REGISTER", "wrong")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseCredentialsRoundTrip(t *testing.T) {
	chal := NewChallenge("sipcore-test", "n1", "op1", "", true)
	cred, err := BuildResponse(&chal, "INVITE", "sip:10.0.0.1", "bob", "s3cr3t")
	require.NoError(t, err)

	parsedCred, err := ParseCredentials(cred.String())
	require.NoError(t, err)
	assert.Equal(t, "bob", parsedCred.Username)
	assert.Equal(t, cred.Response, parsedCred.Response)
}

func TestNonceCacheMintIsStaleUntilMatched(t *testing.T) {
	c := NewNonceCache(0)

	assert.True(t, c.IsStale("bob", "anything"), "an unminted key has no current nonce")

	n := c.Mint("bob")
	assert.False(t, c.IsStale("bob", n))
	assert.True(t, c.IsStale("bob", "some-other-nonce"))

	n2 := c.Mint("bob")
	assert.NotEqual(t, n, n2)
	assert.True(t, c.IsStale("bob", n), "minting again retires the previous nonce")
	assert.False(t, c.IsStale("bob", n2))
}

func TestNonceCacheTTLExpiry(t *testing.T) {
	c := NewNonceCache(10 * time.Millisecond)
	n := c.Mint("bob")
	assert.False(t, c.IsStale("bob", n))

	time.Sleep(20 * time.Millisecond)
	assert.True(t, c.IsStale("bob", n))
}

func TestNonceCacheForget(t *testing.T) {
	c := NewNonceCache(0)
	n := c.Mint("bob")
	require.False(t, c.IsStale("bob", n))

	c.Forget("bob")
	assert.True(t, c.IsStale("bob", n))
}
