package media

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackWriteIsReadableFromSameSession(t *testing.T) {
	s := NewLoopback(Audio, 40000)
	defer s.Close()

	assert.Equal(t, Audio, s.Kind())
	assert.Equal(t, 40000, s.LocalPort())

	require.NoError(t, s.WriteFrame([]byte("rtp-payload")))

	got, err := s.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, "rtp-payload", string(got))
}

func TestLoopbackPeerAndRedirect(t *testing.T) {
	s := NewLoopback(T38, 6060)
	peer := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 6060}
	redirect := &net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 6060}

	assert.Nil(t, s.Peer())
	s.SetPeer(peer)
	assert.Equal(t, peer, s.Peer())

	assert.Nil(t, s.Redirect())
	s.SetRedirect(redirect)
	assert.Equal(t, redirect, s.Redirect())
}

func TestLoopbackTracksLastTxRx(t *testing.T) {
	s := NewLoopback(Audio, 40000)
	defer s.Close()

	assert.True(t, s.LastTx().IsZero())
	assert.True(t, s.LastRx().IsZero())

	require.NoError(t, s.WriteFrame([]byte("x")))
	assert.False(t, s.LastTx().IsZero())

	_, err := s.ReadFrame()
	require.NoError(t, err)
	assert.False(t, s.LastRx().IsZero())
}

func TestRTPTimeoutExceeded(t *testing.T) {
	assert.False(t, RTPTimeoutExceeded(nil, time.Second), "a nil session never times out")

	s := NewLoopback(Audio, 40000)
	defer s.Close()
	assert.False(t, RTPTimeoutExceeded(s, time.Second), "no rx yet means no timeout")

	require.NoError(t, s.WriteFrame([]byte("x")))
	_, err := s.ReadFrame()
	require.NoError(t, err)
	assert.False(t, RTPTimeoutExceeded(s, time.Hour))
	assert.False(t, RTPTimeoutExceeded(s, 0), "a non-positive timeout disables the check entirely")
}

func TestRTPTimeoutExceededDisabledWhenTimeoutZero(t *testing.T) {
	s := NewLoopback(Audio, 40000)
	defer s.Close()
	require.NoError(t, s.WriteFrame([]byte("x")))
	_, err := s.ReadFrame()
	require.NoError(t, err)

	assert.False(t, RTPTimeoutExceeded(s, 0))
}
