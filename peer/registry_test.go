package peer

import (
	"net"
	"testing"

	"github.com/mjagdis/sipcore/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookupByName(t *testing.T) {
	r := NewRegistry()
	p, err := NewFromConfig(config.PeerConfig{Name: "bob", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	r.AddPeer(p)

	got, ok := r.LookupByName("bob")
	require.True(t, ok)
	assert.Same(t, p, got)

	_, ok = r.LookupByName("nobody")
	assert.False(t, ok)
}

func TestRegistryBindReindexesByAddress(t *testing.T) {
	r := NewRegistry()
	p, err := NewFromConfig(config.PeerConfig{Name: "bob", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	r.AddPeer(p)

	addr1 := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5060}
	r.Bind(p, addr1)

	got, ok := r.LookupByAddr(addr1)
	require.True(t, ok)
	assert.Same(t, p, got)

	addr2 := &net.UDPAddr{IP: net.ParseIP("10.0.0.3"), Port: 5060}
	r.Bind(p, addr2)

	_, ok = r.LookupByAddr(addr1)
	assert.False(t, ok, "the old address must be removed from the by-address index")
	got2, ok := r.LookupByAddr(addr2)
	require.True(t, ok)
	assert.Same(t, p, got2)
}

func TestRegistryLookupByAddrInsecurePortIgnoresPort(t *testing.T) {
	r := NewRegistry()
	p, err := NewFromConfig(config.PeerConfig{Name: "bob", Host: "dynamic", Insecure: config.InsecurePort}, config.Config{})
	require.NoError(t, err)
	r.AddPeer(p)
	r.Bind(p, &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5060})

	got, ok := r.LookupByAddr(&net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 9999})
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestRegistryUnbindSelfDestructRemovesPeer(t *testing.T) {
	r := NewRegistry()
	p, err := NewFromConfig(config.PeerConfig{Name: "bob", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	p.AutoCreated = true
	r.AddPeer(p)
	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5060}
	r.Bind(p, addr)

	r.Unbind(p, true)

	_, ok := r.LookupByName("bob")
	assert.False(t, ok)
	_, ok = r.LookupByAddr(addr)
	assert.False(t, ok)
}

func TestRegistryUnbindWithoutSelfDestructKeepsPeer(t *testing.T) {
	r := NewRegistry()
	p, err := NewFromConfig(config.PeerConfig{Name: "bob", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	r.AddPeer(p)
	r.Bind(p, &net.UDPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5060})

	r.Unbind(p, false)

	_, ok := r.LookupByName("bob")
	assert.True(t, ok)
	assert.Nil(t, p.Addr())
}

func TestRegistryPruneRealtimeDropsOnlyAutoCreatedUncached(t *testing.T) {
	r := NewRegistry()
	keep, err := NewFromConfig(config.PeerConfig{Name: "keep", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	drop, err := NewFromConfig(config.PeerConfig{Name: "drop", Host: "dynamic"}, config.Config{})
	require.NoError(t, err)
	drop.AutoCreated = true
	r.AddPeer(keep)
	r.AddPeer(drop)

	n := r.PruneRealtime()
	assert.Equal(t, 1, n)

	_, ok := r.LookupByName("keep")
	assert.True(t, ok)
	_, ok = r.LookupByName("drop")
	assert.False(t, ok)
}

func TestRegistryPeersSnapshot(t *testing.T) {
	r := NewRegistry()
	p1, _ := NewFromConfig(config.PeerConfig{Name: "a", Host: "dynamic"}, config.Config{})
	p2, _ := NewFromConfig(config.PeerConfig{Name: "b", Host: "dynamic"}, config.Config{})
	r.AddPeer(p1)
	r.AddPeer(p2)

	assert.Len(t, r.Peers(), 2)
}

func TestPeerTryReserveCallRespectsLimit(t *testing.T) {
	p := &Peer{Name: "bob", CallLimit: 1}
	assert.True(t, p.TryReserveCall())
	assert.False(t, p.TryReserveCall())
	p.ReleaseCall()
	assert.True(t, p.TryReserveCall())
}

func TestPeerTryReserveCallUnlimitedWhenZero(t *testing.T) {
	p := &Peer{Name: "bob"}
	for i := 0; i < 100; i++ {
		assert.True(t, p.TryReserveCall())
	}
	assert.Equal(t, 100, p.InUse())
}

func TestPeerRefUnref(t *testing.T) {
	p := &Peer{Name: "bob"}
	p.Ref()
	p.Ref()
	assert.False(t, p.Unref())
	assert.True(t, p.Unref())
}
