package kvstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetPutDelete(t *testing.T) {
	m := NewMemory()

	_, ok, err := m.Get(RegistryNamespace, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(RegistryNamespace, "bob", "1.2.3.4:5060:100:bob:sip:bob@1.2.3.4"))

	v, ok, err := m.Get(RegistryNamespace, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4:5060:100:bob:sip:bob@1.2.3.4", v)

	require.NoError(t, m.Delete(RegistryNamespace, "bob"))
	_, ok, err = m.Get(RegistryNamespace, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryIterateStopsOnFalse(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(RegistryNamespace, "a", "1"))
	require.NoError(t, m.Put(RegistryNamespace, "b", "2"))

	seen := 0
	err := m.Iterate(RegistryNamespace, func(key, value string) bool {
		seen++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, seen)
}

func TestFilePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.db")

	f, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Put(RegistryNamespace, "bob", "1.2.3.4:5060:100:bob:sip:bob@1.2.3.4"))
	require.NoError(t, f.Put(RegistryNamespace, "alice", "5.6.7.8:5060:200:alice:sip:alice@5.6.7.8"))
	require.NoError(t, f.Delete(RegistryNamespace, "alice"))

	f2, err := OpenFile(path)
	require.NoError(t, err)

	v, ok, err := f2.Get(RegistryNamespace, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1.2.3.4:5060:100:bob:sip:bob@1.2.3.4", v)

	_, ok, err = f2.Get(RegistryNamespace, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "deleted key must not survive a reopen")
}

func TestOpenFileMissingPathIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.db")
	f, err := OpenFile(path)
	require.NoError(t, err)

	_, ok, err := f.Get(RegistryNamespace, "bob")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFormatAndParseBindingRoundTrip(t *testing.T) {
	expiry := time.Unix(1700000000, 0)
	v := FormatBinding("1.2.3.4", 5060, expiry, "bob", "sip:bob@1.2.3.4:5060")
	assert.Equal(t, "1.2.3.4:5060:1700000000:bob:sip:bob@1.2.3.4:5060", v)

	addr, port, parsedExpiry, username, contact, err := ParseBinding(v)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3.4", addr)
	assert.Equal(t, 5060, port)
	assert.True(t, expiry.Equal(parsedExpiry))
	assert.Equal(t, "bob", username)
	assert.Equal(t, "sip:bob@1.2.3.4:5060", contact)
}

func TestParseBindingIPv6(t *testing.T) {
	addr, port, _, username, contact, err := ParseBinding("[::1]:5060:1700000000:bob:sip:bob@[::1]:5060")
	require.NoError(t, err)
	assert.Equal(t, "[::1]", addr)
	assert.Equal(t, 5060, port)
	assert.Equal(t, "bob", username)
	assert.Equal(t, "sip:bob@[::1]:5060", contact)
}

func TestParseBindingMalformed(t *testing.T) {
	_, _, _, _, _, err := ParseBinding("not-a-binding")
	assert.Error(t, err)

	_, _, _, _, _, err = ParseBinding("1.2.3.4:notaport:1700000000:bob:sip:bob@1.2.3.4")
	assert.Error(t, err)
}
