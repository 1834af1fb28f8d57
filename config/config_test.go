package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	d := Defaults()
	assert.Equal(t, NATNever, d.NATDefault)
	assert.Equal(t, DTMFRFC2833, d.DTMFDefault)
	assert.Equal(t, 500*time.Millisecond, d.TimerT1)
	assert.Equal(t, 4*time.Second, d.TimerT2)
	assert.Equal(t, 120*time.Second, d.RegistrationDefaultExpiry)
	assert.Equal(t, 3600*time.Second, d.RegistrationMaxExpiry)
}

func TestLoadFillsDefaultsForOmittedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
realm: example.test
peers:
  - name: bob
    secret: s3cr3t
    host: dynamic
    insecure: very
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "example.test", cfg.Realm)
	require.Len(t, cfg.Peers, 1)
	assert.Equal(t, "bob", cfg.Peers[0].Name)
	assert.Equal(t, InsecureVery, cfg.Peers[0].Insecure)

	// Fields the YAML never mentioned fall back to Defaults().
	assert.Equal(t, 500*time.Millisecond, cfg.TimerT1)
	assert.Equal(t, 120*time.Second, cfg.RegistrationDefaultExpiry)
	assert.Equal(t, NATNever, cfg.NATDefault)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sipcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
timer_t1: 750000000
registration_max_expiry: 7200000000000
nat_default: always
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.TimerT1)
	assert.Equal(t, 7200*time.Second, cfg.RegistrationMaxExpiry)
	assert.Equal(t, NATAlways, cfg.NATDefault)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyDefaultsFillsExplicitZero(t *testing.T) {
	// applyDefaults only backfills fields that are still zero after
	// unmarshalling, which is indistinguishable from an explicit zero in
	// the YAML; this documents that behaviour rather than asserting
	// otherwise.
	cfg := &Config{}
	applyDefaults(cfg)
	assert.Equal(t, Defaults().TimerT1, cfg.TimerT1)
	assert.Equal(t, Defaults().QualifyDefault, cfg.QualifyDefault)
}
