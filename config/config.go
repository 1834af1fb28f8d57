// Package config is the configuration surface spec §6.5 describes: global
// options plus per-peer/user overrides, loaded once and passed by pointer
// to every component — replacing the original's module-global "locals"
// state (spec §9 re-architecture guidance).
//
// Grounded on flowpbx's internal/signaling/config and sebacius's
// internal/signaling/config/config.go: a typed struct loaded from YAML via
// gopkg.in/yaml.v3 (present in the teacher's indirect deps; promoted to
// direct here since config is new code, not adapted teacher code).
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DTMFMode enumerates spec §6.5's DTMF mode default options.
type DTMFMode string

const (
	DTMFRFC2833 DTMFMode = "rfc2833"
	DTMFInfo    DTMFMode = "info"
	DTMFInband  DTMFMode = "inband"
	DTMFAuto    DTMFMode = "auto"
)

// NATPolicy enumerates spec §4.3/§6.5's NAT policy values.
type NATPolicy string

const (
	NATNever    NATPolicy = "never"
	NATRoute    NATPolicy = "route"
	NATAlways   NATPolicy = "always"
	NATRFC3581  NATPolicy = "rfc3581"
)

// Insecure enumerates spec §6.5's per-peer "insecure=" values.
type Insecure string

const (
	InsecureNone   Insecure = ""
	InsecurePort   Insecure = "port"
	InsecureInvite Insecure = "invite"
	InsecureVery   Insecure = "very"
)

// Config is the global configuration surface, loaded once at startup.
type Config struct {
	Bind []string `yaml:"bind"`

	DefaultContext string `yaml:"default_context"`
	Realm          string `yaml:"realm"`
	UserAgent      string `yaml:"user_agent"`

	NATDefault  NATPolicy `yaml:"nat_default"`
	DTMFDefault DTMFMode  `yaml:"dtmf_default"`

	AllowedCodecs    []string `yaml:"allowed_codecs"`
	CodecPreference  []string `yaml:"codec_preference"`

	RTPTimeout time.Duration `yaml:"rtp_timeout"`

	RegistrationMaxExpiry     time.Duration `yaml:"registration_max_expiry"`
	RegistrationDefaultExpiry time.Duration `yaml:"registration_default_expiry"`

	TimerT1 time.Duration `yaml:"timer_t1"`
	TimerT2 time.Duration `yaml:"timer_t2"`

	ExternIP        string        `yaml:"extern_ip"`
	ExternHost      string        `yaml:"extern_host"`
	ExternRefresh   time.Duration `yaml:"extern_refresh"`
	STUNServer      string        `yaml:"stun_server"`
	LocalNetACL     []string      `yaml:"local_net_acl"`
	Domains         []string      `yaml:"domains"`
	QualifyDefault  time.Duration `yaml:"qualify_default"`

	Peers []PeerConfig `yaml:"peers"`
	Users []PeerConfig `yaml:"users"`

	// RegisterLines are outbound "register =>" entries (spec §4.7 registrant
	// startup: "iterate configured register => lines, space registrations
	// evenly over default-expiry").
	RegisterLines []RegisterLine `yaml:"register"`
}

// PeerConfig is the per-peer/user override struct from spec §6.5.
type PeerConfig struct {
	Name      string   `yaml:"name"`
	Secret    string   `yaml:"secret"`
	MD5Secret string   `yaml:"md5secret"`
	Host      string   `yaml:"host"` // "dynamic" or a static address
	DefaultIP string   `yaml:"default_ip"`
	Context   string   `yaml:"context"`
	CallerID  string   `yaml:"caller_id"`
	ACL       []string `yaml:"acl"`

	AllowedCodecs   []string `yaml:"allowed_codecs"`
	CodecPreference []string `yaml:"codec_preference"`

	CallLimit int `yaml:"call_limit"`
	Mailbox   string `yaml:"mailbox"`

	TimerT1 time.Duration `yaml:"timer_t1"`
	TimerT2 time.Duration `yaml:"timer_t2"`

	NAT      NATPolicy `yaml:"nat"`
	DTMF     DTMFMode  `yaml:"dtmf"`
	Insecure Insecure  `yaml:"insecure"`

	CanReinvite bool `yaml:"can_reinvite"`
	TrustRPID   bool `yaml:"trust_rpid"`
	SendRPID    bool `yaml:"send_rpid"`
	OSPAuth     bool `yaml:"osp_auth"`

	QualifyMaxMS int `yaml:"qualify_max_ms"` // 0 disables, per spec §3

	AutoCreatePeer     bool `yaml:"autocreate_peer"`
	RTCacheFriends     bool `yaml:"rt_cache_friends"`
	RTAutoClear        bool `yaml:"rt_auto_clear"`
	PurgeOldSubscriptions bool `yaml:"purge_old_subscriptions"`

	AllowGuest       bool `yaml:"allow_guest"`
	AlwaysAuthReject bool `yaml:"always_auth_reject"`
	PromiscRedir     bool `yaml:"promisc_redir"`

	ChannelVariables map[string]string `yaml:"channel_variables"`
}

// RegisterLine is one outbound registration target (spec §4.7).
type RegisterLine struct {
	Username string        `yaml:"username"`
	Secret   string        `yaml:"secret"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Refresh  time.Duration `yaml:"refresh"`
}

// Defaults returns the spec-mandated defaults (§4.4, §4.7 glossary) for any
// field the loaded YAML leaves zero.
func Defaults() Config {
	return Config{
		NATDefault:                NATNever,
		DTMFDefault:               DTMFRFC2833,
		RTPTimeout:                30 * time.Second,
		RegistrationDefaultExpiry: 120 * time.Second,
		RegistrationMaxExpiry:     3600 * time.Second,
		TimerT1:                   500 * time.Millisecond,
		TimerT2:                   4 * time.Second,
		ExternRefresh:             300 * time.Second,
		QualifyDefault:            60 * time.Second,
	}
}

// Load reads and parses a YAML configuration file, filling any zero-valued
// field with Defaults().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := Defaults()
	if cfg.NATDefault == "" {
		cfg.NATDefault = d.NATDefault
	}
	if cfg.DTMFDefault == "" {
		cfg.DTMFDefault = d.DTMFDefault
	}
	if cfg.RTPTimeout == 0 {
		cfg.RTPTimeout = d.RTPTimeout
	}
	if cfg.RegistrationDefaultExpiry == 0 {
		cfg.RegistrationDefaultExpiry = d.RegistrationDefaultExpiry
	}
	if cfg.RegistrationMaxExpiry == 0 {
		cfg.RegistrationMaxExpiry = d.RegistrationMaxExpiry
	}
	if cfg.TimerT1 == 0 {
		cfg.TimerT1 = d.TimerT1
	}
	if cfg.TimerT2 == 0 {
		cfg.TimerT2 = d.TimerT2
	}
	if cfg.ExternRefresh == 0 {
		cfg.ExternRefresh = d.ExternRefresh
	}
	if cfg.QualifyDefault == 0 {
		cfg.QualifyDefault = d.QualifyDefault
	}
}
