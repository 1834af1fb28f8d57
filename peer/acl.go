package peer

import "net"

// Sense mirrors the original CW_SENSE_DENY/CW_SENSE_ALLOW pair from
// original_source/include/callweaver/acl.h.
type Sense bool

const (
	Deny  Sense = false
	Allow Sense = true
)

// Rule is one entry of an ordered permit/deny ACL chain.
type Rule struct {
	Sense Sense
	Net   *net.IPNet
}

// ACL is an ordered host-based access control list, grounded on
// original_source's cw_ha chain (acl.h: cw_append_ha/cw_apply_ha): rules are
// evaluated in order and the last matching rule decides; with no matching
// rule, the address is allowed.
type ACL struct {
	Rules []Rule
}

// NewACL builds an ACL from CIDR or single-IP specs and a parallel slice of
// senses, e.g. specs ["10.0.0.0/8", "10.1.0.0/16"] with senses
// [Allow, Deny]. A spec with no matching sense entry is an Allow rule.
func NewACL(specs []string, senses []Sense) (*ACL, error) {
	acl := &ACL{}
	for i, spec := range specs {
		_, ipnet, err := net.ParseCIDR(spec)
		if err != nil {
			ip := net.ParseIP(spec)
			if ip == nil {
				return nil, &net.ParseError{Type: "CIDR address", Text: spec}
			}
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			ipnet = &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
		}
		sense := Allow
		if i < len(senses) {
			sense = senses[i]
		}
		acl.Rules = append(acl.Rules, Rule{Sense: sense, Net: ipnet})
	}
	return acl, nil
}

// Apply reports whether addr is allowed, per cw_apply_ha's "last match
// wins, default allow" semantics.
func (a *ACL) Apply(addr net.IP) bool {
	if a == nil {
		return true
	}
	result := Allow
	for _, r := range a.Rules {
		if r.Net.Contains(addr) {
			result = r.Sense
		}
	}
	return bool(result)
}
