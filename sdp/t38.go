package sdp

import (
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// T38RateManagement enumerates the T38FaxRateManagement attribute values.
type T38RateManagement int

const (
	T38RateUnset T38RateManagement = iota
	T38RateLocalTCF
	T38RateTransferredTCF
)

// T38Params is the negotiable T.38 fax parameter set from spec §4.6.
type T38Params struct {
	Version              int
	MaxBitRate           int
	FillBitRemoval       bool
	TranscodingMMR       bool
	TranscodingJBIG      bool
	RateManagement       T38RateManagement
	UDPEC                bool // a T38FaxUdpEC attribute is present; UDPFEC/UDPRedundancy give its value
	UDPFEC               bool
	UDPRedundancy        bool
	MaxBuffer            int
	MaxDatagram          int

	// speedBits is the bitmask of offered/local fax speeds (derived from
	// MaxBitRate tiers), used by NegotiateT38's intersection rule.
	speedBits int
}

const (
	speed2400 = 1 << iota
	speed4800
	speed7200
	speed9600
	speed12000
	speed14400
)

func speedBitsFor(maxBitRate int) int {
	switch {
	case maxBitRate >= 14400:
		return speed2400 | speed4800 | speed7200 | speed9600 | speed12000 | speed14400
	case maxBitRate >= 12000:
		return speed2400 | speed4800 | speed7200 | speed9600 | speed12000
	case maxBitRate >= 9600:
		return speed2400 | speed4800 | speed7200 | speed9600
	case maxBitRate >= 7200:
		return speed2400 | speed4800 | speed7200
	case maxBitRate >= 4800:
		return speed2400 | speed4800
	default:
		return speed2400
	}
}

func applyT38Attribute(p *T38Params, key, value string) {
	switch key {
	case "T38FaxVersion":
		p.Version, _ = strconv.Atoi(value)
	case "T38MaxBitRate":
		p.MaxBitRate, _ = strconv.Atoi(value)
		p.speedBits = speedBitsFor(p.MaxBitRate)
	case "T38FaxFillBitRemoval":
		p.FillBitRemoval = value == "" || value == "1" || strings.EqualFold(value, "true")
	case "T38FaxTranscodingMMR":
		p.TranscodingMMR = value == "" || value == "1" || strings.EqualFold(value, "true")
	case "T38FaxTranscodingJBIG":
		p.TranscodingJBIG = value == "" || value == "1" || strings.EqualFold(value, "true")
	case "T38FaxRateManagement":
		if value == "localTCF" {
			p.RateManagement = T38RateLocalTCF
		} else if value == "transferredTCF" {
			p.RateManagement = T38RateTransferredTCF
		}
	case "T38FaxUdpEC":
		p.UDPEC = true
		p.UDPFEC = value == "t38UDPFEC"
		p.UDPRedundancy = value == "t38UDPRedundancy"
	case "T38FaxMaxBuffer":
		p.MaxBuffer, _ = strconv.Atoi(value)
	case "T38FaxMaxDatagram":
		p.MaxDatagram, _ = strconv.Atoi(value)
	}
}

func t38Attributes(p T38Params) []psdp.Attribute {
	var attrs []psdp.Attribute
	add := func(k, v string) { attrs = append(attrs, psdp.Attribute{Key: k, Value: v}) }

	if p.Version > 0 {
		add("T38FaxVersion", strconv.Itoa(p.Version))
	}
	if p.MaxBitRate > 0 {
		add("T38MaxBitRate", strconv.Itoa(p.MaxBitRate))
	}
	if p.FillBitRemoval {
		add("T38FaxFillBitRemoval", "")
	}
	if p.TranscodingMMR {
		add("T38FaxTranscodingMMR", "")
	}
	if p.TranscodingJBIG {
		add("T38FaxTranscodingJBIG", "")
	}
	switch p.RateManagement {
	case T38RateLocalTCF:
		add("T38FaxRateManagement", "localTCF")
	case T38RateTransferredTCF:
		add("T38FaxRateManagement", "transferredTCF")
	}
	if p.UDPEC {
		if p.UDPFEC {
			add("T38FaxUdpEC", "t38UDPFEC")
		} else if p.UDPRedundancy {
			add("T38FaxUdpEC", "t38UDPRedundancy")
		}
	}
	if p.MaxBuffer > 0 {
		add("T38FaxMaxBuffer", strconv.Itoa(p.MaxBuffer))
	}
	if p.MaxDatagram > 0 {
		add("T38FaxMaxDatagram", strconv.Itoa(p.MaxDatagram))
	}
	return attrs
}

// NegotiateT38 implements spec §4.6's rule: "negotiated capability =
// (offered speeds ∩ local speeds) | (non-speed bits from peer)".
func NegotiateT38(local, remote T38Params) T38Params {
	out := remote
	out.speedBits = speedBitsFor(local.MaxBitRate) & speedBitsFor(remote.MaxBitRate)
	// Recover a representative MaxBitRate from the negotiated speed mask so
	// the answer SDP advertises a concrete rate, picking the highest
	// negotiated tier.
	switch {
	case out.speedBits&speed14400 != 0:
		out.MaxBitRate = 14400
	case out.speedBits&speed12000 != 0:
		out.MaxBitRate = 12000
	case out.speedBits&speed9600 != 0:
		out.MaxBitRate = 9600
	case out.speedBits&speed7200 != 0:
		out.MaxBitRate = 7200
	case out.speedBits&speed4800 != 0:
		out.MaxBitRate = 4800
	default:
		out.MaxBitRate = 2400
	}
	return out
}
