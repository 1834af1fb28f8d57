// Package sdp implements C6: SDP offer/answer negotiation for audio, video,
// and T.38 fax, per spec §4.6 and §6.2 (RFC 4566 syntax, RFC 3264
// offer/answer).
//
// Grounded on arzzra's pkg/media_with_sdp/sdp_builder.go (offer/answer
// construction shape, codec-table pattern, direction-attribute parsing) and
// sebacius's rtpmanager/sdp/builder.go (GetCodecAttributes, Marshal/
// Unmarshal call shape). Built on github.com/pion/sdp/v3, the pack's shared
// SDP library (arzzra, sebacius both depend on it).
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Direction is the media direction attribute from spec §4.6 ("a=sendonly or
// a=inactive ⇒ hold indication; a=sendrecv ⇒ unhold").
type Direction int

const (
	SendRecv Direction = iota
	SendOnly
	RecvOnly
	Inactive
)

func (d Direction) Attribute() string {
	switch d {
	case SendOnly:
		return "sendonly"
	case RecvOnly:
		return "recvonly"
	case Inactive:
		return "inactive"
	default:
		return "sendrecv"
	}
}

func directionFromAttrs(attrs []psdp.Attribute) Direction {
	for _, a := range attrs {
		switch a.Key {
		case "sendonly":
			return SendOnly
		case "recvonly":
			return RecvOnly
		case "inactive":
			return Inactive
		case "sendrecv":
			return SendRecv
		}
	}
	return SendRecv
}

// Codec is one rtpmap-named payload type.
type Codec struct {
	PayloadType int
	Name        string
	ClockRate   int
	Channels    int
	FmtpParams  string
}

// CryptoDescriptor is a parsed a=crypto: SDES line (spec §4.6).
type CryptoDescriptor struct {
	Tag      int
	Suite    string
	KeyParam string
}

// MediaOffer is one parsed m= section plus its attributes.
type MediaOffer struct {
	Kind      string // "audio", "video", "image"
	Port      int
	Proto     string // "RTP/AVP", "RTP/SAVP", "udptl"
	Address   string // media-level c=, falling back to session-level
	Codecs    []Codec
	Direction Direction
	Crypto    []CryptoDescriptor
	T38       T38Params
	IsT38     bool
}

// Offer is a parsed SDP offer/answer: session-level address plus each
// media section.
type Offer struct {
	Address string
	Media   []MediaOffer
}

// Parse parses a raw SDP body into an Offer, per spec §4.6 "Offer parsing".
func Parse(body []byte) (*Offer, error) {
	var desc psdp.SessionDescription
	if err := desc.Unmarshal(body); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}

	o := &Offer{}
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		o.Address = desc.ConnectionInformation.Address.Address
	}

	for _, m := range desc.MediaDescriptions {
		mo := MediaOffer{
			Kind:  m.MediaName.Media,
			Port:  m.MediaName.Port.Value,
			Proto: strings.Join(m.MediaName.Protos, "/"),
		}
		if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			mo.Address = m.ConnectionInformation.Address.Address
		} else {
			mo.Address = o.Address
		}
		mo.Direction = directionFromAttrs(m.Attributes)

		rtpmaps := make(map[int]Codec)
		for _, a := range m.Attributes {
			switch {
			case a.Key == "rtpmap":
				pt, c, ok := parseRtpmap(a.Value)
				if ok {
					rtpmaps[pt] = c
				}
			case a.Key == "fmtp":
				pt, params, ok := parseFmtp(a.Value)
				if ok {
					if c, exists := rtpmaps[pt]; exists {
						c.FmtpParams = params
						rtpmaps[pt] = c
					}
				}
			case a.Key == "crypto":
				if cd, ok := parseCrypto(a.Value); ok {
					mo.Crypto = append(mo.Crypto, cd)
				}
			case strings.HasPrefix(a.Key, "T38") || strings.HasPrefix(a.Key, "t38"):
				applyT38Attribute(&mo.T38, a.Key, a.Value)
				mo.IsT38 = true
			}
		}

		for _, f := range m.MediaName.Formats {
			pt, err := strconv.Atoi(f)
			if err != nil {
				continue
			}
			if c, ok := rtpmaps[pt]; ok {
				mo.Codecs = append(mo.Codecs, c)
			} else {
				mo.Codecs = append(mo.Codecs, Codec{PayloadType: pt})
			}
		}
		if mo.Kind == "image" {
			mo.IsT38 = true
		}

		o.Media = append(o.Media, mo)
	}
	return o, nil
}

func parseRtpmap(value string) (int, Codec, bool) {
	// "<pt> <name>/<rate>[/<channels>]"
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return 0, Codec{}, false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, Codec{}, false
	}
	nameFields := strings.Split(parts[1], "/")
	c := Codec{PayloadType: pt, Name: nameFields[0]}
	if len(nameFields) > 1 {
		if rate, err := strconv.Atoi(nameFields[1]); err == nil {
			c.ClockRate = rate
		}
	}
	if len(nameFields) > 2 {
		if ch, err := strconv.Atoi(nameFields[2]); err == nil {
			c.Channels = ch
		}
	}
	return pt, c, true
}

func parseFmtp(value string) (int, string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return pt, parts[1], true
}

func parseCrypto(value string) (CryptoDescriptor, bool) {
	// "<tag> <suite> inline:<key>|<lifetime>"
	fields := strings.SplitN(value, " ", 3)
	if len(fields) != 3 {
		return CryptoDescriptor{}, false
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return CryptoDescriptor{}, false
	}
	return CryptoDescriptor{Tag: tag, Suite: fields[1], KeyParam: fields[2]}, true
}

// BuildParams carries everything needed to render an answer's m=/c=/o=
// lines, per spec §4.6 "Answer generation".
type BuildParams struct {
	SessionID      uint64
	SessionVersion uint64
	LocalAddress   string
	AudioPort      int
	VideoPort      int
	ImagePort      int
	AudioCodecs    []Codec
	VideoCodecs    []Codec
	Direction      Direction
	Crypto         []CryptoDescriptor
	T38            *T38Params
}

// BuildAnswer renders an SDP answer per spec §4.6: `o=` uses the advertised
// address plus session id/version, `m=`/`c=` per media kind, codec order
// exactly as supplied in params (caller has already applied the
// preferred-codec / peer-preference / any-other-allowed ordering rule).
func BuildAnswer(p BuildParams) ([]byte, error) {
	desc := &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionVersion,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.LocalAddress,
		},
		SessionName: "sipcore",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &psdp.Address{Address: p.LocalAddress},
		},
		TimeDescriptions: []psdp.TimeDescription{{Timing: psdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	if p.AudioPort > 0 {
		desc.MediaDescriptions = append(desc.MediaDescriptions, buildMediaDescription("audio", p.AudioPort, "RTP/AVP", p.AudioCodecs, p.Direction, p.Crypto))
	}
	if p.VideoPort > 0 {
		desc.MediaDescriptions = append(desc.MediaDescriptions, buildMediaDescription("video", p.VideoPort, "RTP/AVP", p.VideoCodecs, p.Direction, p.Crypto))
	}
	if p.ImagePort > 0 && p.T38 != nil {
		md := &psdp.MediaDescription{
			MediaName: psdp.MediaName{
				Media:   "image",
				Port:    psdp.RangedPort{Value: p.ImagePort},
				Protos:  []string{"udptl"},
				Formats: []string{"t38"},
			},
		}
		md.Attributes = append(md.Attributes, t38Attributes(*p.T38)...)
		desc.MediaDescriptions = append(desc.MediaDescriptions, md)
	}

	return desc.Marshal()
}

func buildMediaDescription(kind string, port int, proto string, codecs []Codec, dir Direction, crypto []CryptoDescriptor) *psdp.MediaDescription {
	formats := make([]string, 0, len(codecs))
	for _, c := range codecs {
		formats = append(formats, strconv.Itoa(c.PayloadType))
	}
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   kind,
			Port:    psdp.RangedPort{Value: port},
			Protos:  strings.Split(proto, "/"),
			Formats: formats,
		},
	}
	for _, c := range codecs {
		rtpmap := fmt.Sprintf("%d %s/%d", c.PayloadType, c.Name, c.ClockRate)
		if c.Channels > 1 {
			rtpmap += fmt.Sprintf("/%d", c.Channels)
		}
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtpmap", Value: rtpmap})
		if c.FmtpParams != "" {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%d %s", c.PayloadType, c.FmtpParams)})
		}
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{Key: dir.Attribute()})
	for _, cd := range crypto {
		md.Attributes = append(md.Attributes, psdp.Attribute{
			Key:   "crypto",
			Value: fmt.Sprintf("%d %s %s", cd.Tag, cd.Suite, cd.KeyParam),
		})
	}
	return md
}

// IsHoldAddress reports whether addr is the spec §4.6/§8 hold sentinel
// ("0.0.0.0" or equivalent).
func IsHoldAddress(addr string) bool {
	return addr == "0.0.0.0" || addr == "::"
}
