package sip

import "strings"

// headerAliases is the normative table of compact header forms from spec
// §6.1 (20 entries). Parsing canonicalizes the compact form to the full
// header name before lookup/storage; serialization picks compact or full
// form per CompactHeaders.
var headerAliases = map[string]string{
	"i": "Call-ID",
	"m": "Contact",
	"l": "Content-Length",
	"c": "Content-Type",
	"f": "From",
	"t": "To",
	"v": "Via",
	"k": "Supported",
	"o": "Event",
	"u": "Allow-Events",
	"s": "Subject",
	"a": "Accept-Contact",
	"j": "Reject-Contact",
	"d": "Request-Disposition",
	"x": "Session-Expires",
	"b": "Referred-By",
	"r": "Refer-To",
	"e": "Content-Encoding",
	"y": "Identity",
	"n": "Identity-Info",
}

// fullToCompact is the reverse of headerAliases, built once at init.
var fullToCompact = func() map[string]string {
	m := make(map[string]string, len(headerAliases))
	for compact, full := range headerAliases {
		m[strings.ToLower(full)] = compact
	}
	return m
}()

// CompactHeaders toggles whether Message.StringWrite emits the compact or
// full form for headers that have a compact alias. Default false (full
// form), matching the teacher's existing wire format; set true to emit
// compact form per peer/transport preference.
var CompactHeaders bool

// ExpandHeaderAlias returns the canonical full header name for name, which
// may already be a full name (returned unchanged, case preserved) or a
// single-letter compact alias (expanded). Lookup is case-insensitive on the
// alias letter.
func ExpandHeaderAlias(name string) string {
	if len(name) == 1 {
		if full, ok := headerAliases[strings.ToLower(name)]; ok {
			return full
		}
	}
	return name
}

// CompactFormOf returns the single-letter compact alias for a full header
// name, and whether one exists.
func CompactFormOf(name string) (string, bool) {
	c, ok := fullToCompact[strings.ToLower(name)]
	return c, ok
}
