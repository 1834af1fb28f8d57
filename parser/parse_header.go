package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mjagdis/sipcore/sip"
)

// Here we have collection of headers parsing.
// Some of headers parsing are moved to different files for better maintance

// A HeaderParser is any function that turns raw header data into one or more Header objects.
type HeaderParser func(headerName string, headerData string) (sip.Header, error)

type errComaDetected int

func (e errComaDetected) Error() string {
	return "comma detected"
}

// This needs to kept minimalistic in order to avoid overhead of parsing
var headersParsers = map[string]HeaderParser{
	"to":             parseToAddressHeader,
	"t":              parseToAddressHeader,
	"from":           parseFromAddressHeader,
	"f":              parseFromAddressHeader,
	"contact":        parseContactAddressHeader,
	"m":              parseContactAddressHeader,
	"call-id":        parseCallId,
	"i":              parseCallId,
	"cseq":           parseCSeq,
	"via":            parseViaHeader,
	"v":              parseViaHeader,
	"max-forwards":   parseMaxForwards,
	"content-length": parseContentLength,
	"l":              parseContentLength,
	"content-type":   parseContentType,
	"c":              parseContentType,
	"route":          parseRouteHeader,
	"record-route":   parseRecordRouteHeader,
}

// DefaultHeadersParser returns minimal version header parser.
// It can be extended or overwritten. Removing some defaults can break SIP functionality
//
// NOTE this API call may change
func DefaultHeadersParser() map[string]HeaderParser {
	return headersParsers
}

// parseCallId generates sip.CallIDHeader
func parseCallId(headerName string, headerText string) (
	header sip.Header, err error) {
	headerText = strings.TrimSpace(headerText)

	if len(headerText) == 0 {
		err = fmt.Errorf("empty Call-ID body")
		return
	}

	var callId = sip.CallIDHeader(headerText)

	return &callId, nil
}

// parseMaxForwards generates sip.MaxForwardsHeader
func parseMaxForwards(headerName string, headerText string) (header sip.Header, err error) {
	val, err := strconv.ParseUint(headerText, 10, 32)
	if err != nil {
		return nil, err
	}

	maxfwd := sip.MaxForwardsHeader(val)
	return &maxfwd, nil
}

// parseCSeq, parseContentLength and parseContentType live in parse_cseq.go
// and parse_content.go respectively.
