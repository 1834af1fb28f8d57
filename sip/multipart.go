package sip

import (
	"bytes"
	"strings"
)

// BodyPart is one part of a multipart/mixed SIP body (RFC 5621), or the
// whole body when the message is not multipart.
type BodyPart struct {
	ContentType string
	Content     []byte
}

// PartHandler processes a single body part. Registered against a
// Content-Type via RegisterPartHandler.
type PartHandler func(part BodyPart, msg Message)

var partHandlers = map[string]PartHandler{}

// RegisterPartHandler installs h for contentType (case-insensitive, matched
// on the type/subtype token, ignoring parameters). Packages sdp, and the
// dialog package's DTMF-relay and media-control-xml handling, register here
// during init so C1 stays agnostic of C5/C6 semantics.
func RegisterPartHandler(contentType string, h PartHandler) {
	partHandlers[strings.ToLower(contentType)] = h
}

// DispatchBody walks msg's body: if Content-Type is multipart/mixed it
// descends by boundary per RFC 2046 §5.1, otherwise it treats the whole
// body as a single part. Each part is handed to its registered PartHandler,
// if any; unrecognized parts are returned in the result but not dispatched.
func DispatchBody(msg Message) []BodyPart {
	ct := msg.ContentType()
	if ct == nil || len(msg.Body()) == 0 {
		return nil
	}

	ctVal := string(*ct)
	mediaType, params := parseContentTypeParams(ctVal)

	var parts []BodyPart
	if mediaType == "multipart/mixed" {
		boundary := params["boundary"]
		parts = splitMultipart(msg.Body(), boundary)
	} else {
		parts = []BodyPart{{ContentType: ctVal, Content: msg.Body()}}
	}

	for _, p := range parts {
		typeToken, _ := parseContentTypeParams(p.ContentType)
		if h, ok := partHandlers[typeToken]; ok {
			h(p, msg)
		}
	}
	return parts
}

func parseContentTypeParams(v string) (string, map[string]string) {
	fields := strings.Split(v, ";")
	mediaType := strings.ToLower(strings.TrimSpace(fields[0]))
	params := map[string]string{}
	for _, f := range fields[1:] {
		kv := strings.SplitN(f, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(kv[0]))
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = val
	}
	return mediaType, params
}

// splitMultipart descends a multipart/mixed body by literal boundary
// matching, per spec §4.1's "recursively descended by boundary matching".
func splitMultipart(body []byte, boundary string) []BodyPart {
	if boundary == "" {
		return nil
	}
	delim := []byte("--" + boundary)
	segments := bytes.Split(body, delim)

	var parts []BodyPart
	for _, seg := range segments {
		seg = bytes.Trim(seg, "\r\n")
		if len(seg) == 0 || bytes.Equal(seg, []byte("--")) {
			continue
		}
		headerEnd := bytes.Index(seg, []byte("\r\n\r\n"))
		if headerEnd < 0 {
			continue
		}
		rawHeaders := seg[:headerEnd]
		content := seg[headerEnd+4:]

		partType := "text/plain"
		for _, line := range bytes.Split(rawHeaders, []byte("\r\n")) {
			if bytes.HasPrefix(bytes.ToLower(line), []byte("content-type:")) {
				partType = strings.TrimSpace(string(line[len("content-type:"):]))
			}
		}
		parts = append(parts, BodyPart{ContentType: partType, Content: content})
	}
	return parts
}
