package dialog

import (
	"github.com/mjagdis/sipcore/sip"
)

// UACResult summarizes what handleUACFinal decided a final response means
// for the dialogue: whether it is forked-candidate-only, whether it
// established a new confirmed dialogue, and whether it should be treated
// as a final failure tearing the dialogue down.
type UACResult struct {
	Established bool
	Failed      bool
	StatusCode  int
}

// handleUACFinal processes a response to an outbound INVITE against the
// dialogue registry, applying the CSeq/tag bookkeeping and forked-response
// resolution spec §4.5/§8 (scenario S4) describe for the UAC side. It does
// not send anything; the caller (root package Core) still owns ACK/ACK-NAK
// transmission and ReinviteSender plumbing.
func handleUACFinal(reg *Registry, callID, localTag string, res *sip.Response) (*Dialog, UACResult) {
	toHdr := res.To()
	remoteTag := ""
	if toHdr != nil {
		remoteTag = toHdr.Params.GetOr("tag", "")
	}

	final := res.IsSuccess()
	d, ok := reg.AdoptRemoteTag(callID, localTag, remoteTag, final)
	if !ok {
		return nil, UACResult{Failed: true, StatusCode: int(res.StatusCode)}
	}

	if res.IsProvisional() {
		return d, UACResult{StatusCode: int(res.StatusCode)}
	}

	if res.IsSuccess() {
		return d, UACResult{Established: true, StatusCode: int(res.StatusCode)}
	}

	// Non-2xx final: the dialogue this branch represents is done, even
	// though sibling forked branches (tracked via addForkedTag) may still
	// be outstanding — the caller decides whether to keep waiting on those.
	d.End()
	return d, UACResult{Failed: true, StatusCode: int(res.StatusCode)}
}

// HandleUACFinal is the exported form of handleUACFinal for callers outside
// this package; it adds no behaviour of its own.
func HandleUACFinal(reg *Registry, callID, localTag string, res *sip.Response) (*Dialog, UACResult) {
	return handleUACFinal(reg, callID, localTag, res)
}

// ReverseRouteSet builds the UAS-side route set from a request's
// Record-Route headers, reversed so the dialogue's subsequent requests
// traverse the same proxies in the order they were inserted (spec §4.5
// "the route set is fixed at dialogue creation from Record-Route,
// reversed for the UAS side").
func ReverseRouteSet(req *sip.Request) []string {
	hdrs := req.GetHeaders("Record-Route")
	out := make([]string, 0, len(hdrs))
	for i := len(hdrs) - 1; i >= 0; i-- {
		out = append(out, hdrs[i].Value())
	}
	return out
}
