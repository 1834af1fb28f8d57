package sipgo

import (
	"strconv"
	"testing"
	"time"

	"github.com/mjagdis/sipcore/config"
	"github.com/mjagdis/sipcore/dialog"
	"github.com/mjagdis/sipcore/sip"
	"github.com/mjagdis/sipcore/siptest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idigest "github.com/icholy/digest"
)

// newTestCore builds a Core with one dynamic peer named "bob" whose
// insecure=very skips digest auth, so S1/S4/S5 can exercise the dialogue
// state machine without also covering S2's auth round trip.
func newTestCore(t *testing.T) *Core {
	t.Helper()
	cfg := &config.Config{
		Realm:                     "sipcore-test",
		RegistrationDefaultExpiry: 120 * time.Second,
		Peers: []config.PeerConfig{
			{Name: "bob", Secret: "s3cr3t", Host: "dynamic", Insecure: config.InsecureVery},
		},
	}
	c, err := NewCore(cfg, nil, nil)
	require.NoError(t, err)
	c.DUA = &DialogUA{ContactHDR: sip.ContactHeader{Address: sip.Uri{User: "bob", Host: "10.0.0.1", Port: 5060}}}
	return c
}

func buildRequest(t *testing.T, lines []string) *sip.Request {
	t.Helper()
	return testCreateMessage(t, lines).(*sip.Request)
}

const audioOffer = "v=0\r\n" +
	"o=bob 1 1 IN IP4 10.0.0.1\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.1\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 0 8\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n"

// TestS1CoreInviteAckBye covers scenario S1 (successful inbound call) at the
// Core level: an INVITE offering PCMU/PCMA is answered with PCMU (the
// caller's preferred codec, first in the offer), then ACK completes the
// handshake and BYE tears the dialogue down.
func TestS1CoreInviteAckBye(t *testing.T) {
	c := newTestCore(t)

	invite := buildRequest(t, []string{
		"INVITE sip:alice@10.0.0.1:5060 SIP/2.0",
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=" + sip.GenerateBranch(),
		"From: \"bob\" <sip:bob@10.0.0.2>;tag=capturerftag1",
		"To: <sip:alice@10.0.0.1:5060>",
		"Call-ID: s1-core-call",
		"CSeq: 1 INVITE",
		"Contact: <sip:bob@10.0.0.2:5060>",
		"Content-Type: application/sdp",
		"Content-Length: " + strconv.Itoa(len(audioOffer)),
		"",
		audioOffer,
	})

	tx := siptest.NewServerTxRecorder(invite)
	c.HandleInvite(invite, tx)

	resps := tx.Result()
	require.Len(t, resps, 1)
	res := resps[0]
	require.Equal(t, sip.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body()), "m=audio")
	assert.Contains(t, string(res.Body()), "a=rtpmap:0 PCMU/8000")
	assert.NotContains(t, string(res.Body()), "PCMA")

	to := res.To()
	localTag := to.Params.GetOr("tag", "")
	require.NotEmpty(t, localTag)

	d, ok := c.Dialogs.Lookup(dialogKey("s1-core-call", localTag, "capturerftag1"))
	require.True(t, ok)
	assert.Equal(t, dialog.StateConfirmed, d.State())

	bye := buildRequest(t, []string{
		"BYE sip:bob@10.0.0.2:5060 SIP/2.0",
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=" + sip.GenerateBranch(),
		"From: \"bob\" <sip:bob@10.0.0.2>;tag=capturerftag1",
		"To: <sip:alice@10.0.0.1:5060>;tag=" + localTag,
		"Call-ID: s1-core-call",
		"CSeq: 2 BYE",
		"Content-Length: 0",
		"",
		"",
	})
	byeTx := siptest.NewServerTxRecorder(bye)
	c.HandleBye(bye, byeTx)

	byeResps := byeTx.Result()
	require.Len(t, byeResps, 1)
	assert.Equal(t, sip.StatusOK, byeResps[0].StatusCode)

	_, stillThere := c.Dialogs.Lookup(dialogKey("s1-core-call", localTag, "capturerftag1"))
	assert.False(t, stillThere)
}

// TestS2CoreRegisterDigestChallengeThenAccept covers scenario S2
// (registration with digest auth): a REGISTER without credentials is
// challenged, and the same REGISTER carrying a correct Authorization is
// accepted with the offered expiry echoed back.
func TestS2CoreRegisterDigestChallengeThenAccept(t *testing.T) {
	c := newTestCore(t)

	register := buildRequest(t, []string{
		"REGISTER sip:10.0.0.1 SIP/2.0",
		"Via: SIP/2.0/UDP 1.2.3.4:5060;branch=" + sip.GenerateBranch(),
		"From: <sip:bob@10.0.0.1>;tag=regtag1",
		"To: <sip:bob@10.0.0.1>",
		"Call-ID: s2-core-reg",
		"CSeq: 1 REGISTER",
		"Contact: <sip:bob@1.2.3.4:5060>",
		"Expires: 120",
		"Content-Length: 0",
		"",
		"",
	})
	register.SetSource("1.2.3.4:5060")

	tx := siptest.NewServerTxRecorder(register)
	c.HandleRegister(register, tx)

	resps := tx.Result()
	require.Len(t, resps, 1)
	require.Equal(t, sip.StatusUnauthorized, resps[0].StatusCode)

	wwwAuth := resps[0].GetHeader("WWW-Authenticate")
	require.NotNil(t, wwwAuth)
	chal, err := idigest.ParseChallenge(wwwAuth.Value())
	require.NoError(t, err)
	assert.Equal(t, "sipcore-test", chal.Realm)
	assert.NotEmpty(t, chal.Nonce)

	cred, err := idigest.Digest(chal, idigest.Options{
		Method:   "REGISTER",
		URI:      "sip:10.0.0.1",
		Username: "bob",
		Password: "s3cr3t",
	})
	require.NoError(t, err)

	register2 := buildRequest(t, []string{
		"REGISTER sip:10.0.0.1 SIP/2.0",
		"Via: SIP/2.0/UDP 1.2.3.4:5060;branch=" + sip.GenerateBranch(),
		"From: <sip:bob@10.0.0.1>;tag=regtag1",
		"To: <sip:bob@10.0.0.1>",
		"Call-ID: s2-core-reg",
		"CSeq: 2 REGISTER",
		"Contact: <sip:bob@1.2.3.4:5060>",
		"Expires: 120",
		"Authorization: " + cred.String(),
		"Content-Length: 0",
		"",
		"",
	})
	register2.SetSource("1.2.3.4:5060")

	tx2 := siptest.NewServerTxRecorder(register2)
	c.HandleRegister(register2, tx2)

	resps2 := tx2.Result()
	require.Len(t, resps2, 1)
	require.Equal(t, sip.StatusOK, resps2[0].StatusCode)
	assert.Equal(t, "120", resps2[0].GetHeader("Expires").Value())
}

// TestS4CoreForkedTagRace covers scenario S4 (Call-ID collision, different
// tag): a forking proxy delivers two final responses with the same Call-ID
// but different To tags. The first to call AdoptRemoteTag with final=true
// claims the dialogue; the second must be recognised by the caller as an
// out-of-dialogue duplicate rather than reused.
func TestS4CoreForkedTagRace(t *testing.T) {
	c := newTestCore(t)

	d := dialog.New("s4-provisional", "s4-call", "localtag1", nil)
	c.Dialogs.CreateProvisional(d)

	winner, ok := c.Dialogs.AdoptRemoteTag("s4-call", "localtag1", "branchA-tag", true)
	require.True(t, ok)
	assert.Equal(t, "branchA-tag", winner.RemoteTag())

	_, stillProvisional := c.Dialogs.Lookup("s4-provisional")
	assert.False(t, stillProvisional, "provisional entry must be retired once a final response settles the race")

	claimed, ok := c.Dialogs.Lookup(dialogKey("s4-call", "localtag1", "branchA-tag"))
	require.True(t, ok)
	assert.Same(t, winner, claimed)

	// The second branch's 200 OK, arriving after the race is settled, is no
	// longer resolvable through the provisional index: the caller must treat
	// it as a stray duplicate to ACK then immediately BYE, not as a second
	// dialogue to keep.
	_, dupOK := c.Dialogs.AdoptRemoteTag("s4-call", "localtag1", "branchB-tag", true)
	assert.False(t, dupOK)
}

// TestS5CoreT38Switchover covers scenario S5 (T.38 switchover mid-call): a
// re-INVITE offering image/udptl/t38 media moves the dialogue's fax state
// from UNKNOWN to NEGOTIATED and is answered with a T.38 SDP answer.
func TestS5CoreT38Switchover(t *testing.T) {
	c := newTestCore(t)

	d := dialog.New(dialogKey("s5-call", "localtag5", "remotetag5"), "s5-call", "localtag5", nil)
	d.SeedLocalCSeq(1)
	c.Dialogs.Add(d)

	const t38Offer = "v=0\r\n" +
		"o=bob 1 2 IN IP4 10.0.0.1\r\n" +
		"s=-\r\n" +
		"c=IN IP4 10.0.0.1\r\n" +
		"t=0 0\r\n" +
		"m=image 6060 udptl t38\r\n" +
		"a=T38FaxVersion:0\r\n" +
		"a=T38MaxBitRate:14400\r\n" +
		"a=T38FaxRateManagement:transferredTCF\r\n"

	reinvite := buildRequest(t, []string{
		"INVITE sip:bob@10.0.0.1:5060 SIP/2.0",
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=" + sip.GenerateBranch(),
		"From: \"caller\" <sip:caller@10.0.0.2>;tag=remotetag5",
		"To: <sip:bob@10.0.0.1:5060>;tag=localtag5",
		"Call-ID: s5-call",
		"CSeq: 2 INVITE",
		"Content-Type: application/sdp",
		"Content-Length: " + strconv.Itoa(len(t38Offer)),
		"",
		t38Offer,
	})

	tx := siptest.NewServerTxRecorder(reinvite)
	c.HandleInvite(reinvite, tx)

	resps := tx.Result()
	require.Len(t, resps, 1)
	res := resps[0]
	require.Equal(t, sip.StatusOK, res.StatusCode)
	assert.Contains(t, string(res.Body()), "m=image")
	assert.Contains(t, string(res.Body()), "udptl")
	assert.Contains(t, string(res.Body()), "T38MaxBitRate")

	assert.Equal(t, dialog.T38Negotiated, d.T38())
	assert.True(t, d.T38Active())
}
