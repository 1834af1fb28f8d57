package sipgo

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mjagdis/sipcore/addressing"
	"github.com/mjagdis/sipcore/cause"
	"github.com/mjagdis/sipcore/channel"
	"github.com/mjagdis/sipcore/config"
	"github.com/mjagdis/sipcore/dialog"
	idigest "github.com/mjagdis/sipcore/digest"
	"github.com/mjagdis/sipcore/kvstore"
	"github.com/mjagdis/sipcore/manager"
	"github.com/mjagdis/sipcore/peer"
	"github.com/mjagdis/sipcore/registrar"
	"github.com/mjagdis/sipcore/scheduler"
	"github.com/mjagdis/sipcore/sdp"
	"github.com/mjagdis/sipcore/sip"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Core ties C1-C8 together (spec §2/§9): it owns the peer registry, the
// dialogue table, the registrar and outbound registrant scheduler, the SDP
// and digest negotiators and the NAT/addressing resolver, and exposes one
// RequestHandler per SIP method for Server to dispatch into. It is the
// "Core/SipCore" re-architecture spec §9 asks for in place of scattering
// domain logic across the transport-level Dialog/DialogServer/DialogClient
// helpers.
type Core struct {
	UA  *UserAgent
	DUA *DialogUA

	Config *config.Config

	Peers      *peer.Registry
	Dialogs    *dialog.Registry
	Registrar  *registrar.Registrar
	Sched      *scheduler.Scheduler
	Bus        *manager.Bus
	Store      kvstore.Store
	Addressing *addressing.Resolver
	Nonces     *idigest.NonceCache

	subsMu sync.Mutex
	subs   map[string]*dialog.Dialog // key: peer+"\x00"+exten+"\x00"+context, last active SUBSCRIBE dialog

	log zerolog.Logger
}

// NewCore builds a Core from a loaded configuration. It does not start
// listening; callers call AttachServer to register handlers against a
// running Server.
func NewCore(cfg *config.Config, ua *UserAgent, dua *DialogUA) (*Core, error) {
	peers := peer.NewRegistry()
	for _, pc := range cfg.Peers {
		p, err := peer.NewFromConfig(pc, *cfg)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", pc.Name, err)
		}
		peers.AddPeer(p)
	}
	for _, uc := range cfg.Users {
		p, err := peer.NewFromConfig(uc, *cfg)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", uc.Name, err)
		}
		peers.AddUser(&peer.User{Name: p.Name, Secret: p.Secret, MD5Secret: p.MD5Secret, Realm: p.Realm, Context: p.Context})
	}

	bus := manager.NewBus(64)
	sched := scheduler.New()
	store := kvstore.NewMemory()
	reg := registrar.New(peers, store, bus, sched)
	if err := reg.LoadPersisted(); err != nil {
		return nil, fmt.Errorf("loading persisted registrations: %w", err)
	}

	resolver := addressing.NewResolver(cfg, nil)

	return &Core{
		UA:         ua,
		DUA:        dua,
		Config:     cfg,
		Peers:      peers,
		Dialogs:    dialog.NewRegistry(),
		Registrar:  reg,
		Sched:      sched,
		Bus:        bus,
		Store:      store,
		Addressing: resolver,
		Nonces:     idigest.NewNonceCache(30 * time.Second),
		subs:       make(map[string]*dialog.Dialog),
		log:        log.Logger.With().Str("caller", "Core").Logger(),
	}, nil
}

// AttachServer registers Core's handlers on srv for every method spec §4.5
// describes the dialogue layer as owning.
func (c *Core) AttachServer(srv *Server) {
	srv.OnInvite(c.HandleInvite)
	srv.OnAck(c.HandleAck)
	srv.OnBye(c.HandleBye)
	srv.OnCancel(c.HandleCancel)
	srv.OnRegister(c.HandleRegister)
	srv.OnOptions(c.HandleOptions)
	srv.OnSubscribe(c.HandleSubscribe)
	srv.OnNotify(c.HandleNotify)
	srv.OnRefer(c.HandleRefer)
	srv.OnInfo(c.HandleInfo)
	srv.OnMessage(c.HandleMessage)
	srv.OnPublish(c.HandlePublish)
}

// dialogKey builds the registry identity Registry.AdoptRemoteTag also uses,
// so UAS-created and UAC-adopted dialogues share one lookup scheme.
func dialogKey(callID, localTag, remoteTag string) string {
	return callID + "|" + localTag + "|" + remoteTag
}

func sourceUDPAddr(req *sip.Request) *net.UDPAddr {
	host, port, err := sip.ParseAddr(req.Source())
	if err != nil {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil
	}
	return &net.UDPAddr{IP: ip, Port: port}
}

// resolvePeer looks the sending peer up by source address, per spec §4.8
// ("C8 queried by C5 on INVITE to authenticate/route inbound").
func (c *Core) resolvePeer(req *sip.Request) (*peer.Peer, bool) {
	addr := sourceUDPAddr(req)
	if addr != nil {
		if p, ok := c.Peers.LookupByAddr(addr); ok {
			return p, true
		}
	}
	from := req.From()
	if from == nil {
		return nil, false
	}
	p, ok := c.Peers.LookupByName(from.Address.User)
	if !ok {
		return nil, false
	}
	if p.ACL != nil && addr != nil && !p.ACL.Apply(addr.IP) {
		return nil, false
	}
	return p, true
}

// challenge sends a 401/407 with a fresh digest challenge for realm, per
// spec §4.2 ("inbound INVITE/REGISTER without valid credentials is
// challenged once, replay is rejected via the nonce cache").
func (c *Core) challenge(req *sip.Request, tx sip.ServerTransaction, statusCode int, realm string) {
	nonce := c.Nonces.Mint(realm)
	chal := idigest.NewChallenge(realm, nonce, "", "", false)
	res := sip.NewResponseFromRequest(req, statusCode, "Unauthorized", nil)
	hdrName := "WWW-Authenticate"
	if statusCode == 407 {
		hdrName = "Proxy-Authenticate"
	}
	res.AppendHeader(sip.NewHeader(hdrName, chal.String()))
	tx.Respond(res)
}

func authorizationHeader(req *sip.Request) sip.Header {
	if h := req.GetHeader("Authorization"); h != nil {
		return h
	}
	return req.GetHeader("Proxy-Authorization")
}

// authenticate verifies the Authorization header against p's secret,
// challenging if absent. Returns true only when the caller should proceed
// with handling req.
func (c *Core) authenticate(req *sip.Request, tx sip.ServerTransaction, p *peer.Peer) bool {
	// insecure=invite (and very, which includes it) skips authentication of
	// INVITEs only; insecure=port affects address lookup, not auth.
	if req.Method == sip.INVITE && (p.Insecure == config.InsecureInvite || p.Insecure == config.InsecureVery) {
		return true
	}
	authz := authorizationHeader(req)
	if authz == nil {
		c.challenge(req, tx, 401, p.Realm)
		return false
	}
	cred, err := idigest.ParseCredentials(authz.Value())
	if err != nil {
		c.challenge(req, tx, 401, p.Realm)
		return false
	}
	if c.Nonces.IsStale(p.Realm, cred.Nonce) {
		c.challenge(req, tx, 401, p.Realm)
		return false
	}
	chal := idigest.NewChallenge(p.Realm, cred.Nonce, "", cred.QOP, false)
	ok, err := idigest.Verify(cred, chal, string(req.Method), p.Secret)
	if err != nil || !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 403, "Forbidden", nil))
		return false
	}
	return true
}

func requestExpires(req *sip.Request, def time.Duration) time.Duration {
	if h := req.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(h.Value()); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if contact := req.Contact(); contact != nil {
		if v := contact.Params.GetOr("expires", ""); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return time.Duration(n) * time.Second
			}
		}
	}
	return def
}

func userAgentOf(req *sip.Request) string {
	if h := req.GetHeader("User-Agent"); h != nil {
		return h.Value()
	}
	return ""
}

// HandleRegister implements C7's inbound half (spec §4.7): authenticate,
// then bind or unbind the peer's contact through the registrar.
func (c *Core) HandleRegister(req *sip.Request, tx sip.ServerTransaction) {
	to := req.To()
	if to == nil {
		tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}
	p, ok := c.Peers.LookupByName(to.Address.User)
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 404, "Not Found", nil))
		return
	}
	if !c.authenticate(req, tx, p) {
		return
	}

	addr := sourceUDPAddr(req)
	expires := requestExpires(req, c.Config.RegistrationDefaultExpiry)
	if max := c.Config.RegistrationMaxExpiry; max > 0 && expires > max {
		expires = max
	}

	var contact string
	if ch := req.Contact(); ch != nil {
		contact = ch.Address.String()
	}

	if expires <= 0 {
		c.Registrar.Unregister(p)
	} else {
		c.Registrar.Register(p, contact, addr, expires, userAgentOf(req))
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Expires", strconv.Itoa(int(expires/time.Second))))
	tx.Respond(res)
}

// HandleOptions answers a qualify probe or capability query (spec §4.8,
// C8's OPTIONS keepalive) with the methods this Core actually handles.
func (c *Core) HandleOptions(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Allow", "INVITE, ACK, CANCEL, BYE, OPTIONS, REGISTER, SUBSCRIBE, NOTIFY, REFER, INFO, MESSAGE, PUBLISH"))
	tx.Respond(res)
}

// HandleInvite implements the core of C5's method handler (spec §4.5):
// locate/authenticate the peer, reserve a call slot, negotiate SDP via C6,
// create the dialogue and bind it to a media-carrying channel.
func (c *Core) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	if existingTag := req.To().Params.GetOr("tag", ""); existingTag != "" {
		c.handleReinvite(req, tx, existingTag)
		return
	}

	dtx, err := c.DUA.ReadInvite(req, tx)
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}

	p, ok := c.resolvePeer(req)
	if !ok {
		dtx.Respond(403, "Forbidden", nil)
		return
	}
	if !c.authenticate(req, tx, p) {
		return
	}
	if !p.TryReserveCall() {
		dtx.Respond(486, "Busy Here", nil)
		return
	}

	offer, err := sdp.Parse(req.Body())
	if err != nil {
		p.ReleaseCall()
		dtx.Respond(488, "Not Acceptable Here", nil)
		return
	}

	answer, err := c.buildAnswer(offer, p)
	if err != nil {
		p.ReleaseCall()
		dtx.Respond(488, "Not Acceptable Here", nil)
		return
	}

	to := req.To()
	from := req.From()
	callID := req.CallID().Value()
	localTag := to.Params.GetOr("tag", "")
	remoteTag := from.Params.GetOr("tag", "")

	d := dialog.New(dialogKey(callID, localTag, remoteTag), callID, localTag, p)
	d.SetRouteSet(dialog.ReverseRouteSet(req))
	d.SeedLocalCSeq(req.CSeq().SeqNo)

	ch := channel.NewLoopback()
	d.BindChannel(ch)
	d.Establish(remoteTag)
	c.Dialogs.Add(d)

	c.Bus.Publish(manager.PeerStatusEvent(p.Name, "InUse", ""))

	if err := dtx.RespondSDP(answer); err != nil {
		p.ReleaseCall()
		d.End()
	}
}

// handleReinvite handles an in-dialogue INVITE (its To already carries the
// local tag we assigned at dialogue creation, so ReadInvite's fresh-tag
// bookkeeping does not apply). The only re-INVITE content this driver acts
// on is a T.38 switchover offer (spec §4.6, scenario S5); any other
// re-INVITE is answered 200 OK with its own offer body echoed back.
func (c *Core) handleReinvite(req *sip.Request, tx sip.ServerTransaction, localTag string) {
	callID := req.CallID().Value()
	remoteTag := req.From().Params.GetOr("tag", "")

	d, ok := c.Dialogs.Lookup(dialogKey(callID, localTag, remoteTag))
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if seq := req.CSeq().SeqNo; !d.CheckRemoteCSeq(seq) {
		tx.Respond(sip.NewResponseFromRequest(req, 500, "CSeq out of order", nil))
		return
	}

	offer, err := sdp.Parse(req.Body())
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	var image *sdp.MediaOffer
	for i := range offer.Media {
		if offer.Media[i].Kind == "image" && offer.Media[i].IsT38 {
			image = &offer.Media[i]
			break
		}
	}
	if image == nil {
		// Not a switchover re-INVITE; nothing else is implemented, so the
		// offer body is echoed back as the answer.
		tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", req.Body()))
		return
	}

	if !d.ReceiveT38Reinvite() {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	local := sdp.T38Params{Version: 0, MaxBitRate: 14400, RateManagement: sdp.T38RateTransferredTCF}
	negotiated := sdp.NegotiateT38(local, image.T38)

	addr := offer.Address
	if addr == "" {
		addr = image.Address
	}
	answer, err := sdp.BuildAnswer(sdp.BuildParams{
		LocalAddress: addr,
		ImagePort:    image.Port,
		T38:          &negotiated,
	})
	if err != nil {
		tx.Respond(sip.NewResponseFromRequest(req, 488, "Not Acceptable Here", nil))
		return
	}

	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	if err := tx.Respond(res); err != nil {
		return
	}
	d.ConfirmT38()
	// TODO: propagate the switch to the bridged leg (dialog.Bridge.Rebridge's
	// ReinviteSender) once Core tracks which Bridge, if any, owns d.
}

// buildAnswer negotiates an audio answer for offer against p's allowed
// codec list (spec §4.6 "codec order exactly as the caller applies the
// preferred-codec / peer-preference rule"), echoing the offered port and
// direction back so the loopback/proxied media path stays symmetric.
func (c *Core) buildAnswer(offer *sdp.Offer, p *peer.Peer) ([]byte, error) {
	var audio *sdp.MediaOffer
	for i := range offer.Media {
		if offer.Media[i].Kind == "audio" {
			audio = &offer.Media[i]
			break
		}
	}
	if audio == nil {
		return nil, fmt.Errorf("sdp: no audio media section offered")
	}

	codecs := negotiateCodecs(audio.Codecs, p.AllowedCodecs)
	if len(codecs) == 0 {
		return nil, fmt.Errorf("sdp: no common codec with peer %s", p.Name)
	}

	addr := offer.Address
	if addr == "" {
		addr = audio.Address
	}

	return sdp.BuildAnswer(sdp.BuildParams{
		LocalAddress: addr,
		AudioPort:    audio.Port,
		AudioCodecs:  codecs,
		Direction:    audio.Direction,
	})
}

// negotiateCodecs keeps only the offered codecs whose name also appears in
// allowed, preserving the offer's order when allowed is empty (no
// restriction configured).
func negotiateCodecs(offered []sdp.Codec, allowed []string) []sdp.Codec {
	if len(allowed) == 0 {
		return offered
	}
	want := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		want[strings.ToUpper(a)] = struct{}{}
	}
	out := make([]sdp.Codec, 0, len(offered))
	for _, codec := range offered {
		if _, ok := want[strings.ToUpper(codec.Name)]; ok {
			out = append(out, codec)
		}
	}
	return out
}

// HandleAck completes the three-way handshake; no domain action beyond
// confirming the dialogue is now in the call, since RespondSDP already
// moved state to confirmed.
func (c *Core) HandleAck(req *sip.Request, tx sip.ServerTransaction) {}

// HandleBye tears the dialogue down, releases the peer's call slot and
// maps the hangup cause (spec §4.5/§6.6 "cause code translation").
func (c *Core) HandleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	localTag := req.To().Params.GetOr("tag", "")
	remoteTag := req.From().Params.GetOr("tag", "")

	d, ok := c.Dialogs.Lookup(dialogKey(callID, localTag, remoteTag))
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if !d.CheckRemoteCSeq(req.CSeq().SeqNo) {
		tx.Respond(sip.NewResponseFromRequest(req, 500, "Server Internal Error", nil))
		return
	}

	d.End()
	c.Dialogs.Remove(d)
	if d.Peer != nil {
		d.Peer.ReleaseCall()
		c.Bus.Publish(manager.PeerStatusEvent(d.Peer.Name, "Registered", cause.Normal.String()))
	}

	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

// HandleCancel is largely handled by the transaction layer's OnCancel hook
// wired in ReadInvite; this only answers the CANCEL transaction itself.
func (c *Core) HandleCancel(req *sip.Request, tx sip.ServerTransaction) {
	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

// subscriptionKey groups SUBSCRIBE dialogues for PurgeOldSubscriptions
// (spec §9 Open Questions: "purge old subscriptions from the same peer
// when a new one arrives with the same exten+context").
func subscriptionKey(peerName, exten, context string) string {
	return peerName + "\x00" + exten + "\x00" + context
}

func (c *Core) peerConfig(name string) (config.PeerConfig, bool) {
	for _, pc := range c.Config.Peers {
		if pc.Name == name {
			return pc, true
		}
	}
	return config.PeerConfig{}, false
}

// HandleSubscribe implements C5's subscription dialogue handling. When the
// owning peer's PurgeOldSubscriptions is set, a new SUBSCRIBE for the same
// extension+context tears down any prior subscription dialogue from that
// peer before the new one is installed.
func (c *Core) HandleSubscribe(req *sip.Request, tx sip.ServerTransaction) {
	p, ok := c.resolvePeer(req)
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 403, "Forbidden", nil))
		return
	}
	if !c.authenticate(req, tx, p) {
		return
	}

	to := req.To()
	from := req.From()
	exten := to.Address.User
	pc, _ := c.peerConfig(p.Name)

	key := subscriptionKey(p.Name, exten, p.Context)
	callID := req.CallID().Value()

	c.subsMu.Lock()
	if pc.PurgeOldSubscriptions {
		if old, exists := c.subs[key]; exists && old.CallID != callID {
			old.End()
			c.Dialogs.Remove(old)
		}
	}

	localTag := to.Params.GetOr("tag", "")
	remoteTag := from.Params.GetOr("tag", "")
	d := dialog.New(dialogKey(callID, localTag, remoteTag), callID, localTag, p)
	d.Establish(remoteTag)
	d.SubType = dialog.SubscriptionPresence
	c.subs[key] = d
	c.subsMu.Unlock()

	c.Dialogs.Add(d)

	res := sip.NewResponseFromRequest(req, 202, "Accepted", nil)
	if h := req.GetHeader("Expires"); h != nil {
		res.AppendHeader(sip.NewHeader("Expires", h.Value()))
	}
	tx.Respond(res)
}

// HandleNotify acknowledges an in-dialogue NOTIFY (used both for the
// subscription hint flow and for the registrar's own status fan-out).
func (c *Core) HandleNotify(req *sip.Request, tx sip.ServerTransaction) {
	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

// HandleRefer answers an in-dialogue REFER with 202 Accepted (481 when the
// dialogue is unknown). It performs no transfer: Refer-To is not parsed, no
// channel is masqueraded and no progress NOTIFY is sent.
func (c *Core) HandleRefer(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	localTag := req.To().Params.GetOr("tag", "")
	remoteTag := req.From().Params.GetOr("tag", "")
	if _, ok := c.Dialogs.Lookup(dialogKey(callID, localTag, remoteTag)); !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	tx.Respond(sip.NewResponseFromRequest(req, 202, "Accepted", nil))
}

// HandleInfo relays DTMF/application-level INFO into the dialogue's bound
// channel (spec §4.6 "DTMF relay"), per the out-of-band INFO convention.
func (c *Core) HandleInfo(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	localTag := req.To().Params.GetOr("tag", "")
	remoteTag := req.From().Params.GetOr("tag", "")
	d, ok := c.Dialogs.Lookup(dialogKey(callID, localTag, remoteTag))
	if !ok {
		tx.Respond(sip.NewResponseFromRequest(req, 481, "Call/Transaction Does Not Exist", nil))
		return
	}
	if ch, err := d.Channel(); err == nil {
		ch.Write(channel.Frame{Type: channel.FrameDTMF, Payload: string(req.Body())})
	}
	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}

// HandleMessage implements out-of-dialogue instant messaging (MESSAGE);
// spec scope stops at acknowledging delivery, routing is a channel/dialplan
// concern outside C1-C8.
func (c *Core) HandleMessage(req *sip.Request, tx sip.ServerTransaction) {
	tx.Respond(sip.NewResponseFromRequest(req, 202, "Accepted", nil))
}

// HandlePublish acknowledges event-state publications (e.g. presence);
// Core does not fan these out to subscribers itself.
func (c *Core) HandlePublish(req *sip.Request, tx sip.ServerTransaction) {
	tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
}
