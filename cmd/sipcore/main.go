// Command sipcore is a smoke-test driver: it wires a Core to a real UDP
// listener on loopback, places one INVITE through it as a client, exercises
// the dialogue end to end (offer/answer, ACK, BYE) and prints what happened.
// It exists to prove the handlers in core.go actually run a call, not to be
// a deployable proxy.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	sipcore "github.com/mjagdis/sipcore"
	"github.com/mjagdis/sipcore/config"
	"github.com/mjagdis/sipcore/sip"
)

const demoOffer = `v=0
o=- 1 1 IN IP4 127.0.0.1
s=sipcore demo
c=IN IP4 127.0.0.1
t=0 0
m=audio 10000 RTP/AVP 0
a=rtpmap:0 PCMU/8000
a=sendrecv
`

func run() error {
	cfg := config.Defaults()
	cfg.Realm = "sipcore.demo"
	cfg.Peers = []config.PeerConfig{{
		Name:          "alice",
		Context:       "demo",
		Insecure:      config.InsecureInvite,
		AllowedCodecs: []string{"PCMU"},
		CallLimit:     4,
	}}

	uasUA, err := sipcore.NewUA()
	if err != nil {
		return fmt.Errorf("server UA: %w", err)
	}
	defer uasUA.Close()

	srv, err := sipcore.NewServer(uasUA)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	srvContact := sip.ContactHeader{Address: sip.Uri{User: "sipcore", Host: "127.0.0.1", Port: 15560}}
	srvClient, err := sipcore.NewClient(uasUA, sipcore.WithClientHostname("127.0.0.1"), sipcore.WithClientPort(15560))
	if err != nil {
		return fmt.Errorf("server-side client: %w", err)
	}
	dua := &sipcore.DialogUA{Client: srvClient, ContactHDR: srvContact}

	core, err := sipcore.NewCore(&cfg, uasUA, dua)
	if err != nil {
		return fmt.Errorf("core: %w", err)
	}
	core.AttachServer(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	go func() {
		if err := srv.ListenAndServe(context.WithValue(ctx, sipcore.ListenReadyCtxKey, sipcore.ListenReadyCtxValue(ready)), "udp", "127.0.0.1:15560"); err != nil {
			log.Printf("server stopped: %v", err)
		}
	}()
	<-ready
	time.Sleep(100 * time.Millisecond)

	callerUA, err := sipcore.NewUA(sipcore.WithUserAgent("alice"))
	if err != nil {
		return fmt.Errorf("caller UA: %w", err)
	}
	defer callerUA.Close()

	callerClient, err := sipcore.NewClient(callerUA, sipcore.WithClientHostname("127.0.0.1"), sipcore.WithClientConnectionAddr("127.0.0.1:0"))
	if err != nil {
		return fmt.Errorf("caller client: %w", err)
	}
	callerContact := sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "127.0.0.1", Port: 0}}
	callerDUA := &sipcore.DialogUA{Client: callerClient, ContactHDR: callerContact}

	recipient := sip.Uri{User: "bob", Host: "127.0.0.1", Port: 15560}
	inviteCtx, inviteCancel := context.WithTimeout(ctx, 5*time.Second)
	defer inviteCancel()

	session, err := callerDUA.Invite(inviteCtx, recipient, []byte(demoOffer))
	if err != nil {
		return fmt.Errorf("invite: %w", err)
	}

	if err := session.WaitAnswer(inviteCtx, sipcore.AnswerOptions{
		OnResponse: func(res *sip.Response) {
			fmt.Printf("<- %s\n", res.StartLine())
		},
	}); err != nil {
		return fmt.Errorf("wait answer: %w", err)
	}
	fmt.Println("dialogue established, answer SDP:")
	fmt.Println(string(session.InviteResponse.Body()))

	if err := session.Ack(inviteCtx); err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	time.Sleep(200 * time.Millisecond)

	byeCtx, byeCancel := context.WithTimeout(ctx, 5*time.Second)
	defer byeCancel()
	if err := session.Bye(byeCtx); err != nil {
		return fmt.Errorf("bye: %w", err)
	}

	fmt.Println("call completed cleanly")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "sipcore demo failed:", err)
		os.Exit(1)
	}
}
