package broker

import (
	"context"
	"testing"
	"time"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/public/client"
	"github.com/telling-msg/telling/public/service"
	"github.com/telling-msg/telling/wire"
)

func TestBrokerEndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerBase := addr.InprocAddr("voice-broker-e2e")
	b := New(false)
	if err := b.Open(ctx, brokerBase); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	// The registration body's URI prefix doubles as the in-process dial
	// name the broker uses to reach this service (spec §4.6), so the
	// service listens under that same string.
	const servicePrefix = "/voices"
	serviceBase := addr.InprocAddr(servicePrefix)

	// A real service binds all three of its endpoints before enlisting, so
	// the broker's route never races an endpoint's listener coming
	// up; each communicator here starts listening immediately and blocks
	// independently until the broker dials in.
	type dialResult struct {
		reply   *service.Reply
		pull    *service.Pull
		publish *service.Publish
		err     error
	}
	replyReady := make(chan dialResult, 1)
	pullReady := make(chan dialResult, 1)
	publishReady := make(chan dialResult, 1)
	go func() {
		reply, err := service.DialReply(ctx, serviceBase, false)
		replyReady <- dialResult{reply: reply, err: err}
	}()
	go func() {
		pull, err := service.DialPull(ctx, serviceBase, false)
		pullReady <- dialResult{pull: pull, err: err}
	}()
	go func() {
		publish, err := service.DialPublish(ctx, serviceBase, false)
		publishReady <- dialResult{publish: publish, err: err}
	}()

	// Give the three listeners a moment to bind before the broker's
	// route starts dialing them.
	time.Sleep(10 * time.Millisecond)

	// A registrar connection separate from the eventual client/service
	// dials, enlisting the above serviceBase under /voices.
	registrarSocket := transport.NewSocket()
	registrarConn, err := client.DialRequest(ctx, registrarSocket, brokerBase, false)
	if err != nil {
		t.Fatalf("DialRequest for registration: %v", err)
	}
	defer registrarConn.Close()

	enlistReply, err := registrarConn.Call(ctx, wire.POST, servicesURI, []byte(servicePrefix+"\n\n"))
	if err != nil {
		t.Fatalf("enlist Call: %v", err)
	}
	if enlistReply.Status != wire.StatusCreated {
		t.Fatalf("enlist status = %v, body = %s", enlistReply.Status, enlistReply.Body)
	}

	var reply *service.Reply
	var pull *service.Pull
	var publish *service.Publish
	for i := 0; i < 3; i++ {
		select {
		case res := <-replyReady:
			if res.err != nil {
				t.Fatalf("DialReply: %v", res.err)
			}
			reply = res.reply
		case res := <-pullReady:
			if res.err != nil {
				t.Fatalf("DialPull: %v", res.err)
			}
			pull = res.pull
		case res := <-publishReady:
			if res.err != nil {
				t.Fatalf("DialPublish: %v", res.err)
			}
			publish = res.publish
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for the broker to dial the service's listeners")
		}
	}
	defer reply.Close()
	defer pull.Close()
	defer publish.Close()

	go func() {
		req, err := reply.Receive(ctx)
		if err != nil {
			return
		}
		reply.Respond(req, wire.StatusOK, []byte("hello "+string(req.Body)))
	}()

	clientSocket := transport.NewSocket()
	req, err := client.DialRequest(ctx, clientSocket, brokerBase, false)
	if err != nil {
		t.Fatalf("DialRequest: %v", err)
	}
	defer req.Close()

	callReply, err := req.Call(ctx, wire.POST, "/voices", []byte("world"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(callReply.Body) != "hello world" {
		t.Errorf("reply body = %q, want %q", callReply.Body, "hello world")
	}

	pushClient, err := client.DialPush(ctx, clientSocket, brokerBase, false)
	if err != nil {
		t.Fatalf("DialPush: %v", err)
	}
	defer pushClient.Close()
	if err := pushClient.Send(wire.POST, "/voices", []byte("pushed")); err != nil {
		t.Fatalf("Push.Send: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	var pushed *wire.Message
	for time.Now().Before(deadline) {
		if msg, ok := pull.Consume(); ok {
			pushed = msg
			break
		}
		time.Sleep(time.Millisecond)
	}
	if pushed == nil {
		t.Fatalf("timed out waiting for pushed message to reach the service")
	}
	if string(pushed.Body) != "pushed" {
		t.Errorf("pushed body = %q, want %q", pushed.Body, "pushed")
	}

	sub, err := client.DialSubscribe(ctx, clientSocket, brokerBase, "/voices", false)
	if err != nil {
		t.Fatalf("DialSubscribe: %v", err)
	}
	defer sub.Close()

	// Give the broker time to adopt the subscriber pipe before publishing.
	time.Sleep(10 * time.Millisecond)
	if err := publish.Publish("/voices/ready", wire.StatusOK, []byte("booted")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	var published *wire.Message
	for time.Now().Before(deadline) {
		if msg, ok := sub.Consume(); ok {
			published = msg
			break
		}
		time.Sleep(time.Millisecond)
	}
	if published == nil {
		t.Fatalf("timed out waiting for publication to reach the subscriber")
	}
	if published.URI != "/voices/ready" || string(published.Body) != "booted" {
		t.Errorf("published message = %+v", published)
	}
}
