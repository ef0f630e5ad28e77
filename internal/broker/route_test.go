package broker

import (
	"context"
	"testing"
	"time"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// fakeService accepts the three route connections a real enlisted service
// would listen for, and lets the test script simple req/push/pub behavior
// directly against the raw pipes. Each pattern listens on its own socket,
// so a test can pick out the pipe of one pattern.
type fakeService struct {
	reqSocket, pushSocket, subSocket *transport.Socket
	close                            func()
}

func newFakeService(t *testing.T, base addr.Address) *fakeService {
	t.Helper()
	fs := &fakeService{
		reqSocket:  transport.NewSocket(),
		pushSocket: transport.NewSocket(),
		subSocket:  transport.NewSocket(),
	}

	reqLn, err := fs.reqSocket.Listen(base, addr.ReqRep)
	if err != nil {
		t.Fatalf("listen req: %v", err)
	}
	pushLn, err := fs.pushSocket.Listen(base, addr.PushPull)
	if err != nil {
		t.Fatalf("listen push: %v", err)
	}
	subLn, err := fs.subSocket.Listen(base, addr.PubSub)
	if err != nil {
		t.Fatalf("listen sub: %v", err)
	}
	fs.close = func() {
		reqLn.Close()
		pushLn.Close()
		subLn.Close()
	}
	return fs
}

// waitForPipe polls the socket's adopted pipes and returns the most
// recently adopted one, once one appears.
func waitForPipe(t *testing.T, socket *transport.Socket) *transport.Pipe {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pipes := socket.Pipes()
		if len(pipes) > 0 {
			return pipes[len(pipes)-1]
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for pipe")
	return nil
}

func TestRouteForwardRequestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := addr.InprocAddr("voice-route-req-test")
	fs := newFakeService(t, base)
	defer fs.close()

	brokerSocket := transport.NewSocket()
	route, err := openRoute(ctx, brokerSocket, "/voices", base, func(*wire.Message) {})
	if err != nil {
		t.Fatalf("openRoute: %v", err)
	}
	defer route.close(brokerSocket)

	servicePipe := waitForPipe(t, fs.reqSocket)

	go func() {
		raw, err := servicePipe.Recv(ctx)
		if err != nil {
			return
		}
		req, err := wire.Parse(raw)
		if err != nil {
			return
		}
		qid := req.Headers.Get(interiorQueryIDHeader)
		w := wire.NewWriter(wire.ProtoTelling)
		w.StartReply(wire.StatusOK, wire.StatusOK.DefaultReason())
		w.WriteHeader(interiorQueryIDHeader, qid)
		w.WriteBody([]byte("ok"))
		out, _ := w.Release()
		servicePipe.Send(ctx, out)
	}()

	replyCh := make(chan *wire.Message, 1)
	route.forwardRequest(wire.NewRequest(wire.POST, "/voices", []byte("hi")), func(msg *wire.Message) {
		replyCh <- msg
	})

	select {
	case reply := <-replyCh:
		if string(reply.Body) != "ok" {
			t.Errorf("reply body = %q, want %q", reply.Body, "ok")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded reply")
	}
}

func TestRouteForwardPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := addr.InprocAddr("voice-route-push-test")
	fs := newFakeService(t, base)
	defer fs.close()

	brokerSocket := transport.NewSocket()
	route, err := openRoute(ctx, brokerSocket, "/voices", base, func(*wire.Message) {})
	if err != nil {
		t.Fatalf("openRoute: %v", err)
	}
	defer route.close(brokerSocket)

	// The push interior pipe is the one adopted by the fake service's
	// push/pull socket.
	pushPipe := waitForPipe(t, fs.pushSocket)
	received := make(chan *wire.Message, 1)
	go func() {
		raw, err := pushPipe.Recv(ctx)
		if err != nil {
			return
		}
		msg, err := wire.Parse(raw)
		if err == nil {
			received <- msg
		}
	}()

	if err := route.forwardPush(wire.NewRequest(wire.POST, "/voices", []byte("fire-and-forget"))); err != nil {
		t.Fatalf("forwardPush: %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Body) != "fire-and-forget" {
			t.Errorf("push body = %q, want %q", msg.Body, "fire-and-forget")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for push")
	}
}

func TestRouteFanOutOnPublication(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := addr.InprocAddr("voice-route-sub-test")
	fs := newFakeService(t, base)
	defer fs.close()

	fanOutCh := make(chan *wire.Message, 1)
	brokerSocket := transport.NewSocket()
	route, err := openRoute(ctx, brokerSocket, "/voices", base, func(msg *wire.Message) {
		fanOutCh <- msg
	})
	if err != nil {
		t.Fatalf("openRoute: %v", err)
	}
	defer route.close(brokerSocket)

	servicePipe := waitForPipe(t, fs.subSocket)
	w := wire.NewWriter(wire.ProtoTelling)
	if err := w.StartReport("/voices/ready", wire.StatusOK, wire.StatusOK.DefaultReason()); err != nil {
		t.Fatalf("StartReport: %v", err)
	}
	w.WriteBody([]byte("booted"))
	raw, _ := w.Release()

	go servicePipe.Send(ctx, raw)

	select {
	case msg := <-fanOutCh:
		if msg.URI != "/voices/ready" || string(msg.Body) != "booted" {
			t.Errorf("fanned-out message = %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for fan-out")
	}
}
