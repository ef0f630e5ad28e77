package service

import (
	"context"
	"testing"
	"time"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
)

func TestDialPullCancelledBeforeAcceptReturnsContextErr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	base := addr.InprocAddr("service-listen-test-no-dialer")
	_, err := DialPull(ctx, base, false)
	if err == nil {
		t.Fatal("expected error when context expires before anything dials in")
	}
}

func TestDialReplyAndPullUseIndependentEndpoints(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	base := addr.InprocAddr("service-listen-test-independent")

	replyReady := make(chan error, 1)
	pullReady := make(chan error, 1)
	go func() {
		r, err := DialReply(ctx, base, false)
		if err == nil {
			r.Close()
		}
		replyReady <- err
	}()
	go func() {
		p, err := DialPull(ctx, base, false)
		if err == nil {
			p.Close()
		}
		pullReady <- err
	}()

	time.Sleep(10 * time.Millisecond)

	// Dialing the req/rep endpoint must only ever satisfy DialReply's
	// listener, never DialPull's, even though both derive from the same
	// base address (spec §3: pattern index distinguishes the two URIs).
	reqSocket := transport.NewSocket()
	reqPipe, err := reqSocket.Dial(ctx, base, addr.ReqRep)
	if err != nil {
		t.Fatalf("dial req/rep: %v", err)
	}
	defer reqSocket.Drop(reqPipe)

	pullSocket := transport.NewSocket()
	pullPipe, err := pullSocket.Dial(ctx, base, addr.PushPull)
	if err != nil {
		t.Fatalf("dial push/pull: %v", err)
	}
	defer pullSocket.Drop(pullPipe)

	if err := <-replyReady; err != nil {
		t.Fatalf("DialReply: %v", err)
	}
	if err := <-pullReady; err != nil {
		t.Fatalf("DialPull: %v", err)
	}
}
