package client

import (
	"context"
	"testing"
	"time"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/public/service"
	"github.com/telling-msg/telling/wire"
)

func TestRequestCallRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	base := addr.InprocAddr("client-request-test")

	replyReady := make(chan *service.Reply, 1)
	replyErr := make(chan error, 1)
	go func() {
		r, err := service.DialReply(ctx, base, false)
		if err != nil {
			replyErr <- err
			return
		}
		replyReady <- r
	}()
	time.Sleep(5 * time.Millisecond)

	socket := transport.NewSocket()
	req, err := DialRequest(ctx, socket, base, false)
	if err != nil {
		t.Fatalf("DialRequest: %v", err)
	}
	defer req.Close()

	var reply *service.Reply
	select {
	case reply = <-replyReady:
	case err := <-replyErr:
		t.Fatalf("DialReply: %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for service to accept")
	}
	defer reply.Close()

	go func() {
		incoming, err := reply.Receive(ctx)
		if err != nil {
			return
		}
		reply.Respond(incoming, wire.StatusOK, []byte("echo:"+string(incoming.Body)))
	}()

	got, err := req.Call(ctx, wire.GET, "/anything", []byte("ping"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got.Status != wire.StatusOK {
		t.Errorf("status = %v, want 200", got.Status)
	}
	if string(got.Body) != "echo:ping" {
		t.Errorf("body = %q, want %q", got.Body, "echo:ping")
	}
}

func TestRequestCallConcurrentCorrelation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	base := addr.InprocAddr("client-request-concurrent-test")

	replyReady := make(chan *service.Reply, 1)
	go func() {
		r, err := service.DialReply(ctx, base, false)
		if err == nil {
			replyReady <- r
		}
	}()
	time.Sleep(5 * time.Millisecond)

	socket := transport.NewSocket()
	req, err := DialRequest(ctx, socket, base, false)
	if err != nil {
		t.Fatalf("DialRequest: %v", err)
	}
	defer req.Close()

	var reply *service.Reply
	select {
	case reply = <-replyReady:
	case <-ctx.Done():
		t.Fatal("timed out waiting for service to accept")
	}
	defer reply.Close()

	go func() {
		for i := 0; i < 2; i++ {
			incoming, err := reply.Receive(ctx)
			if err != nil {
				return
			}
			reply.Respond(incoming, wire.StatusOK, append([]byte("reply-to:"), incoming.Body...))
		}
	}()

	type result struct {
		body string
		err  error
	}
	results := make(chan result, 2)
	for _, body := range []string{"a", "b"} {
		body := body
		go func() {
			got, err := req.Call(ctx, wire.GET, "/x", []byte(body))
			if err != nil {
				results <- result{err: err}
				return
			}
			results <- result{body: string(got.Body)}
		}()
	}

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil {
			t.Fatalf("Call: %v", r.err)
		}
		seen[r.body] = true
	}
	if !seen["reply-to:a"] || !seen["reply-to:b"] {
		t.Errorf("missing expected replies, got %v", seen)
	}
}
