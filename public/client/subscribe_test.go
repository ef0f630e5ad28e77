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

func TestSubscribeFiltersByPrefix(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	base := addr.InprocAddr("client-subscribe-test")

	publishReady := make(chan *service.Publish, 1)
	go func() {
		p, err := service.DialPublish(ctx, base, false)
		if err == nil {
			publishReady <- p
		}
	}()
	time.Sleep(5 * time.Millisecond)

	socket := transport.NewSocket()
	sub, err := DialSubscribe(ctx, socket, base, "/weather", false)
	if err != nil {
		t.Fatalf("DialSubscribe: %v", err)
	}
	defer sub.Close()

	var publish *service.Publish
	select {
	case publish = <-publishReady:
	case <-ctx.Done():
		t.Fatal("timed out waiting for publish to accept")
	}
	defer publish.Close()

	time.Sleep(5 * time.Millisecond)
	if err := publish.Publish("/news/sports", wire.StatusOK, []byte("irrelevant")); err != nil {
		t.Fatalf("Publish (non-matching): %v", err)
	}
	if err := publish.Publish("/weather/oslo", wire.StatusOK, []byte("rain")); err != nil {
		t.Fatalf("Publish (matching): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	var got *wire.Message
	for time.Now().Before(deadline) {
		if msg, ok := sub.Consume(); ok {
			got = msg
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got == nil {
		t.Fatal("timed out waiting for matching publication")
	}
	if got.URI != "/weather/oslo" || string(got.Body) != "rain" {
		t.Errorf("consumed message = %+v, want /weather/oslo rain", got)
	}

	if _, ok := sub.Consume(); ok {
		t.Error("non-matching publication should have been filtered out")
	}
}
