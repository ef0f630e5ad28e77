package broker

import (
	"context"
	"testing"
	"time"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// listenFakeService brings up listeners on all three patterns at base, as
// an enlisted service would, so openRoute has something to dial into.
func listenFakeService(t *testing.T, base addr.Address) (socket *transport.Socket, closeAll func()) {
	t.Helper()
	socket = transport.NewSocket()
	reqLn, err := socket.Listen(base, addr.ReqRep)
	if err != nil {
		t.Fatalf("listen req/rep: %v", err)
	}
	pushLn, err := socket.Listen(base, addr.PushPull)
	if err != nil {
		t.Fatalf("listen push/pull: %v", err)
	}
	subLn, err := socket.Listen(base, addr.PubSub)
	if err != nil {
		t.Fatalf("listen pub/sub: %v", err)
	}
	return socket, func() {
		reqLn.Close()
		pushLn.Close()
		subLn.Close()
	}
}

func TestRouterOpenLookupClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	base := addr.InprocAddr("voice-service-router-test")
	_, closeFake := listenFakeService(t, base)
	defer closeFake()

	brokerSocket := transport.NewSocket()
	router := NewRouter(ctx, brokerSocket, func(*wire.Message) {})
	defer router.Shutdown()

	route, err := router.Open("/voices", base)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if route == nil {
		t.Fatalf("Open returned nil route with no error")
	}

	if got := router.Lookup("/voices/en"); got != route {
		t.Errorf("Lookup(/voices/en) = %v, want %v", got, route)
	}
	if got := router.Lookup("/unrelated"); got != nil {
		t.Errorf("Lookup(/unrelated) = %v, want nil", got)
	}

	router.Close("/voices")
	if got := router.Lookup("/voices"); got != nil {
		t.Errorf("Lookup after Close = %v, want nil", got)
	}
}

func TestRouterOpenFailsWithoutListener(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerSocket := transport.NewSocket()
	router := NewRouter(ctx, brokerSocket, func(*wire.Message) {})
	defer router.Shutdown()

	base := addr.InprocAddr("nobody-home-router-test")
	route, err := router.Open("/nobody", base)
	if err == nil {
		t.Fatalf("expected error opening route to a service with no listeners")
	}
	if route != nil {
		t.Errorf("expected nil route on failure, got %v", route)
	}
	if got := router.Lookup("/nobody"); got != nil {
		t.Errorf("failed open must not install a route, got %v", got)
	}
}

func TestRouterShutdownStopsManagement(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	brokerSocket := transport.NewSocket()
	router := NewRouter(ctx, brokerSocket, func(*wire.Message) {})

	done := make(chan struct{})
	go func() {
		router.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Shutdown did not return in time")
	}
}
