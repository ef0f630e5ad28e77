package service

import (
	"context"
	"fmt"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/transport"
)

// listenAndAcceptOne opens a listener at base for pattern and blocks until
// a single pipe has been adopted, handing it back along with the socket
// and listener that produced it.
//
// Service communicators listen rather than dial: a Route is built by the
// broker reaching out to an enlisted service's own listening endpoints
// once enlistment succeeds, so the service side must already be listening
// there first (spec §4.7).
func listenAndAcceptOne(ctx context.Context, base addr.Address, pattern addr.Pattern) (*transport.Socket, *transport.Listener, *transport.Pipe, error) {
	socket := transport.NewSocket()
	first := make(chan *transport.Pipe, 1)
	socket.OnPipeEvent(func(ev transport.PipeEvent, p *transport.Pipe) {
		if ev != transport.PipeAddPost {
			return
		}
		select {
		case first <- p:
		default:
		}
	})

	ln, err := socket.Listen(base, pattern)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("service: listen %s: %w", base.URI(pattern), err)
	}

	select {
	case p := <-first:
		return socket, ln, p, nil
	case <-ctx.Done():
		ln.Close()
		return nil, nil, nil, ctx.Err()
	}
}
