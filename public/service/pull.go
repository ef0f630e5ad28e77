package service

import (
	"context"
	"log"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/queue"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// Pull is the service side of push/pull: a recv-loop draining requests the
// broker dispatches to this service.
type Pull struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	listener *transport.Listener
	recvLoop *async.RecvLoop
	inbox    *queue.Recv[*wire.Message]
}

type pullHandler struct {
	inbox *queue.Recv[*wire.Message]
	debug func(format string, args ...interface{})
}

func (h *pullHandler) OnStart(async.Tag)        {}
func (h *pullHandler) OnStop(async.Tag, error)  {}
func (h *pullHandler) OnError(async.Tag, error) {}

func (h *pullHandler) OnRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	h.inbox.Push(msg)
	if h.debug != nil {
		h.debug("pulled %s %s", msg.Method, msg.URI)
	}
}

// DialPull listens at the push/pull endpoint derived from base and blocks
// until the broker's route to this service dials in, registering as the service
// side of that route.
func DialPull(ctx context.Context, base addr.Address, debug bool) (*Pull, error) {
	socket, ln, pipe, err := listenAndAcceptOne(ctx, base, addr.PushPull)
	if err != nil {
		return nil, err
	}
	p := &Pull{
		Debug:    debug,
		log:      newLogger("pull"),
		pipe:     pipe,
		socket:   socket,
		listener: ln,
		inbox:    &queue.Recv[*wire.Message]{},
	}
	h := &pullHandler{inbox: p.inbox, debug: p.debugf}
	wrapper := lifelock.NewWrapper[async.RecvHandler](h)
	p.recvLoop = async.NewRecvLoop(wrapper.Weak(), pipe, async.Tag{})
	p.recvLoop.Start(ctx)
	p.log.Printf("adopted pipe from %s", base)
	return p, nil
}

func (p *Pull) debugf(format string, args ...interface{}) {
	if p.Debug {
		p.log.Printf(format, args...)
	}
}

// Consume pulls the next pushed request, if any has arrived.
func (p *Pull) Consume() (*wire.Message, bool) {
	return p.inbox.Pull()
}

// Close stops the recv loop, drops the underlying pipe, and stops
// listening for new connections.
func (p *Pull) Close() {
	p.recvLoop.Stop()
	p.socket.Drop(p.pipe)
	p.listener.Close()
	p.log.Printf("closed")
}
