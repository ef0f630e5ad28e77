package client

import (
	"context"
	"log"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// Push is the client side of push/pull: fire-and-forget requests that the
// broker fans out to exactly one of the services registered for the
// target URI prefix.
type Push struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	sendLoop *async.SendLoop
	protocol string
}

func (p *Push) debugf(format string, args ...interface{}) {
	if p.Debug {
		p.log.Printf(format, args...)
	}
}

type pushHandler struct{}

func (pushHandler) OnStart(async.Tag)              {}
func (pushHandler) OnStop(async.Tag, error)        {}
func (pushHandler) OnError(async.Tag, error)        {}
func (pushHandler) OnPrepare(async.Tag, *[]byte)    {}
func (pushHandler) OnSent(async.Tag)                {}

// DialPush dials the broker's push/pull endpoint derived from base.
func DialPush(ctx context.Context, socket *transport.Socket, base addr.Address, debug bool) (*Push, error) {
	pipe, err := socket.Dial(ctx, base, addr.PushPull)
	if err != nil {
		return nil, err
	}
	wrapper := lifelock.NewWrapper[async.SendHandler](pushHandler{})
	p := &Push{
		Debug:    debug,
		log:      newLogger("push"),
		pipe:     pipe,
		socket:   socket,
		protocol: wire.ProtoTelling,
		sendLoop: async.NewSendLoop(wrapper.Weak(), pipe, async.Tag{}),
	}
	p.sendLoop.Start(ctx)
	p.log.Printf("dialed %s", base)
	return p, nil
}

// Send pushes one request envelope toward uri. It returns as soon as the
// message is queued or handed to the transport; it does not wait for the
// receiving service to process it.
func (p *Push) Send(method wire.Method, uri string, body []byte) error {
	w := wire.NewWriter(p.protocol)
	if err := w.StartRequest(method, uri); err != nil {
		return err
	}
	if err := w.WriteBody(body); err != nil {
		return err
	}
	raw, err := w.Release()
	if err != nil {
		return err
	}
	p.sendLoop.Submit(raw)
	p.debugf("sent %s %s", method, uri)
	return nil
}

// Close stops the send loop and drops the underlying pipe.
func (p *Push) Close() {
	p.sendLoop.Stop()
	p.socket.Drop(p.pipe)
	p.log.Printf("closed")
}
