package service

import (
	"context"
	"log"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// Publish is the service side of pub/sub: a send-loop handing reports to
// the broker, which fans them out to every subscriber whose filter
// matches the report's URI.
type Publish struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	listener *transport.Listener
	sendLoop *async.SendLoop
	protocol string
}

func (p *Publish) debugf(format string, args ...interface{}) {
	if p.Debug {
		p.log.Printf(format, args...)
	}
}

type publishHandler struct{}

func (publishHandler) OnStart(async.Tag)           {}
func (publishHandler) OnStop(async.Tag, error)     {}
func (publishHandler) OnError(async.Tag, error)    {}
func (publishHandler) OnPrepare(async.Tag, *[]byte) {}
func (publishHandler) OnSent(async.Tag)             {}

// DialPublish listens at the pub/sub endpoint derived from base and blocks
// until the broker's route to this service dials in, registering as the service
// (publisher) side of that route.
func DialPublish(ctx context.Context, base addr.Address, debug bool) (*Publish, error) {
	socket, ln, pipe, err := listenAndAcceptOne(ctx, base, addr.PubSub)
	if err != nil {
		return nil, err
	}
	wrapper := lifelock.NewWrapper[async.SendHandler](publishHandler{})
	p := &Publish{
		Debug:    debug,
		log:      newLogger("publish"),
		pipe:     pipe,
		socket:   socket,
		listener: ln,
		protocol: wire.ProtoTelling,
		sendLoop: async.NewSendLoop(wrapper.Weak(), pipe, async.Tag{}),
	}
	p.sendLoop.Start(ctx)
	p.log.Printf("adopted pipe from %s", base)
	return p, nil
}

// Publish reports status/body under uri; the broker relays it to every
// subscriber whose filter is a prefix of uri.
func (p *Publish) Publish(uri string, status wire.Status, body []byte) error {
	w := wire.NewWriter(p.protocol)
	if err := w.StartReport(uri, status, status.DefaultReason()); err != nil {
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
	p.debugf("published %s", uri)
	return nil
}

// Close stops the send loop, drops the underlying pipe, and stops
// listening for new connections.
func (p *Publish) Close() {
	p.sendLoop.Stop()
	p.socket.Drop(p.pipe)
	p.listener.Close()
	p.log.Printf("closed")
}
