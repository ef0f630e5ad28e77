package broker

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// exteriorQueryIDHeader is the header a client.Request stamps on its
// outgoing calls; the broker echoes it back unchanged on the matching
// reply so the client can correlate concurrently outstanding calls on one
// pipe.
const exteriorQueryIDHeader = "X-Query-Id"

// Broker is the routing substrate: three listening sockets (request/reply
// for clients and enlisting services, push ingress, publish egress), a
// Router owning the URI-prefix trie, and a Registrar tracking which
// services are enlisted under which prefix (spec §3, §4).
type Broker struct {
	Debug bool
	log   *log.Logger

	reqSocket  *transport.Socket
	pushSocket *transport.Socket
	pubSocket  *transport.Socket

	// routerSocket is dedicated to the Router's interior dial-outs to
	// enlisted services; kept separate from reqSocket so a Route's
	// interior pipe events never reach onReqPipeEvent, which only
	// understands exterior client/registrar connections.
	routerSocket *transport.Socket

	reqListener  *transport.Listener
	pushListener *transport.Listener
	pubListener  *transport.Listener

	router    *Router
	registrar *Registrar

	mu    sync.Mutex
	conns map[uint32]*reqConn

	pushMu sync.Mutex
	pushes map[uint32]*pushConn

	subMu sync.Mutex
	subs  map[uint32]*subConn
}

// New returns a Broker ready to Open on a base address.
func New(debug bool) *Broker {
	return &Broker{
		Debug:  debug,
		log:    log.New(os.Stderr, "[telling:broker] ", log.LstdFlags),
		conns:  map[uint32]*reqConn{},
		pushes: map[uint32]*pushConn{},
		subs:   map[uint32]*subConn{},
	}
}

func (b *Broker) debugf(format string, args ...interface{}) {
	if b.Debug {
		b.log.Printf(format, args...)
	}
}

// Open starts listening on the three exterior endpoints derived from base
// and begins routing traffic. Teardown happens via Close.
func (b *Broker) Open(ctx context.Context, base addr.Address) error {
	b.reqSocket = transport.NewSocket()
	b.pushSocket = transport.NewSocket()
	b.pubSocket = transport.NewSocket()
	b.routerSocket = transport.NewSocket()

	b.router = NewRouter(ctx, b.routerSocket, b.fanOut)
	b.registrar = NewRegistrar(b.router)

	b.reqSocket.OnPipeEvent(func(ev transport.PipeEvent, p *transport.Pipe) {
		b.onReqPipeEvent(ctx, ev, p)
	})
	b.pushSocket.OnPipeEvent(func(ev transport.PipeEvent, p *transport.Pipe) {
		b.onPushPipeEvent(ctx, ev, p)
	})
	b.pubSocket.OnPipeEvent(func(ev transport.PipeEvent, p *transport.Pipe) {
		b.onPubPipeEvent(ctx, ev, p)
	})

	var err error
	b.reqListener, err = b.reqSocket.Listen(base, addr.ReqRep)
	if err != nil {
		return err
	}
	b.pushListener, err = b.pushSocket.Listen(base, addr.PushPull)
	if err != nil {
		b.reqListener.Close()
		return err
	}
	b.pubListener, err = b.pubSocket.Listen(base, addr.PubSub)
	if err != nil {
		b.reqListener.Close()
		b.pushListener.Close()
		return err
	}
	b.debugf("listening on %s", base)
	return nil
}

// Close stops accepting new connections, tears down every route enlisted
// through the registrar, stops the management goroutine, and stops every
// exterior connection's loops, which closes their pipes.
func (b *Broker) Close() {
	if b.reqListener != nil {
		b.reqListener.Close()
	}
	if b.pushListener != nil {
		b.pushListener.Close()
	}
	if b.pubListener != nil {
		b.pubListener.Close()
	}
	if b.router != nil {
		if b.registrar != nil {
			for _, prefix := range b.registrar.Entries() {
				b.router.Close(prefix)
			}
		}
		b.router.Shutdown()
	}

	b.mu.Lock()
	for _, c := range b.conns {
		c.sendLoop.Stop()
		c.recvLoop.Stop()
	}
	b.mu.Unlock()

	b.pushMu.Lock()
	for _, c := range b.pushes {
		c.recvLoop.Stop()
	}
	b.pushMu.Unlock()

	b.subMu.Lock()
	for _, s := range b.subs {
		s.sendLoop.Stop()
	}
	b.subMu.Unlock()
}

// reqConn is one accepted client/service connection on the exterior
// request/reply endpoint: every request arriving on it gets a reply sent
// back over the same pipe.
type reqConn struct {
	pipe     *transport.Pipe
	sendLoop *async.SendLoop
	recvLoop *async.RecvLoop
	handler  *reqConnHandler
}

type reqConnHandler struct {
	b        *Broker
	pipeID   uint32
	sendLoop *async.SendLoop
}

func (h *reqConnHandler) OnStart(async.Tag)           {}
func (h *reqConnHandler) OnStop(async.Tag, error)     {}
func (h *reqConnHandler) OnError(async.Tag, error)    {}
func (h *reqConnHandler) OnPrepare(async.Tag, *[]byte) {}
func (h *reqConnHandler) OnSent(async.Tag)             {}

func (h *reqConnHandler) OnRecv(tag async.Tag, raw []byte) {
	req, err := wire.Parse(raw)
	if err != nil {
		h.b.debugf("malformed request from pipe %d: %v", h.pipeID, err)
		return
	}

	queryID := req.Headers.Get(exteriorQueryIDHeader)

	if req.URI == servicesURI {
		reply := h.b.registrar.HandleEnlist(h.pipeID, req)
		h.sendReply(reply, queryID)
		if reply.Status == wire.StatusCreated || reply.Status == wire.StatusOK {
			h.b.publishServicesBulletin(wire.StatusCreated, req.Body)
		}
		return
	}

	route := h.b.router.Lookup(req.URI)
	if route == nil {
		h.sendReply(wire.NewReply(wire.StatusNotFound, []byte("no service registered for "+req.URI)), queryID)
		return
	}
	route.forwardRequest(req, func(reply *wire.Message) {
		h.sendReply(reply, queryID)
	})
}

// sendReply writes reply back to the caller on this connection, echoing
// its exterior X-Query-Id header (if any) so the caller's Request
// communicator can correlate it to the right outstanding Call.
func (h *reqConnHandler) sendReply(reply *wire.Message, queryID string) {
	w := wire.NewWriter(wire.ProtoTelling)
	if err := w.StartReply(reply.Status, reply.Status.DefaultReason()); err != nil {
		return
	}
	if queryID != "" {
		if err := w.WriteHeader(exteriorQueryIDHeader, queryID); err != nil {
			return
		}
	}
	if err := w.WriteBody(reply.Body); err != nil {
		return
	}
	raw, err := w.Release()
	if err != nil {
		return
	}
	h.sendLoop.Submit(raw)
}

func (b *Broker) onReqPipeEvent(ctx context.Context, ev transport.PipeEvent, p *transport.Pipe) {
	switch ev {
	case transport.PipeAddPost:
		h := &reqConnHandler{b: b, pipeID: p.ID()}
		sendWrapper := lifelock.NewWrapper[async.SendHandler](h)
		recvWrapper := lifelock.NewWrapper[async.RecvHandler](h)
		c := &reqConn{
			pipe:    p,
			handler: h,
		}
		c.sendLoop = async.NewSendLoop(sendWrapper.Weak(), p, async.Tag{})
		c.recvLoop = async.NewRecvLoop(recvWrapper.Weak(), p, async.Tag{})
		h.sendLoop = c.sendLoop
		c.sendLoop.Start(ctx)
		c.recvLoop.Start(ctx)

		b.mu.Lock()
		b.conns[p.ID()] = c
		b.mu.Unlock()

	case transport.PipeRemPost:
		b.mu.Lock()
		c, ok := b.conns[p.ID()]
		if ok {
			delete(b.conns, p.ID())
		}
		b.mu.Unlock()
		if ok {
			c.sendLoop.Stop()
			c.recvLoop.Stop()
		}

		if prefix, had := b.registrar.HandlePipeGone(p.ID()); had {
			b.publishServicesBulletin(wire.StatusGone, []byte(prefix))
		}
	}
}

// pushConnHandler relays incoming push messages to whichever route is
// registered for the message's URI.
type pushConnHandler struct {
	b *Broker
}

func (h *pushConnHandler) OnStart(async.Tag)           {}
func (h *pushConnHandler) OnStop(async.Tag, error)     {}
func (h *pushConnHandler) OnError(async.Tag, error)    {}
func (h *pushConnHandler) OnPrepare(async.Tag, *[]byte) {}
func (h *pushConnHandler) OnSent(async.Tag)             {}

func (h *pushConnHandler) OnRecv(tag async.Tag, raw []byte) {
	req, err := wire.Parse(raw)
	if err != nil {
		h.b.debugf("malformed push: %v", err)
		return
	}
	route := h.b.router.Lookup(req.URI)
	if route == nil {
		h.b.debugf("no route for push %s, dropping", req.URI)
		return
	}
	if err := route.forwardPush(req); err != nil {
		h.b.debugf("forwarding push to %s: %v", req.URI, err)
	}
}

type pushConn struct {
	recvLoop *async.RecvLoop
}

func (b *Broker) onPushPipeEvent(ctx context.Context, ev transport.PipeEvent, p *transport.Pipe) {
	switch ev {
	case transport.PipeAddPost:
		h := &pushConnHandler{b: b}
		wrapper := lifelock.NewWrapper[async.RecvHandler](h)
		loop := async.NewRecvLoop(wrapper.Weak(), p, async.Tag{})
		loop.Start(ctx)

		b.pushMu.Lock()
		b.pushes[p.ID()] = &pushConn{recvLoop: loop}
		b.pushMu.Unlock()

	case transport.PipeRemPost:
		b.pushMu.Lock()
		c, ok := b.pushes[p.ID()]
		if ok {
			delete(b.pushes, p.ID())
		}
		b.pushMu.Unlock()
		if ok {
			c.recvLoop.Stop()
		}
	}
}

// subConn is one connected exterior subscriber: a send-loop the broker
// pushes every published report into.
type subConn struct {
	sendLoop *async.SendLoop
}

type subConnHandler struct{}

func (subConnHandler) OnStart(async.Tag)           {}
func (subConnHandler) OnStop(async.Tag, error)     {}
func (subConnHandler) OnError(async.Tag, error)    {}
func (subConnHandler) OnPrepare(async.Tag, *[]byte) {}
func (subConnHandler) OnSent(async.Tag)             {}

func (b *Broker) onPubPipeEvent(ctx context.Context, ev transport.PipeEvent, p *transport.Pipe) {
	switch ev {
	case transport.PipeAddPost:
		wrapper := lifelock.NewWrapper[async.SendHandler](subConnHandler{})
		loop := async.NewSendLoop(wrapper.Weak(), p, async.Tag{})
		loop.Start(ctx)
		b.subMu.Lock()
		b.subs[p.ID()] = &subConn{sendLoop: loop}
		b.subMu.Unlock()

	case transport.PipeRemPost:
		b.subMu.Lock()
		s, ok := b.subs[p.ID()]
		if ok {
			delete(b.subs, p.ID())
		}
		b.subMu.Unlock()
		if ok {
			s.sendLoop.Stop()
		}
	}
}

// fanOut relays one interior publication to every connected exterior
// subscriber.
func (b *Broker) fanOut(msg *wire.Message) {
	w := wire.NewWriter(wire.ProtoTelling)
	if err := w.StartReport(msg.URI, msg.Status, msg.Status.DefaultReason()); err != nil {
		return
	}
	if err := w.WriteBody(msg.Body); err != nil {
		return
	}
	raw, err := w.Release()
	if err != nil {
		return
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()
	for _, s := range b.subs {
		s.sendLoop.Submit(raw)
	}
}

// publishServicesBulletin reports a *services topic Created/Gone event to
// every subscriber, the same way a service's own Publish.Publish does
// (spec §4.6).
func (b *Broker) publishServicesBulletin(status wire.Status, body []byte) {
	b.fanOut(&wire.Message{Kind: wire.Report, URI: servicesURI, Status: status, Body: body})
}
