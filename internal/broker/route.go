package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// interiorQueryIDHeader is the query id the broker itself assigns when it
// forwards a client's request into a Route, distinct from the exterior
// client's own X-Query-Id so many clients can share one interior
// connection to a service without id collisions.
const interiorQueryIDHeader = "X-Interior-Query-Id"

// Route is everything the broker holds for one enlisted service: the
// three dialed connections used to forward a request, a push, or a
// subscription to that service (spec §3, §4.7).
type Route struct {
	prefix string
	base   addr.Address

	reqPipe  *transport.Pipe
	pushPipe *transport.Pipe
	subPipe  *transport.Pipe

	reqSend *async.SendLoop
	reqRecv *async.RecvLoop
	pushSend *async.SendLoop
	subRecv *async.RecvLoop

	handler *routeHandler
}

// routeHandler correlates interior replies (from the enlisted service)
// back to whichever exterior pipe/query id is waiting on them, and hands
// interior publications to the broker's fan-out.
type routeHandler struct {
	mu      sync.Mutex
	pending map[string]pendingForward
	fanOut  func(msg *wire.Message)
}

// pendingForward is what the router needs to deliver a forwarded reply
// back to the exterior client that originally asked for it.
type pendingForward struct {
	reply func(msg *wire.Message)
}

func newRouteHandler(fanOut func(msg *wire.Message)) *routeHandler {
	return &routeHandler{pending: map[string]pendingForward{}, fanOut: fanOut}
}

func (h *routeHandler) OnStart(async.Tag)           {}
func (h *routeHandler) OnStop(async.Tag, error)     {}
func (h *routeHandler) OnError(async.Tag, error)    {}
func (h *routeHandler) OnPrepare(async.Tag, *[]byte) {}
func (h *routeHandler) OnSent(async.Tag)             {}

// onReqRecv handles a reply arriving from the enlisted service on the
// interior request/reply pipe.
func (h *routeHandler) onReqRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	qid := msg.Headers.Get(interiorQueryIDHeader)
	if qid == "" {
		return
	}
	h.mu.Lock()
	fwd, ok := h.pending[qid]
	if ok {
		delete(h.pending, qid)
	}
	h.mu.Unlock()
	if ok {
		fwd.reply(msg)
	}
}

// onSubRecv handles a publication arriving from the enlisted service on
// the interior subscribe pipe; the broker relays it to its own external
// subscribers.
func (h *routeHandler) onSubRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	h.fanOut(msg)
}

// openRoute dials an enlisted service's three listening endpoints (derived
// from its own base address) and starts the interior loops that forward
// traffic to it. Any dial failure aborts and closes what was already
// opened (spec §4.7 failure-model rollback).
func openRoute(ctx context.Context, socket *transport.Socket, prefix string, base addr.Address, fanOut func(msg *wire.Message)) (*Route, error) {
	reqPipe, err := socket.Dial(ctx, base, addr.ReqRep)
	if err != nil {
		return nil, fmt.Errorf("broker: dial req/rep route for %q: %w", prefix, err)
	}
	pushPipe, err := socket.Dial(ctx, base, addr.PushPull)
	if err != nil {
		socket.Drop(reqPipe)
		return nil, fmt.Errorf("broker: dial push route for %q: %w", prefix, err)
	}
	subPipe, err := socket.Dial(ctx, base, addr.PubSub)
	if err != nil {
		socket.Drop(reqPipe)
		socket.Drop(pushPipe)
		return nil, fmt.Errorf("broker: dial sub route for %q: %w", prefix, err)
	}

	h := newRouteHandler(fanOut)
	r := &Route{
		prefix:   prefix,
		base:     base,
		reqPipe:  reqPipe,
		pushPipe: pushPipe,
		subPipe:  subPipe,
		handler:  h,
	}

	reqSendWrapper := lifelock.NewWrapper[async.SendHandler](h)
	reqRecvWrapper := lifelock.NewWrapper[async.RecvHandler](routeRecvAdapter{h: h, kind: recvKindReq})
	pushSendWrapper := lifelock.NewWrapper[async.SendHandler](h)
	subRecvWrapper := lifelock.NewWrapper[async.RecvHandler](routeRecvAdapter{h: h, kind: recvKindSub})

	r.reqSend = async.NewSendLoop(reqSendWrapper.Weak(), reqPipe, async.Tag{})
	r.reqRecv = async.NewRecvLoop(reqRecvWrapper.Weak(), reqPipe, async.Tag{})
	r.pushSend = async.NewSendLoop(pushSendWrapper.Weak(), pushPipe, async.Tag{})
	r.subRecv = async.NewRecvLoop(subRecvWrapper.Weak(), subPipe, async.Tag{})

	r.reqSend.Start(ctx)
	r.reqRecv.Start(ctx)
	r.pushSend.Start(ctx)
	r.subRecv.Start(ctx)

	return r, nil
}

// recvKind distinguishes which of a route's two recv loops delivered a
// message, since both share the same handler's OnRecv-capable surface but
// must dispatch differently.
type recvKind int

const (
	recvKindReq recvKind = iota
	recvKindSub
)

// routeRecvAdapter implements async.RecvHandler, routing OnRecv to the
// correct routeHandler method for its loop.
type routeRecvAdapter struct {
	h    *routeHandler
	kind recvKind
}

func (a routeRecvAdapter) OnStart(tag async.Tag)            { a.h.OnStart(tag) }
func (a routeRecvAdapter) OnStop(tag async.Tag, err error)  { a.h.OnStop(tag, err) }
func (a routeRecvAdapter) OnError(tag async.Tag, err error) { a.h.OnError(tag, err) }

func (a routeRecvAdapter) OnRecv(tag async.Tag, msg []byte) {
	switch a.kind {
	case recvKindReq:
		a.h.onReqRecv(tag, msg)
	case recvKindSub:
		a.h.onSubRecv(tag, msg)
	}
}

// forwardRequest sends req to the enlisted service, invoking reply with
// the service's eventual response, or at once with a synthesized 500 when
// the forwarded request cannot be written. A send to the service that
// fails produces no reply; its pending entry stays in place.
func (r *Route) forwardRequest(req *wire.Message, reply func(msg *wire.Message)) {
	qid := uuid.NewString()
	w := wire.NewWriter(wire.ProtoTelling)
	if err := w.StartRequest(req.Method, req.URI); err != nil {
		reply(wire.NewReply(wire.StatusInternalServerError, []byte(err.Error())))
		return
	}
	if err := w.WriteHeader(interiorQueryIDHeader, qid); err != nil {
		reply(wire.NewReply(wire.StatusInternalServerError, []byte(err.Error())))
		return
	}
	if err := w.WriteBody(req.Body); err != nil {
		reply(wire.NewReply(wire.StatusInternalServerError, []byte(err.Error())))
		return
	}
	raw, err := w.Release()
	if err != nil {
		reply(wire.NewReply(wire.StatusInternalServerError, []byte(err.Error())))
		return
	}

	r.handler.mu.Lock()
	r.handler.pending[qid] = pendingForward{reply: reply}
	r.handler.mu.Unlock()

	r.reqSend.Submit(raw)
}

// forwardPush fires req at the enlisted service's pull endpoint with no
// reply expected.
func (r *Route) forwardPush(req *wire.Message) error {
	w := wire.NewWriter(wire.ProtoTelling)
	if err := w.StartRequest(req.Method, req.URI); err != nil {
		return err
	}
	if err := w.WriteBody(req.Body); err != nil {
		return err
	}
	raw, err := w.Release()
	if err != nil {
		return err
	}
	r.pushSend.Submit(raw)
	return nil
}

// close tears down every interior loop and pipe for this route.
func (r *Route) close(socket *transport.Socket) {
	r.reqSend.Stop()
	r.reqRecv.Stop()
	r.pushSend.Stop()
	r.subRecv.Stop()
	socket.Drop(r.reqPipe)
	socket.Drop(r.pushPipe)
	socket.Drop(r.subPipe)
}
