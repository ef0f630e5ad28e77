// Package service provides the service-side communicator kinds a
// registered service uses to talk to the broker: Reply (request/reply),
// Pull (push/pull), and Publish (pub/sub).
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

// queryIDHeader mirrors the broker's interior correlation header (see
// internal/broker/route.go's interiorQueryIDHeader): the broker stamps it
// on every request it forwards here, and Respond echoes it back unchanged
// so the broker's route can hand the response to the exterior caller that
// is actually waiting on it. The broker does not pass on the X-Query-Id a
// client.Request stamps on its own outgoing calls; when a client.Request
// talks to a Reply directly, that header arrives instead and Respond
// echoes it as well.
const queryIDHeader = "X-Interior-Query-Id"

// Reply is the service side of request/reply: it receives requests from
// the broker's route to this service and, independently, sends matching responses,
// potentially out of arrival order since a handler may take longer on one
// request than another received after it.
type Reply struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	listener *transport.Listener
	sendLoop *async.SendLoop
	recvLoop *async.RecvLoop
	handler  *replyHandler
	protocol string
}

func (r *Reply) debugf(format string, args ...interface{}) {
	if r.Debug {
		r.log.Printf(format, args...)
	}
}

type replyHandler struct {
	inbox chan *wire.Message
}

func newReplyHandler() *replyHandler {
	return &replyHandler{inbox: make(chan *wire.Message, 64)}
}

func (h *replyHandler) OnStart(async.Tag)              {}
func (h *replyHandler) OnStop(async.Tag, error)        {}
func (h *replyHandler) OnError(async.Tag, error)       {}
func (h *replyHandler) OnPrepare(async.Tag, *[]byte)   {}
func (h *replyHandler) OnSent(async.Tag)               {}

func (h *replyHandler) OnRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	h.inbox <- msg
}

// DialReply listens at the request/reply endpoint derived from base and
// blocks until the broker's route to this service dials in, registering as the
// service side of that route.
func DialReply(ctx context.Context, base addr.Address, debug bool) (*Reply, error) {
	socket, ln, pipe, err := listenAndAcceptOne(ctx, base, addr.ReqRep)
	if err != nil {
		return nil, err
	}
	h := newReplyHandler()
	sendWrapper := lifelock.NewWrapper[async.SendHandler](h)
	recvWrapper := lifelock.NewWrapper[async.RecvHandler](h)

	r := &Reply{
		Debug:    debug,
		log:      newLogger("reply"),
		pipe:     pipe,
		socket:   socket,
		listener: ln,
		handler:  h,
		protocol: wire.ProtoTelling,
		sendLoop: async.NewSendLoop(sendWrapper.Weak(), pipe, async.Tag{}),
		recvLoop: async.NewRecvLoop(recvWrapper.Weak(), pipe, async.Tag{}),
	}
	r.sendLoop.Start(ctx)
	r.recvLoop.Start(ctx)
	r.log.Printf("adopted pipe from %s", base)
	return r, nil
}

// Receive blocks until the next request arrives, or ctx is done.
func (r *Reply) Receive(ctx context.Context) (*wire.Message, error) {
	select {
	case msg := <-r.handler.inbox:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond sends status/body back for the request identified by req (the
// *wire.Message previously returned by Receive), echoing its query id
// header so the reply can be matched to the original caller.
func (r *Reply) Respond(req *wire.Message, status wire.Status, body []byte) error {
	return r.respond(req, status, body, nil)
}

// RespondAllow is Respond plus an Allow header listing methods, for the
// 501 Not Implemented replies a Reactor sends when a URI has no handler
// for the request's method (spec §4.9).
func (r *Reply) RespondAllow(req *wire.Message, status wire.Status, body []byte, allow []wire.Method) error {
	return r.respond(req, status, body, allow)
}

func (r *Reply) respond(req *wire.Message, status wire.Status, body []byte, allow []wire.Method) error {
	w := wire.NewWriter(r.protocol)
	reason := status.DefaultReason()
	if err := w.StartReply(status, reason); err != nil {
		return err
	}
	if qid := req.Headers.Get(queryIDHeader); qid != "" {
		if err := w.WriteHeader(queryIDHeader, qid); err != nil {
			return err
		}
	}
	const exteriorQueryIDHeader = "X-Query-Id"
	if qid := req.Headers.Get(exteriorQueryIDHeader); qid != "" {
		if err := w.WriteHeader(exteriorQueryIDHeader, qid); err != nil {
			return err
		}
	}
	if len(allow) > 0 {
		if err := w.WriteHeaderAllow(allow); err != nil {
			return err
		}
	}
	if err := w.WriteBody(body); err != nil {
		return err
	}
	raw, err := w.Release()
	if err != nil {
		return err
	}
	r.sendLoop.Submit(raw)
	r.debugf("replied %s", status)
	return nil
}

// Close stops the send/recv loops, drops the underlying pipe, and stops
// listening for new connections.
func (r *Reply) Close() {
	r.sendLoop.Stop()
	r.recvLoop.Stop()
	r.socket.Drop(r.pipe)
	r.listener.Close()
	r.log.Printf("closed")
}
