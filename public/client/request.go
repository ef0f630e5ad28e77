// Package client provides the client-side communicator kinds a participant
// dials the broker with: Request (request/reply), Push (push/pull), and
// Subscribe (pub/sub).
package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telling-msg/telling/addr"
	"github.com/telling-msg/telling/internal/async"
	"github.com/telling-msg/telling/internal/lifelock"
	"github.com/telling-msg/telling/internal/transport"
	"github.com/telling-msg/telling/wire"
)

// queryIDHeader correlates a Request's outstanding calls with their
// replies on one persistent pipe. nng's req/rep sockets carry this
// correlation in the message backtrace automatically; telling's net.Conn
// based pipe has no such built-in mechanism, so Request stamps it into a
// header instead.
const queryIDHeader = "X-Query-Id"

// DefaultTimeout bounds how long Call waits for a reply when the caller's
// context carries no deadline of its own.
const DefaultTimeout = 30 * time.Second

// Request is the client side of the request/reply pattern: one pipe to the
// broker, a pool-free single send/recv loop pair, and query-id correlated
// futures for concurrently outstanding calls.
type Request struct {
	Debug bool
	log   *log.Logger

	pipe     *transport.Pipe
	socket   *transport.Socket
	sendLoop *async.SendLoop
	recvLoop *async.RecvLoop
	handler  *requestHandler
	protocol string
}

func (r *Request) debugf(format string, args ...interface{}) {
	if r.Debug {
		r.log.Printf(format, args...)
	}
}

type requestHandler struct {
	mu      sync.Mutex
	pending map[string]chan *wire.Message
}

func newRequestHandler() *requestHandler {
	return &requestHandler{pending: map[string]chan *wire.Message{}}
}

func (h *requestHandler) OnStart(tag async.Tag)           {}
func (h *requestHandler) OnPrepare(tag async.Tag, _ *[]byte) {}
func (h *requestHandler) OnSent(tag async.Tag)            {}
func (h *requestHandler) OnError(tag async.Tag, err error) {}

func (h *requestHandler) OnStop(tag async.Tag, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.pending {
		close(ch)
		delete(h.pending, id)
	}
}

func (h *requestHandler) OnRecv(tag async.Tag, raw []byte) {
	msg, err := wire.Parse(raw)
	if err != nil {
		return
	}
	qid := msg.Headers.Get(queryIDHeader)
	if qid == "" {
		return
	}
	h.mu.Lock()
	ch, ok := h.pending[qid]
	if ok {
		delete(h.pending, qid)
	}
	h.mu.Unlock()
	if ok {
		ch <- msg
	}
}

func (h *requestHandler) register(qid string) chan *wire.Message {
	ch := make(chan *wire.Message, 1)
	h.mu.Lock()
	h.pending[qid] = ch
	h.mu.Unlock()
	return ch
}

func (h *requestHandler) abandon(qid string) {
	h.mu.Lock()
	delete(h.pending, qid)
	h.mu.Unlock()
}

// DialRequest dials the broker's request/reply endpoint derived from base.
// Per-message tracing is gated by debug; the dial itself is always logged.
func DialRequest(ctx context.Context, socket *transport.Socket, base addr.Address, debug bool) (*Request, error) {
	pipe, err := socket.Dial(ctx, base, addr.ReqRep)
	if err != nil {
		return nil, err
	}

	h := newRequestHandler()
	sendWrapper := lifelock.NewWrapper[async.SendHandler](h)
	recvWrapper := lifelock.NewWrapper[async.RecvHandler](h)

	r := &Request{
		Debug:    debug,
		log:      newLogger("request"),
		pipe:     pipe,
		socket:   socket,
		handler:  h,
		protocol: wire.ProtoTelling,
		sendLoop: async.NewSendLoop(sendWrapper.Weak(), pipe, async.Tag{}),
		recvLoop: async.NewRecvLoop(recvWrapper.Weak(), pipe, async.Tag{}),
	}
	r.sendLoop.Start(ctx)
	r.recvLoop.Start(ctx)
	r.log.Printf("dialed %s", base)
	return r, nil
}

// Call sends a request and blocks for its matching reply, or until ctx is
// done. If ctx carries no deadline, DefaultTimeout applies.
func (r *Request) Call(ctx context.Context, method wire.Method, uri string, body []byte) (*wire.Message, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	qid := uuid.NewString()
	w := wire.NewWriter(r.protocol)
	if err := w.StartRequest(method, uri); err != nil {
		return nil, err
	}
	if err := w.WriteHeader(queryIDHeader, qid); err != nil {
		return nil, err
	}
	if err := w.WriteBody(body); err != nil {
		return nil, err
	}
	raw, err := w.Release()
	if err != nil {
		return nil, err
	}

	respCh := r.handler.register(qid)
	r.sendLoop.Submit(raw)
	r.debugf("call %s %s (query %s)", method, uri, qid)

	select {
	case msg, ok := <-respCh:
		if !ok {
			return nil, fmt.Errorf("telling/client: request communicator stopped before reply arrived")
		}
		r.debugf("reply for query %s: %s", qid, msg.Status)
		return msg, nil
	case <-ctx.Done():
		r.handler.abandon(qid)
		return nil, ctx.Err()
	}
}

// Close stops the send/recv loops and drops the underlying pipe.
func (r *Request) Close() {
	r.sendLoop.Stop()
	r.recvLoop.Stop()
	r.socket.Drop(r.pipe)
	r.log.Printf("closed")
}
